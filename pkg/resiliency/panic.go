/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"fmt"
	"runtime/debug"

	"github.com/go-logr/logr"
)

// PanicError is a recovered panic value, with the call stack captured at the point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (pe *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", pe.Value)
}

// Unwrap returns the panic value if it is an error.
func (pe *PanicError) Unwrap() error {
	if err, isErr := pe.Value.(error); isErr {
		return err
	}
	return nil
}

// MakePanicError converts a value returned by recover() to an error and logs it, along with the call stack.
// Returns nil if there was no panic, so it is safe to call from a deferred function unconditionally.
func MakePanicError(panicVal any, log logr.Logger) error {
	if panicVal == nil {
		return nil
	}

	panicErr := &PanicError{Value: panicVal, Stack: debug.Stack()}
	log.Error(panicErr, "A goroutine ended prematurely due to panic", "Stack", string(panicErr.Stack))
	return panicErr
}
