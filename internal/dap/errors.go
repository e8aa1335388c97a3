/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
)

var (
	// ErrNotConnected is returned when a request is made before a transport is connected.
	ErrNotConnected = errors.New("debug adapter is not connected")

	// ErrConnectionClosed is returned for requests that were pending when the connection went away.
	ErrConnectionClosed = errors.New("debug adapter connection closed")

	// ErrRequestTimeout is returned when a request times out waiting for a response.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrInitializedTimeout is returned when the adapter does not send the initialized event in time.
	ErrInitializedTimeout = errors.New("timed out waiting for the initialized event")

	// ErrHandshakeFailed wraps any non-cancellation failure of the session handshake.
	ErrHandshakeFailed = errors.New("debug session handshake failed")

	// ErrSessionDisposed is returned when attempting to use a disposed session.
	ErrSessionDisposed = errors.New("debug session disposed")

	// ErrAlreadyConnected is returned when connecting a client that already has a transport.
	ErrAlreadyConnected = errors.New("debug adapter is already connected")

	// ErrUnexpectedResponse is returned when the adapter answers a request with a response of the wrong type.
	ErrUnexpectedResponse = errors.New("unexpected response type")
)

// Message sent by adapters in the error response to a cancelled request.
const cancelledResponseMessage = "cancelled"

// RequestError is returned when the debug adapter answers a request with an error response.
type RequestError struct {
	Command string
	Message string

	// Structured error information, if provided by the adapter.
	Details *dap.ErrorMessage
}

func (e *RequestError) Error() string {
	switch {
	case e.Details != nil && e.Details.Format != "":
		return fmt.Sprintf("'%s' request failed: %s", e.Command, formatErrorMessage(e.Details))
	case e.Message != "":
		return fmt.Sprintf("'%s' request failed: %s", e.Command, e.Message)
	default:
		return fmt.Sprintf("'%s' request failed", e.Command)
	}
}

// formatErrorMessage substitutes {name} placeholders in the message format with variable values.
func formatErrorMessage(msg *dap.ErrorMessage) string {
	text := msg.Format
	for name, value := range msg.Variables {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	return text
}

// IsConnectionError returns true if the error indicates the adapter connection is not usable.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrSessionDisposed)
}

// IsCancellation returns true if the error is the result of a cancelled operation,
// either cancelled locally or reported as cancelled by the adapter.
func IsCancellation(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}

	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Message == cancelledResponseMessage
}

// filterContextError filters out redundant context errors during shutdown.
// If the error is a context.Canceled or context.DeadlineExceeded and the
// context is already done, the error is logged at debug level and nil is returned.
// Errors from a process killed due to context cancellation ("signal: killed") are filtered too.
// Otherwise, the original error is returned unchanged.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.V(1).Info("Filtering redundant context error", "error", err)
			return nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Error(), "signal: killed") {
			log.V(1).Info("Filtering process killed error on context cancellation", "error", err)
			return nil
		}
	}

	return err
}
