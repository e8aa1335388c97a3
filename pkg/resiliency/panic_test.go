/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency_test

import (
	"errors"
	"io"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/dapclient/pkg/resiliency"
)

func TestMakePanicErrorWithoutPanic(t *testing.T) {
	t.Parallel()

	require.NoError(t, resiliency.MakePanicError(nil, logr.Discard()))
}

func TestMakePanicErrorCapturesValueAndStack(t *testing.T) {
	t.Parallel()

	var err error
	func() {
		defer func() {
			err = resiliency.MakePanicError(recover(), logr.Discard())
		}()
		panic("transport exploded")
	}()

	require.Error(t, err)
	require.Equal(t, "panic: transport exploded", err.Error())

	var panicErr *resiliency.PanicError
	require.True(t, errors.As(err, &panicErr))
	require.Equal(t, "transport exploded", panicErr.Value)
	require.NotEmpty(t, panicErr.Stack)
	require.Nil(t, errors.Unwrap(err))
}

func TestMakePanicErrorUnwrapsErrorValues(t *testing.T) {
	t.Parallel()

	err := resiliency.MakePanicError(io.ErrClosedPipe, logr.Discard())
	require.ErrorIs(t, err, io.ErrClosedPipe)
}
