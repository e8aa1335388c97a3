/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/dapclient/pkg/resiliency"
	"github.com/microsoft/dapclient/pkg/testutil"
)

func TestRetryGetSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	attempts := 0
	v, err := resiliency.RetryGetWithBackoff(ctx, backoff.NewConstantBackOff(time.Millisecond), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 3, attempts)
}

func TestRetryGetStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	attempts := 0
	permanentErr := errors.New("bad address")
	_, err := resiliency.RetryGetWithBackoff(ctx, backoff.NewConstantBackOff(time.Millisecond), func() (int, error) {
		attempts++
		return 0, resiliency.Permanent(permanentErr)
	})

	require.ErrorIs(t, err, permanentErr)
	require.Equal(t, 1, attempts)
}

func TestRetryGetReportsLastAttemptErrorOnTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attemptErr := errors.New("connection refused")
	_, err := resiliency.RetryGetWithBackoff(ctx, backoff.NewConstantBackOff(5*time.Millisecond), func() (int, error) {
		return 0, attemptErr
	})

	require.Error(t, err)
	require.ErrorIs(t, err, attemptErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
