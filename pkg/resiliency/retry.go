/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
)

// RetryGetWithBackoff calls the factory function until it succeeds, the back-off gives up,
// or the context is done. Errors wrapped with Permanent() stop the retries immediately.
//
// If the context ends the retries, the returned error carries both the context error
// and the error from the last attempt, so the caller can tell what it was waiting for.
func RetryGetWithBackoff[T any](ctx context.Context, b backoff.BackOff, factory func() (T, error)) (T, error) {
	var lastAttemptErr error
	attempt := func() (T, error) {
		val, attemptErr := factory()
		if attemptErr != nil {
			lastAttemptErr = attemptErr
		}
		return val, attemptErr
	}

	retval, err := backoff.RetryWithData(attempt, backoff.WithContext(b, ctx))
	if err == nil {
		return retval, nil
	}

	var zero T
	if ctx.Err() != nil && lastAttemptErr != nil {
		return zero, errors.Join(lastAttemptErr, err)
	}
	return zero, err
}

// Permanent wraps an error so that retries stop immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
