/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"
)

const contextTimeoutOverrideVar = "TEST_CONTEXT_TIMEOUT"

// GetTestContext returns a context that expires with the test, or after the passed timeout, whichever comes first.
// Zero timeout means the test deadline only.
// Setting TEST_CONTEXT_TIMEOUT (minutes) overrides both, which is useful when stepping through tests in a debugger.
func GetTestContext(t *testing.T, testTimeout time.Duration) (context.Context, context.CancelFunc) {
	if override, found := os.LookupEnv(contextTimeoutOverrideVar); found {
		minutes, parseErr := strconv.ParseUint(override, 10, 16)
		if parseErr != nil {
			panic(fmt.Sprintf("%s value '%s' is invalid: %s", contextTimeoutOverrideVar, override, parseErr.Error()))
		}
		return context.WithTimeout(context.Background(), time.Duration(minutes)*time.Minute)
	}

	var deadline time.Time
	if testTimeout > 0 {
		deadline = time.Now().Add(testTimeout)
	}
	if testDeadline, haveDeadline := t.Deadline(); haveDeadline && (deadline.IsZero() || testDeadline.Before(deadline)) {
		deadline = testDeadline
	}

	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}

// WaitFor polls the condition until it returns true or the context is done.
func WaitFor(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
