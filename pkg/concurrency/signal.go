/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package concurrency

import (
	"context"
	"sync"
)

// Signal is a one-shot completion carrying a value.
// Any number of goroutines can wait for it; only the first Complete() call has an effect.
type Signal[T any] struct {
	lock  *sync.Mutex
	done  chan struct{}
	set   bool
	value T
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{
		lock: &sync.Mutex{},
		done: make(chan struct{}),
	}
}

// Complete sets the signal value and releases all waiters.
// Returns false if the signal was already completed (the passed value is discarded in that case).
func (s *Signal[T]) Complete(val T) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.set {
		return false
	}

	s.set = true
	s.value = val
	close(s.done)
	return true
}

// Returns the channel that will be closed when the signal is completed.
func (s *Signal[T]) Done() <-chan struct{} {
	return s.done
}

// Returns true if the signal has been completed.
func (s *Signal[T]) IsSet() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.set
}

// Value returns the signal value without blocking.
// The second result is false if the signal has not been completed yet.
func (s *Signal[T]) Value() (T, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.value, s.set
}

// Wait blocks until the signal is completed or the context is done.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		// Channel read establishes happens-before relationship for value read.
		return s.value, nil
	case <-ctx.Done():
		return *new(T), ctx.Err()
	}
}

// WaitAll blocks until all passed signals are done or the context is done.
func WaitAll(ctx context.Context, signals ...interface{ Done() <-chan struct{} }) error {
	for _, s := range signals {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
