/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"math"
	"runtime"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"
)

// DefaultConcurrency means "as many workers as there are CPUs".
const DefaultConcurrency uint8 = 0

type WorkQueueItem = func(ctx context.Context)

// WorkQueue runs work items on a bounded number of goroutines.
// Enqueue never blocks on a busy queue; pending items are buffered without bound.
// With concurrency of 1 the items run one at a time, in the order they were enqueued.
//
// The queue stops when its lifetime context is done. Items that have not started by then are dropped.
type WorkQueue struct {
	pending     *chanx.UnboundedChan[WorkQueueItem]
	slots       chan struct{}
	lifetimeCtx context.Context
	log         logr.Logger
}

func NewWorkQueue(lifetimeCtx context.Context, maxConcurrency uint8) *WorkQueue {
	return NewWorkQueueWithLog(lifetimeCtx, maxConcurrency, logr.Discard())
}

// NewWorkQueueWithLog creates a work queue that reports panicking work items to the passed logger.
func NewWorkQueueWithLog(lifetimeCtx context.Context, maxConcurrency uint8, log logr.Logger) *WorkQueue {
	if maxConcurrency == DefaultConcurrency {
		maxConcurrency = cpuConcurrency()
	}

	wq := &WorkQueue{
		pending:     chanx.NewUnboundedChan[WorkQueueItem](lifetimeCtx, int(maxConcurrency)),
		slots:       make(chan struct{}, maxConcurrency),
		lifetimeCtx: lifetimeCtx,
		log:         log,
	}
	go wq.dispatch()
	return wq
}

// Enqueue adds the work item to the queue.
// Returns the lifetime context error if the queue is stopped.
func (wq *WorkQueue) Enqueue(work WorkQueueItem) error {
	if err := wq.lifetimeCtx.Err(); err != nil {
		return err
	}

	select {
	case wq.pending.In <- work:
		return nil
	case <-wq.lifetimeCtx.Done():
		return wq.lifetimeCtx.Err()
	}
}

// Len returns the number of work items that have been enqueued but not started yet.
func (wq *WorkQueue) Len() int {
	return wq.pending.Len()
}

func (wq *WorkQueue) dispatch() {
	for {
		work, ok := wq.next()
		if !ok {
			return
		}

		// Acquire a worker slot; blocks while all workers are busy.
		select {
		case wq.slots <- struct{}{}:
		case <-wq.lifetimeCtx.Done():
			return
		}
		if wq.lifetimeCtx.Err() != nil {
			return
		}

		go wq.run(work)
	}
}

func (wq *WorkQueue) next() (WorkQueueItem, bool) {
	select {
	case work, isOpen := <-wq.pending.Out:
		return work, isOpen
	case <-wq.lifetimeCtx.Done():
		return nil, false
	}
}

func (wq *WorkQueue) run(work WorkQueueItem) {
	defer func() { <-wq.slots }()
	defer func() {
		_ = MakePanicError(recover(), wq.log)
	}()

	work(wq.lifetimeCtx)
}

func cpuConcurrency() uint8 {
	return uint8(min(runtime.NumCPU(), math.MaxUint8))
}
