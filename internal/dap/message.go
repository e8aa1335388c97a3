// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"sync"

	"github.com/google/go-dap"
)

// pendingRequest is a request sent to the adapter that has not been answered yet.
type pendingRequest struct {
	command string

	// Buffered, so the read loop never blocks on a caller that gave up waiting.
	// Closed without a value when the connection goes away.
	responseChan chan dap.Message
}

// inflightRequests assigns sequence numbers to outgoing messages
// and matches responses with the requests they answer.
type inflightRequests struct {
	lock    *sync.Mutex
	lastSeq int
	bySeq   map[int]*pendingRequest

	// Set once the connection is gone; no new requests are accepted afterwards.
	abandoned bool
}

func newInflightRequests() *inflightRequests {
	return &inflightRequests{
		lock:  &sync.Mutex{},
		bySeq: map[int]*pendingRequest{},
	}
}

// nextSeq allocates a sequence number for a message that does not expect a response.
func (ir *inflightRequests) nextSeq() int {
	ir.lock.Lock()
	defer ir.lock.Unlock()
	ir.lastSeq++
	return ir.lastSeq
}

// track allocates a sequence number for a request and starts waiting for its response.
// The last result is false if the connection is gone.
func (ir *inflightRequests) track(command string) (int, *pendingRequest, bool) {
	ir.lock.Lock()
	defer ir.lock.Unlock()

	if ir.abandoned {
		return 0, nil, false
	}

	ir.lastSeq++
	pr := &pendingRequest{command: command, responseChan: make(chan dap.Message, 1)}
	ir.bySeq[ir.lastSeq] = pr
	return ir.lastSeq, pr, true
}

// take stops tracking the request with given sequence number and returns it.
// Returns nil if the request is unknown, or was already answered or abandoned.
func (ir *inflightRequests) take(seq int) *pendingRequest {
	ir.lock.Lock()
	defer ir.lock.Unlock()

	pr, found := ir.bySeq[seq]
	if found {
		delete(ir.bySeq, seq)
	}
	return pr
}

// abandonAll releases everybody waiting for a response.
func (ir *inflightRequests) abandonAll() {
	ir.lock.Lock()
	defer ir.lock.Unlock()

	for seq, pr := range ir.bySeq {
		close(pr.responseChan)
		delete(ir.bySeq, seq)
	}
	ir.abandoned = true
}
