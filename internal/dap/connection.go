/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/microsoft/dapclient/pkg/resiliency"
)

// Verbosity at which every message exchanged with the adapter is logged.
const messageTraceVerbosity = 2

// messageHandler processes messages initiated by the adapter.
// Handlers run on the connection worker queue, never on the read loop,
// so they can make requests to the adapter.
type messageHandler interface {
	handleEvent(ctx context.Context, msg dap.Message)
	handleReverseRequest(ctx context.Context, msg dap.Message)
}

type connectionConfig struct {
	requestTimeout    time.Duration
	workerConcurrency uint8
	log               logr.Logger

	// Called (once) when the adapter closes the connection, or the connection fails.
	// Not called when the connection is closed via close().
	onLost func(err error)
}

// connection multiplexes requests, responses, events and reverse requests over a single transport.
type connection struct {
	transport      Transport
	handler        messageHandler
	inflight       *inflightRequests
	workers        *resiliency.WorkQueue
	requestTimeout time.Duration
	log            logr.Logger
	onLost         func(err error)

	// Serializes sequence number assignment with writes, so messages reach the adapter in sequence order.
	writeLock *sync.Mutex

	lifetimeCtx context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	done        chan struct{}
}

func newConnection(parentCtx context.Context, transport Transport, handler messageHandler, cfg connectionConfig) *connection {
	lifetimeCtx, cancel := context.WithCancel(parentCtx)

	return &connection{
		transport:      transport,
		handler:        handler,
		inflight:       newInflightRequests(),
		workers:        resiliency.NewWorkQueueWithLog(lifetimeCtx, cfg.workerConcurrency, cfg.log),
		requestTimeout: cfg.requestTimeout,
		log:            cfg.log,
		onLost:         cfg.onLost,
		writeLock:      &sync.Mutex{},
		lifetimeCtx:    lifetimeCtx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

func (c *connection) start() {
	go c.readLoop()
}

// Done returns a channel that is closed when the read loop has exited.
func (c *connection) Done() <-chan struct{} {
	return c.done
}

func (c *connection) readLoop() {
	var lostErr error
	lost := false

	defer func() {
		c.inflight.abandonAll()
		close(c.done)
		if lost && c.onLost != nil {
			c.onLost(lostErr)
		}
	}()

	for {
		msg, readErr := c.transport.ReadMessage()
		if readErr != nil {
			if errors.Is(readErr, ErrMalformedMessage) {
				c.log.Error(readErr, "Ignoring malformed message from debug adapter")
				continue
			}

			if c.lifetimeCtx.Err() != nil || errors.Is(readErr, ErrTransportClosed) {
				c.log.V(1).Info("Read loop stopped", "Error", filterContextError(readErr, c.lifetimeCtx, c.log))
				return
			}

			c.log.Info("Debug adapter connection lost", "Error", readErr.Error())
			lost = true
			lostErr = readErr
			c.cancel()
			return
		}

		c.dispatch(msg)
	}
}

func (c *connection) dispatch(msg dap.Message) {
	if traceLog := c.log.V(messageTraceVerbosity); traceLog.Enabled() {
		traceLog.Info("Received message", "Message", msg)
	}

	switch m := msg.(type) {
	case *RawMessage:
		switch m.Type {
		case messageTypeResponse:
			c.deliverResponse(m.RequestSeq, m)
		case messageTypeEvent:
			c.enqueue(func(ctx context.Context) { c.handler.handleEvent(ctx, m) })
		case messageTypeRequest:
			c.enqueue(func(ctx context.Context) { c.handler.handleReverseRequest(ctx, m) })
		default:
			c.log.V(1).Info("Ignoring message of unknown type", "Type", m.Type, "Seq", m.Seq)
		}

	case dap.ResponseMessage:
		c.deliverResponse(m.GetResponse().RequestSeq, m)

	case dap.EventMessage:
		c.enqueue(func(ctx context.Context) { c.handler.handleEvent(ctx, m) })

	case dap.RequestMessage:
		c.enqueue(func(ctx context.Context) { c.handler.handleReverseRequest(ctx, m) })

	default:
		c.log.V(1).Info("Ignoring unexpected message", "Type", fmt.Sprintf("%T", msg))
	}
}

func (c *connection) deliverResponse(requestSeq int, msg dap.Message) {
	pr := c.inflight.take(requestSeq)
	if pr == nil {
		c.log.V(1).Info("Received response for unknown (or abandoned) request", "RequestSeq", requestSeq)
		return
	}
	pr.responseChan <- msg
}

func (c *connection) enqueue(work resiliency.WorkQueueItem) {
	if enqueueErr := c.workers.Enqueue(work); enqueueErr != nil {
		c.log.V(1).Info("Dropping adapter message, connection is closing")
	}
}

// send writes the request to the adapter and waits for the response.
// Error responses are returned as *RequestError.
func (c *connection) send(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	r := req.GetRequest()

	c.writeLock.Lock()
	seq, pr, tracked := c.inflight.track(r.Command)
	if !tracked {
		c.writeLock.Unlock()
		return nil, fmt.Errorf("cannot send '%s' request: %w", r.Command, ErrConnectionClosed)
	}
	r.Seq = seq
	r.Type = messageTypeRequest
	writeErr := c.transport.WriteMessage(req)
	c.writeLock.Unlock()

	if writeErr != nil {
		c.inflight.take(r.Seq)
		if errors.Is(writeErr, ErrTransportClosed) {
			return nil, fmt.Errorf("cannot send '%s' request: %w", r.Command, ErrConnectionClosed)
		}
		return nil, fmt.Errorf("failed to send '%s' request: %w", r.Command, writeErr)
	}

	c.log.V(1).Info("Sent request", "Command", r.Command, "Seq", r.Seq)
	c.log.V(messageTraceVerbosity).Info("Sent message", "Message", req)

	var timeoutCh <-chan time.Time
	if c.requestTimeout > 0 {
		timer := time.NewTimer(c.requestTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp, isOpen := <-pr.responseChan:
		if !isOpen {
			return nil, fmt.Errorf("no response to '%s' request: %w", r.Command, ErrConnectionClosed)
		}
		if errResp, isErrResp := resp.(*errorResponse); isErrResp {
			return nil, errResp.toError()
		}
		if rm, isResp := resp.(dap.ResponseMessage); isResp && !rm.GetResponse().Success {
			return nil, &RequestError{Command: r.Command, Message: rm.GetResponse().Message}
		}
		return resp, nil

	case <-ctx.Done():
		c.inflight.take(r.Seq)
		return nil, ctx.Err()

	case <-timeoutCh:
		c.inflight.take(r.Seq)
		return nil, fmt.Errorf("'%s' request (seq %d): %w", r.Command, r.Seq, ErrRequestTimeout)
	}
}

// reply sends a response to a reverse request.
func (c *connection) reply(resp dap.ResponseMessage) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	r := resp.GetResponse()
	r.Seq = c.inflight.nextSeq()
	r.Type = messageTypeResponse

	if writeErr := c.transport.WriteMessage(resp); writeErr != nil {
		return fmt.Errorf("failed to send response to '%s' request: %w", r.Command, writeErr)
	}
	return nil
}

// close cancels the read loop and the worker queue, and closes the transport.
// It does not wait for the read loop to exit.
func (c *connection) close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.cancel()
		closeErr = filterContextError(c.transport.Close(), c.lifetimeCtx, c.log)
	})
	return closeErr
}
