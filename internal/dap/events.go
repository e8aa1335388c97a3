/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"fmt"

	"github.com/google/go-dap"

	"github.com/microsoft/dapclient/pkg/resiliency"
)

func (c *Client) handleEvent(ctx context.Context, msg dap.Message) {
	switch event := msg.(type) {
	case *dap.InitializedEvent:
		if !c.initializedReceived.Complete(struct{}{}) {
			c.log.V(1).Info("Ignoring duplicate initialized event")
		}

	case *dap.StoppedEvent:
		c.handleStopped(ctx, event.Body)

	case *dap.ContinuedEvent:
		c.clearSuspendContext()

	case *dap.OutputEvent:
		c.output(OutputCategoryFromEvent(event.Body.Category), event.Body.Output)

	case *dap.ProcessEvent:
		c.log.Info("Debuggee process started",
			"Name", event.Body.Name,
			"PID", event.Body.SystemProcessId,
			"StartMethod", event.Body.StartMethod,
		)
		c.session.setProcess(event.Body)

	case *dap.ExitedEvent:
		c.log.Info("Debuggee exited", "ExitCode", event.Body.ExitCode)
		c.session.setExitCode(event.Body.ExitCode)

	case *dap.TerminatedEvent:
		c.handleTerminated()

	case *dap.CapabilitiesEvent:
		c.log.V(1).Info("Ignoring capabilities event, adapter capabilities cannot change after initialization")

	case *RawMessage:
		c.log.V(1).Info("Ignoring unknown event", "Event", event.Event)

	default:
		c.log.V(1).Info("Ignoring event", "Type", fmt.Sprintf("%T", msg))
	}
}

// handleStopped captures the stack of the stopped thread and reports the stop to the session sink.
func (c *Client) handleStopped(ctx context.Context, body dap.StoppedEventBody) {
	stack, stackErr := c.captureStack(ctx, body.ThreadId)
	if stackErr != nil {
		if IsCancellation(stackErr) || IsConnectionError(stackErr) {
			c.log.V(1).Info("Could not capture execution stack, session is going away", "ThreadID", body.ThreadId)
		} else {
			c.log.Error(stackErr, "Could not capture execution stack", "ThreadID", body.ThreadId)
		}
		return
	}

	suspendContext := c.attachSuspendContext(body.Reason)
	suspendContext.addStack(stack)

	var breakpoint *dap.Breakpoint
	if top := stack.TopFrame(); top != nil && c.config.Breakpoints != nil {
		breakpoint = c.config.Breakpoints.FindBreakpoint(top)
	}

	if c.config.Sink == nil {
		return
	}
	if breakpoint != nil {
		c.config.Sink.BreakpointReached(breakpoint, suspendContext)
	} else {
		c.config.Sink.PositionReached(suspendContext)
	}
}

func (c *Client) captureStack(ctx context.Context, threadID int) (*ExecutionStack, error) {
	threads, threadsErr := c.Threads(ctx)
	if threadsErr != nil {
		return nil, threadsErr
	}

	thread, found := findThread(threads, threadID)
	if !found {
		c.log.V(1).Info("Stopped thread is not reported by the adapter", "ThreadID", threadID)
	}

	frames, framesErr := c.StackTrace(ctx, thread.Id)
	if framesErr != nil {
		return nil, framesErr
	}

	return newExecutionStack(thread, frames), nil
}

// findThread returns the thread with given ID.
// Thread ID 0 (not set) means the first thread. If there is no match, a placeholder thread is returned.
func findThread(threads []dap.Thread, threadID int) (dap.Thread, bool) {
	if threadID == 0 && len(threads) > 0 {
		return threads[0], true
	}
	for _, t := range threads {
		if t.Id == threadID {
			return t, true
		}
	}
	return dap.Thread{Id: threadID}, false
}

func (c *Client) handleTerminated() {
	c.terminatedOnce.Do(func() {
		c.log.Info("Debug adapter reported that the debuggee has terminated")

		if c.config.Listener != nil {
			defer func() {
				_ = resiliency.MakePanicError(recover(), c.log)
			}()
			c.config.Listener.Stop()
			return
		}

		// End() waits for a response, which must not hold up the event worker.
		go func() {
			endCtx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
			defer cancel()
			if endErr := c.End(endCtx); endErr != nil {
				c.log.V(1).Info("Ending session after terminated event failed", "Error", endErr.Error())
			}
		}()
	})
}

func (c *Client) handleReverseRequest(ctx context.Context, msg dap.Message) {
	switch req := msg.(type) {
	case *StartDebuggingRequest:
		c.handleStartDebugging(ctx, req)

	case *RawMessage:
		c.rejectReverseRequest(&dap.Request{
			ProtocolMessage: req.ProtocolMessage,
			Command:         req.Command,
		})

	case dap.RequestMessage:
		c.rejectReverseRequest(req.GetRequest())

	default:
		c.log.V(1).Info("Ignoring unexpected reverse request", "Type", fmt.Sprintf("%T", msg))
	}
}

func (c *Client) rejectReverseRequest(req *dap.Request) {
	c.log.Info("Rejecting unsupported reverse request", "Command", req.Command)
	c.replyToAdapter(newErrorResponse(req, fmt.Sprintf("'%s' request is not supported", req.Command)))
}

func (c *Client) replyToAdapter(resp dap.ResponseMessage) {
	conn := c.connection()
	if conn == nil {
		return
	}
	if replyErr := conn.reply(resp); replyErr != nil {
		c.log.Error(replyErr, "Could not reply to debug adapter request", "Command", resp.GetResponse().Command)
	}
}

// handleStartDebugging creates a child session for the configuration sent by the adapter.
// The child runs its own handshake, bounded by the lifetime of this client.
func (c *Client) handleStartDebugging(ctx context.Context, req *StartDebuggingRequest) {
	if req.decodeErr != nil {
		c.log.Error(req.decodeErr, "Rejecting malformed startDebugging request")
		c.replyToAdapter(newErrorResponse(&req.Request, req.decodeErr.Error()))
		return
	}
	kind := SessionKind(req.Arguments.Request)
	if !kind.IsValid() {
		c.replyToAdapter(newErrorResponse(&req.Request, fmt.Sprintf("invalid startDebugging request kind '%s'", req.Arguments.Request)))
		return
	}
	if c.config.Factory == nil {
		c.rejectReverseRequest(&req.Request)
		return
	}

	child, transport, childErr := c.config.Factory.NewChild(ctx, c, req.Arguments.Configuration)
	if childErr != nil {
		c.log.Error(childErr, "Could not create child debug session")
		c.replyToAdapter(newErrorResponse(&req.Request, fmt.Sprintf("could not start child debug session: %s", childErr.Error())))
		return
	}

	child.setParent(c)
	if !c.addChild(child) {
		child.Dispose()
		_ = transport.Close()
		c.replyToAdapter(newErrorResponse(&req.Request, ErrSessionDisposed.Error()))
		return
	}

	resp := newResponse(&req.Request, true, "")
	c.replyToAdapter(&resp)

	c.log.Info("Starting child debug session", "ChildSessionID", child.Session().ID(), "Kind", kind)
	initArgs := c.initializeArguments()
	go func() {
		startErr := child.Start(c.lifetimeCtx, transport, initArgs, kind, req.Arguments.Configuration)
		if startErr == nil {
			return
		}
		if IsCancellation(startErr) {
			c.log.V(1).Info("Child debug session start cancelled", "ChildSessionID", child.Session().ID())
		} else {
			c.log.Error(startErr, "Child debug session failed to start", "ChildSessionID", child.Session().ID())
		}
		child.Dispose()
	}()
}
