/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"

	"github.com/google/go-dap"
)

// Requester sends requests to the debug adapter.
type Requester interface {
	Request(ctx context.Context, req dap.RequestMessage) (dap.Message, error)
}

// BreakpointHandler owns the breakpoints of a debug session.
type BreakpointHandler interface {
	// Initialize sends all breakpoints to the adapter. Called once per session, during the handshake.
	Initialize(ctx context.Context, requester Requester, capabilities *dap.Capabilities) error

	// FindBreakpoint returns the breakpoint at the position of the frame, or nil if there is none.
	FindBreakpoint(frame *StackFrame) *dap.Breakpoint
}

// SessionSink receives notifications about the debuggee being suspended.
type SessionSink interface {
	PositionReached(suspendContext *SuspendContext)
	BreakpointReached(breakpoint *dap.Breakpoint, suspendContext *SuspendContext)
}

type OutputCategory string

const (
	OutputConsole   OutputCategory = "console"
	OutputImportant OutputCategory = "important"
	OutputStdout    OutputCategory = "stdout"
	OutputStderr    OutputCategory = "stderr"
	OutputTelemetry OutputCategory = "telemetry"
)

// OutputCategoryFromEvent maps the category of an output event to an OutputCategory.
// Per the protocol, a missing category means "console".
func OutputCategoryFromEvent(category string) OutputCategory {
	switch OutputCategory(category) {
	case OutputImportant, OutputStdout, OutputStderr, OutputTelemetry:
		return OutputCategory(category)
	default:
		return OutputConsole
	}
}

// OutputSink receives debuggee and session output.
type OutputSink interface {
	Output(category OutputCategory, text string)
}

// SessionFactory creates child sessions requested by the adapter via the startDebugging reverse request.
// The returned client is not connected; the returned transport is used to connect it.
type SessionFactory interface {
	NewChild(ctx context.Context, parent *Client, configuration map[string]any) (*Client, Transport, error)
}

// TerminationListener is notified when the adapter reports that the debuggee has terminated.
type TerminationListener interface {
	Stop()
}

// ProgressFunc receives coarse handshake progress, as a fraction between 0 and 1.
type ProgressFunc func(fraction float64, message string)
