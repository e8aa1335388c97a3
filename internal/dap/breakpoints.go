/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
)

// SourceBreakpointHandler is a BreakpointHandler for line breakpoints in source files.
type SourceBreakpointHandler struct {
	log  logr.Logger
	lock *sync.Mutex

	// Requested breakpoints, by (clean) file path.
	requested map[string][]dap.SourceBreakpoint

	// Breakpoints as reported by the adapter, by (clean) file path.
	actual map[string][]dap.Breakpoint

	// Set once the handler has been initialized for a session.
	requester    Requester
	capabilities *dap.Capabilities
}

func NewSourceBreakpointHandler(log logr.Logger) *SourceBreakpointHandler {
	return &SourceBreakpointHandler{
		log:       log,
		lock:      &sync.Mutex{},
		requested: map[string][]dap.SourceBreakpoint{},
		actual:    map[string][]dap.Breakpoint{},
	}
}

// Set replaces the breakpoints for the file.
// If the handler is already initialized, the breakpoints are sent to the adapter immediately.
func (h *SourceBreakpointHandler) Set(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) error {
	path = filepath.Clean(path)

	h.lock.Lock()
	h.requested[path] = slices.Clone(breakpoints)
	requester := h.requester
	h.lock.Unlock()

	if requester == nil {
		return nil
	}
	return h.send(ctx, requester, path, breakpoints)
}

// Initialize sends breakpoints for every file to the adapter.
// Failures for individual files are logged; only cancellation and connection failures are returned.
func (h *SourceBreakpointHandler) Initialize(ctx context.Context, requester Requester, capabilities *dap.Capabilities) error {
	h.lock.Lock()
	h.requester = requester
	h.capabilities = capabilities
	paths := make([]string, 0, len(h.requested))
	for path := range h.requested {
		paths = append(paths, path)
	}
	h.lock.Unlock()

	slices.Sort(paths)

	for _, path := range paths {
		h.lock.Lock()
		breakpoints := h.requested[path]
		h.lock.Unlock()

		if sendErr := h.send(ctx, requester, path, breakpoints); sendErr != nil {
			if IsCancellation(sendErr) || IsConnectionError(sendErr) {
				return sendErr
			}
			h.log.Error(sendErr, "Could not set breakpoints", "Path", path)
		}
	}

	return nil
}

func (h *SourceBreakpointHandler) send(ctx context.Context, requester Requester, path string, breakpoints []dap.SourceBreakpoint) error {
	h.lock.Lock()
	breakpoints = supportedBreakpoints(breakpoints, h.capabilities)
	h.lock.Unlock()

	resp, reqErr := requester.Request(ctx, &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Name: filepath.Base(path), Path: path},
			Breakpoints: breakpoints,
		},
	})
	if reqErr != nil {
		return reqErr
	}

	typed, ok := resp.(*dap.SetBreakpointsResponse)
	if !ok {
		return fmt.Errorf("%w for 'setBreakpoints' request: %T", ErrUnexpectedResponse, resp)
	}

	// Adapters may omit the line of a breakpoint; it is then the requested one.
	actual := slices.Clone(typed.Body.Breakpoints)
	for i := range actual {
		if actual[i].Line == 0 && i < len(breakpoints) {
			actual[i].Line = breakpoints[i].Line
		}
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	h.actual[path] = actual
	return nil
}

// supportedBreakpoints removes breakpoint features that the adapter does not support.
func supportedBreakpoints(breakpoints []dap.SourceBreakpoint, caps *dap.Capabilities) []dap.SourceBreakpoint {
	result := slices.Clone(breakpoints)
	if caps == nil {
		return result
	}
	for i := range result {
		if !caps.SupportsConditionalBreakpoints {
			result[i].Condition = ""
		}
		if !caps.SupportsHitConditionalBreakpoints {
			result[i].HitCondition = ""
		}
		if !caps.SupportsLogPoints {
			result[i].LogMessage = ""
		}
	}
	return result
}

// FindBreakpoint returns the verified breakpoint at the frame's source line, if any.
func (h *SourceBreakpointHandler) FindBreakpoint(frame *StackFrame) *dap.Breakpoint {
	position, hasPosition := frame.SourcePosition()
	if !hasPosition {
		return nil
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	for _, bp := range h.actual[position.Path] {
		if bp.Verified && bp.Line == position.Line {
			found := bp
			return &found
		}
	}
	return nil
}

var _ BreakpointHandler = (*SourceBreakpointHandler)(nil)
