/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/dapclient/pkg/testutil"
)

// breakpointRequester verifies every requested breakpoint, except for files listed in failFor.
type breakpointRequester struct {
	lock    *sync.Mutex
	sent    []dap.SetBreakpointsArguments
	failFor map[string]error
}

func newBreakpointRequester() *breakpointRequester {
	return &breakpointRequester{lock: &sync.Mutex{}, failFor: map[string]error{}}
}

func (r *breakpointRequester) Request(_ context.Context, req dap.RequestMessage) (dap.Message, error) {
	args := req.(*dap.SetBreakpointsRequest).Arguments

	r.lock.Lock()
	defer r.lock.Unlock()
	r.sent = append(r.sent, args)

	if failErr, found := r.failFor[args.Source.Path]; found {
		return nil, failErr
	}

	resp := &dap.SetBreakpointsResponse{}
	for i, bp := range args.Breakpoints {
		actual := dap.Breakpoint{Id: i + 1, Verified: bp.Line > 0}
		if i > 0 {
			actual.Line = bp.Line
		}
		resp.Body.Breakpoints = append(resp.Body.Breakpoints, actual)
	}
	return resp, nil
}

func frameAt(path string, line int) *StackFrame {
	return NewStackFrame(dap.StackFrame{Id: 1, Line: line, Source: &dap.Source{Path: path}})
}

func TestSourceBreakpointHandler(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 5*time.Second)
	defer cancel()

	h := NewSourceBreakpointHandler(testutil.NewLogForTesting(t.Name()))
	require.NoError(t, h.Set(ctx, "/src/b.go", []dap.SourceBreakpoint{{Line: 5}}))
	require.NoError(t, h.Set(ctx, "/src/a.go", []dap.SourceBreakpoint{{Line: 10, Condition: "x > 1"}, {Line: 20}}))

	requester := newBreakpointRequester()
	require.NoError(t, h.Initialize(ctx, requester, &dap.Capabilities{}))

	require.Len(t, requester.sent, 2)
	assert.Equal(t, "/src/a.go", requester.sent[0].Source.Path)
	assert.Equal(t, "a.go", requester.sent[0].Source.Name)
	assert.Empty(t, requester.sent[0].Breakpoints[0].Condition, "conditions are not supported by the adapter")
	assert.Equal(t, "/src/b.go", requester.sent[1].Source.Path)

	// The adapter did not report the line of the first breakpoint; the requested line is used.
	bp := h.FindBreakpoint(frameAt("/src/a.go", 10))
	require.NotNil(t, bp)
	assert.Equal(t, 1, bp.Id)

	bp = h.FindBreakpoint(frameAt("/src/./a.go", 20))
	require.NotNil(t, bp)
	assert.Equal(t, 2, bp.Id)

	assert.Nil(t, h.FindBreakpoint(frameAt("/src/a.go", 11)))
	assert.Nil(t, h.FindBreakpoint(NewStackFrame(dap.StackFrame{Id: 2, Line: 10})))

	// Once initialized, changes are sent right away.
	require.NoError(t, h.Set(ctx, "/src/c.go", []dap.SourceBreakpoint{{Line: 1}}))
	require.Len(t, requester.sent, 3)
}

func TestSourceBreakpointHandlerFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 5*time.Second)
	defer cancel()

	h := NewSourceBreakpointHandler(testutil.NewLogForTesting(t.Name()))
	require.NoError(t, h.Set(ctx, "/src/a.go", []dap.SourceBreakpoint{{Line: 1}}))
	require.NoError(t, h.Set(ctx, "/src/b.go", []dap.SourceBreakpoint{{Line: 2}}))

	// A rejected file does not prevent other breakpoints from being set.
	requester := newBreakpointRequester()
	requester.failFor["/src/a.go"] = &RequestError{Command: "setBreakpoints", Message: "no such file"}
	require.NoError(t, h.Initialize(ctx, requester, &dap.Capabilities{SupportsConditionalBreakpoints: true}))
	require.Len(t, requester.sent, 2)
	assert.NotNil(t, h.FindBreakpoint(frameAt("/src/b.go", 2)))

	// Connection failures abort the initialization.
	requester = newBreakpointRequester()
	requester.failFor["/src/a.go"] = ErrConnectionClosed
	require.ErrorIs(t, h.Initialize(ctx, requester, &dap.Capabilities{}), ErrConnectionClosed)
	require.Len(t, requester.sent, 1)
}
