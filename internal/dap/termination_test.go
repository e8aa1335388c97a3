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
	"github.com/stretchr/testify/require"

	"github.com/microsoft/dapclient/pkg/testutil"
)

func TestEndTerminatesLaunchedDebuggee(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a := newFakeAdapter(t).handle("initialize", respondWithCapabilities(dap.Capabilities{SupportsTerminateRequest: true}))
	client := newTestClient(t, ClientConfig{})
	startClient(t, ctx, client, a, SessionKindLaunch)

	require.NoError(t, client.End(ctx))

	require.Equal(t, 1, a.count("terminate"))
	require.Equal(t, 0, a.count("disconnect"))
	require.True(t, client.Session().TerminateRequested())
	require.True(t, client.Session().IsDisposed())

	// Subsequent calls do nothing.
	require.NoError(t, client.End(ctx))
	require.Equal(t, 1, a.count("terminate"))
}

func TestEndDisconnectsWithoutTerminateSupport(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a := newFakeAdapter(t).handle("initialize", respondWithCapabilities(dap.Capabilities{}))
	client := newTestClient(t, ClientConfig{})
	startClient(t, ctx, client, a, SessionKindLaunch)

	require.NoError(t, client.End(ctx))

	require.Equal(t, 0, a.count("terminate"))
	require.Equal(t, 1, a.count("disconnect"))
	disconnect, isDisconnect := a.request("disconnect").(*dap.DisconnectRequest)
	require.True(t, isDisconnect)
	require.NotNil(t, disconnect.Arguments)
	require.True(t, disconnect.Arguments.TerminateDebuggee)
	require.False(t, client.Session().TerminateRequested())
	require.True(t, client.Session().IsDisposed())
}

func TestEndDisconnectsFromAttachedDebuggee(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a := newFakeAdapter(t).handle("initialize", respondWithCapabilities(dap.Capabilities{SupportsTerminateRequest: true}))
	client := newTestClient(t, ClientConfig{})
	startClient(t, ctx, client, a, SessionKindAttach)

	require.NoError(t, client.End(ctx))

	require.Equal(t, 0, a.count("terminate"))
	require.Equal(t, 1, a.count("disconnect"))
}

func TestEndWithoutConnectionDisposes(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	client := newTestClient(t, ClientConfig{})
	require.NoError(t, client.End(ctx))
	require.True(t, client.Session().IsDisposed())

	select {
	case <-client.Done():
	default:
		require.FailNow(t, "client lifetime context should be cancelled after End()")
	}

	// A disposed client cannot be connected again.
	require.ErrorIs(t, client.Connect(newMockTransport(t)), ErrSessionDisposed)
}

func TestEndAfterConnectionLossSendsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a := newFakeAdapter(t).handle("initialize", respondWithCapabilities(dap.Capabilities{SupportsTerminateRequest: true}))
	client := newTestClient(t, ClientConfig{})
	startClient(t, ctx, client, a, SessionKindLaunch)
	require.True(t, client.IsConnected())

	a.transport.loseConnection()
	select {
	case <-client.Done():
	case <-ctx.Done():
		require.FailNow(t, "client should be disposed after the connection is lost")
	}
	require.False(t, client.IsConnected())

	require.NoError(t, client.End(ctx))
	require.False(t, client.Session().TerminateRequested())
	require.Equal(t, 0, a.count("terminate"))
	require.Equal(t, 0, a.count("disconnect"))
}

func TestFailedTerminateStillDisposes(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a := newFakeAdapter(t).
		handle("initialize", respondWithCapabilities(dap.Capabilities{SupportsTerminateRequest: true})).
		handle("terminate", func(a *fakeAdapter, req dap.RequestMessage) {
			a.fail(req, "terminate failed", nil)
		})
	client := newTestClient(t, ClientConfig{})
	startClient(t, ctx, client, a, SessionKindLaunch)

	endErr := client.End(ctx)
	var reqErr *RequestError
	require.ErrorAs(t, endErr, &reqErr)
	require.Equal(t, "terminate", reqErr.Command)

	require.True(t, client.Session().TerminateRequested())
	require.True(t, client.Session().IsDisposed())
	require.Equal(t, 0, a.count("disconnect"))
}

func TestConcurrentEndSendsOneRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a := newFakeAdapter(t).handle("initialize", respondWithCapabilities(dap.Capabilities{}))
	client := newTestClient(t, ClientConfig{})
	startClient(t, ctx, client, a, SessionKindLaunch)

	const callers = 5
	wg := &sync.WaitGroup{}
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, client.End(ctx))
		}()
	}
	wg.Wait()

	require.NoError(t, testutil.WaitFor(ctx, 10*time.Millisecond, client.Session().IsDisposed))
	require.Equal(t, 1, a.count("disconnect"))
}

type stopListener struct {
	ctx     context.Context
	client  *Client
	stopped chan struct{}
}

func (l *stopListener) Stop() {
	_ = l.client.End(l.ctx)
	close(l.stopped)
}

func TestTerminatedEventNotifiesListener(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a := newFakeAdapter(t).handle("initialize", respondWithCapabilities(dap.Capabilities{SupportsTerminateRequest: true}))
	listener := &stopListener{ctx: ctx, stopped: make(chan struct{})}
	client := newTestClient(t, ClientConfig{Listener: listener})
	listener.client = client
	startClient(t, ctx, client, a, SessionKindLaunch)

	a.event("terminated", nil)
	a.event("terminated", nil)

	select {
	case <-listener.stopped:
	case <-ctx.Done():
		require.FailNow(t, "termination listener was not called")
	}

	require.True(t, client.Session().IsDisposed())
	require.Equal(t, 1, a.count("terminate"))
	require.Equal(t, 0, a.count("disconnect"))
}

func TestTerminatedEventWithoutListenerEndsSession(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	a := newFakeAdapter(t).handle("initialize", respondWithCapabilities(dap.Capabilities{}))
	client := newTestClient(t, ClientConfig{})
	startClient(t, ctx, client, a, SessionKindLaunch)

	a.event("terminated", nil)

	select {
	case <-client.Done():
	case <-ctx.Done():
		require.FailNow(t, "session was not ended after terminated event")
	}
	require.Equal(t, 1, a.count("disconnect"))
}
