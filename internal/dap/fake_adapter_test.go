/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/dapclient/pkg/testutil"
)

// requestHandler answers a request received by the fake adapter.
type requestHandler func(a *fakeAdapter, req dap.RequestMessage)

// fakeAdapter is a scripted debug adapter on the other end of a mockTransport.
// Requests without a handler get an empty successful response.
type fakeAdapter struct {
	transport *mockTransport

	lock     *sync.Mutex
	seq      int
	handlers map[string]requestHandler
	received []string
	args     map[string]dap.RequestMessage

	replies chan dap.Message
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	return &fakeAdapter{
		transport: newMockTransport(t),
		lock:      &sync.Mutex{},
		handlers:  map[string]requestHandler{},
		args:      map[string]dap.RequestMessage{},
		replies:   make(chan dap.Message, 10),
	}
}

// handle sets the handler for a command. Must be called before the adapter is started.
func (a *fakeAdapter) handle(command string, h requestHandler) *fakeAdapter {
	a.handlers[command] = h
	return a
}

func (a *fakeAdapter) start(ctx context.Context) {
	go func() {
		for {
			select {
			case msg := <-a.transport.fromClient:
				a.dispatch(msg)
			case <-a.transport.closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (a *fakeAdapter) dispatch(msg dap.Message) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		a.replies <- m
	case *RawMessage:
		// Responses to reverse requests that go-dap does not model.
		a.replies <- m
	case dap.RequestMessage:
		command := m.GetRequest().Command
		a.lock.Lock()
		a.received = append(a.received, command)
		a.args[command] = m
		a.lock.Unlock()

		if h, found := a.handlers[command]; found {
			h(a, m)
		} else {
			a.respond(m, nil)
		}
	}
}

func (a *fakeAdapter) nextSeq() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.seq++
	return a.seq
}

// respond sends a successful response to the request.
func (a *fakeAdapter) respond(req dap.RequestMessage, body any) {
	r := req.GetRequest()
	resp := map[string]any{
		"seq":         a.nextSeq(),
		"type":        "response",
		"request_seq": r.Seq,
		"command":     r.Command,
		"success":     true,
	}
	if body != nil {
		resp["body"] = body
	}
	a.transport.sendToClient(resp)
}

// fail sends an error response to the request.
func (a *fakeAdapter) fail(req dap.RequestMessage, message string, details *dap.ErrorMessage) {
	r := req.GetRequest()
	resp := map[string]any{
		"seq":         a.nextSeq(),
		"type":        "response",
		"request_seq": r.Seq,
		"command":     r.Command,
		"success":     false,
		"message":     message,
	}
	if details != nil {
		resp["body"] = map[string]any{"error": details}
	}
	a.transport.sendToClient(resp)
}

func (a *fakeAdapter) event(name string, body any) {
	ev := map[string]any{
		"seq":   a.nextSeq(),
		"type":  "event",
		"event": name,
	}
	if body != nil {
		ev["body"] = body
	}
	a.transport.sendToClient(ev)
}

func (a *fakeAdapter) reverseRequest(command string, arguments any) int {
	seq := a.nextSeq()
	a.transport.sendToClient(map[string]any{
		"seq":       seq,
		"type":      "request",
		"command":   command,
		"arguments": arguments,
	})
	return seq
}

// waitForReply waits for the client to answer a reverse request and returns the response envelope.
func (a *fakeAdapter) waitForReply(t *testing.T, ctx context.Context) messageEnvelope {
	select {
	case r := <-a.replies:
		content, marshalErr := json.Marshal(r)
		require.NoError(t, marshalErr)
		var envelope messageEnvelope
		require.NoError(t, json.Unmarshal(content, &envelope))
		require.NotNil(t, envelope.Success)
		return envelope
	case <-ctx.Done():
		require.FailNow(t, "timed out waiting for a reply from the client")
		return messageEnvelope{}
	}
}

func (a *fakeAdapter) requests() []string {
	a.lock.Lock()
	defer a.lock.Unlock()
	return slices.Clone(a.received)
}

func (a *fakeAdapter) request(command string) dap.RequestMessage {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.args[command]
}

func (a *fakeAdapter) count(command string) int {
	a.lock.Lock()
	defer a.lock.Unlock()
	n := 0
	for _, c := range a.received {
		if c == command {
			n++
		}
	}
	return n
}

func (a *fakeAdapter) waitForRequest(t *testing.T, ctx context.Context, command string) {
	waitErr := testutil.WaitFor(ctx, 10*time.Millisecond, func() bool {
		return a.count(command) > 0
	})
	require.NoError(t, waitErr, "the client did not send '%s' request", command)
}

// respondWithCapabilities returns an initialize handler that reports given capabilities,
// followed by the initialized event.
func respondWithCapabilities(caps dap.Capabilities) requestHandler {
	return func(a *fakeAdapter, req dap.RequestMessage) {
		a.respond(req, caps)
		a.event("initialized", nil)
	}
}

type recordingSink struct {
	lock        *sync.Mutex
	positions   []*SuspendContext
	breakpoints []*dap.Breakpoint
	output      []string
	categories  []OutputCategory
}

func newRecordingSink() *recordingSink {
	return &recordingSink{lock: &sync.Mutex{}}
}

func (s *recordingSink) PositionReached(sc *SuspendContext) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.positions = append(s.positions, sc)
}

func (s *recordingSink) BreakpointReached(bp *dap.Breakpoint, sc *SuspendContext) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.breakpoints = append(s.breakpoints, bp)
	s.positions = append(s.positions, sc)
}

func (s *recordingSink) Output(category OutputCategory, text string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.categories = append(s.categories, category)
	s.output = append(s.output, text)
}

func (s *recordingSink) stops() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.positions)
}

func (s *recordingSink) outputOf(category OutputCategory) []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	var result []string
	for i, c := range s.categories {
		if c == category {
			result = append(result, s.output[i])
		}
	}
	return result
}

func newTestClient(t *testing.T, config ClientConfig) *Client {
	if config.Log.GetSink() == nil {
		config.Log = testutil.NewLogForTesting(t.Name())
	}
	client := NewClient(config)
	t.Cleanup(client.Dispose)
	return client
}

// startClient connects the client to the adapter and runs the handshake.
func startClient(t *testing.T, ctx context.Context, client *Client, a *fakeAdapter, kind SessionKind) {
	a.start(ctx)
	startErr := client.Start(ctx, a.transport, dap.InitializeRequestArguments{AdapterID: "test"}, kind, map[string]any{"program": "app"})
	require.NoError(t, startErr)
}
