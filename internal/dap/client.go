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

	"github.com/microsoft/dapclient/pkg/concurrency"
)

const (
	DefaultRequestTimeout     = 30 * time.Second
	DefaultInitializedTimeout = 10 * time.Second

	// Events are handled one at a time, in the order they were received.
	DefaultWorkerConcurrency uint8 = 1

	evaluateContextWatch = "watch"
)

// ClientConfig holds the collaborators and settings of a Client.
// All collaborators are optional.
type ClientConfig struct {
	Log logr.Logger

	Breakpoints BreakpointHandler
	Sink        SessionSink
	Output      OutputSink
	Factory     SessionFactory
	Listener    TerminationListener
	Progress    ProgressFunc

	// Maximum time to wait for a response to a request. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Maximum time to wait for the initialized event during the handshake. Zero means DefaultInitializedTimeout.
	InitializedTimeout time.Duration

	// Number of adapter-initiated messages (events, reverse requests) that are handled concurrently.
	// Values above 1 mean events may be handled out of order. Zero means DefaultWorkerConcurrency.
	WorkerConcurrency uint8
}

// Client drives a debug session against a debug adapter.
//
// Operations that need the adapter are silent no-ops (returning zero values and no error)
// when the client is not connected, or when the adapter does not have the required capability.
type Client struct {
	config  ClientConfig
	log     logr.Logger
	session *Session

	// Protects the fields below.
	lock           *sync.Mutex
	conn           *connection
	parent         *Client
	children       []*Client
	suspendContext *SuspendContext
	initArgs       dap.InitializeRequestArguments

	capabilitiesReady   *concurrency.Signal[*dap.Capabilities]
	initializedReceived *concurrency.Signal[struct{}]
	terminatedOnce      *sync.Once
	disposeOnce         *sync.Once

	lifetimeCtx context.Context
	cancel      context.CancelFunc
}

func NewClient(config ClientConfig) *Client {
	if config.Log.GetSink() == nil {
		config.Log = logr.Discard()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.InitializedTimeout <= 0 {
		config.InitializedTimeout = DefaultInitializedTimeout
	}
	if config.WorkerConcurrency == 0 {
		config.WorkerConcurrency = DefaultWorkerConcurrency
	}

	session := newSession()
	lifetimeCtx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:              config,
		log:                 config.Log.WithValues("SessionID", session.ID()),
		session:             session,
		lock:                &sync.Mutex{},
		capabilitiesReady:   concurrency.NewSignal[*dap.Capabilities](),
		initializedReceived: concurrency.NewSignal[struct{}](),
		terminatedOnce:      &sync.Once{},
		disposeOnce:         &sync.Once{},
		lifetimeCtx:         lifetimeCtx,
		cancel:              cancel,
	}
}

// Connect starts exchanging messages with the adapter over the transport.
// The client takes ownership of the transport.
func (c *Client) Connect(transport Transport) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.session.IsDisposed() {
		return ErrSessionDisposed
	}
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	c.conn = newConnection(c.lifetimeCtx, transport, c, connectionConfig{
		requestTimeout:    c.config.RequestTimeout,
		workerConcurrency: c.config.WorkerConcurrency,
		log:               c.log,
		onLost:            c.onConnectionLost,
	})
	c.conn.start()
	return nil
}

// Start connects the client and runs the session handshake.
func (c *Client) Start(
	ctx context.Context,
	transport Transport,
	initArgs dap.InitializeRequestArguments,
	kind SessionKind,
	args map[string]any,
) error {
	if connectErr := c.Connect(transport); connectErr != nil {
		_ = transport.Close()
		return connectErr
	}
	return c.Begin(ctx, initArgs, kind, args)
}

func (c *Client) onConnectionLost(err error) {
	c.log.Info("Debug adapter connection lost, disposing the session", "Error", err.Error())
	c.Dispose()
}

func (c *Client) connection() *connection {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn
}

// IsConnected returns true if the client has a live connection to the adapter.
// A lost connection or a disposed session counts as not connected.
func (c *Client) IsConnected() bool {
	conn := c.connection()
	if conn == nil || c.session.IsDisposed() {
		return false
	}
	select {
	case <-conn.Done():
		return false
	default:
		return true
	}
}

func (c *Client) Session() *Session {
	return c.session
}

// Capabilities returns the adapter capabilities, or nil if the handshake has not received them yet.
func (c *Client) Capabilities() *dap.Capabilities {
	return c.session.Capabilities()
}

// SuspendContext returns the context of the current suspended period, or nil if the debuggee is running.
func (c *Client) SuspendContext() *SuspendContext {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.suspendContext
}

// Done returns a channel that is closed when the client is disposed.
func (c *Client) Done() <-chan struct{} {
	return c.lifetimeCtx.Done()
}

func (c *Client) initializeArguments() dap.InitializeRequestArguments {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.initArgs
}

// Request sends a request to the adapter and waits for the response.
// Error responses are returned as *RequestError and reported to the output sink.
func (c *Client) Request(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	conn := c.connection()
	if conn == nil {
		return nil, ErrNotConnected
	}

	resp, sendErr := conn.send(ctx, req)
	if sendErr != nil {
		c.reportRequestError(sendErr)
		return nil, sendErr
	}
	return resp, nil
}

func (c *Client) reportRequestError(err error) {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || IsCancellation(err) {
		return
	}

	c.log.V(1).Info("Request failed", "Command", reqErr.Command, "Error", reqErr.Error())
	c.output(OutputStderr, reqErr.Error()+"\n")
}

func (c *Client) output(category OutputCategory, text string) {
	if c.config.Output != nil {
		c.config.Output.Output(category, text)
	}
}

func (c *Client) progress(fraction float64, message string) {
	if c.config.Progress != nil {
		c.config.Progress(fraction, message)
	}
}

// request sends the request and checks the type of the response.
func request[T dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage) (T, error) {
	resp, reqErr := c.Request(ctx, req)
	if reqErr != nil {
		return *new(T), reqErr
	}

	typed, ok := resp.(T)
	if !ok {
		return *new(T), fmt.Errorf("%w for '%s' request: %T", ErrUnexpectedResponse, req.GetRequest().Command, resp)
	}
	return typed, nil
}

// supports returns true if the client is connected and the adapter declared the capability.
func (c *Client) supports(capability func(*dap.Capabilities) bool) bool {
	if c.connection() == nil {
		return false
	}
	caps := c.Capabilities()
	return caps != nil && capability(caps)
}

func (c *Client) Continue(ctx context.Context, threadID int) error {
	if c.connection() == nil {
		return nil
	}

	_, err := request[*dap.ContinueResponse](ctx, c, &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	})
	if err == nil {
		c.clearSuspendContext()
	}
	return err
}

func (c *Client) Next(ctx context.Context, threadID int) error {
	if c.connection() == nil {
		return nil
	}

	_, err := request[*dap.NextResponse](ctx, c, &dap.NextRequest{
		Request:   newRequest("next"),
		Arguments: dap.NextArguments{ThreadId: threadID},
	})
	if err == nil {
		c.clearSuspendContext()
	}
	return err
}

func (c *Client) StepIn(ctx context.Context, threadID int) error {
	if c.connection() == nil {
		return nil
	}

	_, err := request[*dap.StepInResponse](ctx, c, &dap.StepInRequest{
		Request:   newRequest("stepIn"),
		Arguments: dap.StepInArguments{ThreadId: threadID},
	})
	if err == nil {
		c.clearSuspendContext()
	}
	return err
}

func (c *Client) StepOut(ctx context.Context, threadID int) error {
	if c.connection() == nil {
		return nil
	}

	_, err := request[*dap.StepOutResponse](ctx, c, &dap.StepOutRequest{
		Request:   newRequest("stepOut"),
		Arguments: dap.StepOutArguments{ThreadId: threadID},
	})
	if err == nil {
		c.clearSuspendContext()
	}
	return err
}

func (c *Client) Pause(ctx context.Context, threadID int) error {
	if c.connection() == nil {
		return nil
	}

	_, err := request[*dap.PauseResponse](ctx, c, &dap.PauseRequest{
		Request:   newRequest("pause"),
		Arguments: dap.PauseArguments{ThreadId: threadID},
	})
	return err
}

// Evaluate evaluates the expression in the context of the stack frame, as a watch expression.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int) (*dap.EvaluateResponseBody, error) {
	if c.connection() == nil {
		return nil, nil
	}

	resp, err := request[*dap.EvaluateResponse](ctx, c, &dap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evaluateContextWatch,
		},
	})
	if err != nil {
		return nil, err
	}
	return &resp.Body, nil
}

// Complete returns completion candidates for the text, if the adapter supports completions.
func (c *Client) Complete(ctx context.Context, text string, line int, column int, frameID int) ([]dap.CompletionItem, error) {
	if !c.supports(func(caps *dap.Capabilities) bool { return caps.SupportsCompletionsRequest }) {
		return nil, nil
	}

	resp, err := request[*dap.CompletionsResponse](ctx, c, &dap.CompletionsRequest{
		Request: newRequest("completions"),
		Arguments: dap.CompletionsArguments{
			FrameId: frameID,
			Text:    text,
			Line:    line,
			Column:  column,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Targets, nil
}

// SetVariable changes the value of a variable, if the adapter supports it.
func (c *Client) SetVariable(ctx context.Context, name string, variablesReference int, value string) (*dap.SetVariableResponseBody, error) {
	if !c.supports(func(caps *dap.Capabilities) bool { return caps.SupportsSetVariable }) {
		return nil, nil
	}

	resp, err := request[*dap.SetVariableResponse](ctx, c, &dap.SetVariableRequest{
		Request: newRequest("setVariable"),
		Arguments: dap.SetVariableArguments{
			VariablesReference: variablesReference,
			Name:               name,
			Value:              value,
		},
	})
	if err != nil {
		return nil, err
	}
	return &resp.Body, nil
}

func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	if c.connection() == nil {
		return nil, nil
	}

	resp, err := request[*dap.ThreadsResponse](ctx, c, &dap.ThreadsRequest{
		Request: newRequest("threads"),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Threads, nil
}

func (c *Client) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	if c.connection() == nil {
		return nil, nil
	}

	resp, err := request[*dap.StackTraceResponse](ctx, c, &dap.StackTraceRequest{
		Request:   newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: threadID},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.StackFrames, nil
}

func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	if c.connection() == nil {
		return nil, nil
	}

	resp, err := request[*dap.ScopesResponse](ctx, c, &dap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frameID},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

func (c *Client) Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	if c.connection() == nil {
		return nil, nil
	}

	resp, err := request[*dap.VariablesResponse](ctx, c, &dap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: dap.VariablesArguments{VariablesReference: variablesReference},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// Disassemble fetches disassembled instructions, if the adapter supports it.
func (c *Client) Disassemble(ctx context.Context, args dap.DisassembleArguments) ([]dap.DisassembledInstruction, error) {
	if !c.supports(func(caps *dap.Capabilities) bool { return caps.SupportsDisassembleRequest }) {
		return nil, nil
	}

	resp, err := request[*dap.DisassembleResponse](ctx, c, &dap.DisassembleRequest{
		Request:   newRequest("disassemble"),
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Instructions, nil
}

func (c *Client) clearSuspendContext() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.suspendContext = nil
}

// attachSuspendContext returns the current suspend context, creating one if the debuggee was running.
func (c *Client) attachSuspendContext(reason string) *SuspendContext {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.suspendContext == nil {
		c.suspendContext = newSuspendContext(reason)
	}
	return c.suspendContext
}
