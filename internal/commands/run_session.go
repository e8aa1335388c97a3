/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
	godap "github.com/google/go-dap"

	"github.com/microsoft/dapclient/internal/dap"
	"github.com/microsoft/dapclient/pkg/concurrency"
)

const (
	endSessionTimeout  = 10 * time.Second
	adapterExitTimeout = 2 * time.Second
	clientID           = "dapctl"
)

type sessionRunnerOptions struct {
	Stdout      io.Writer
	Stderr      io.Writer
	Disassemble bool
}

// sessionRunner runs the debug session described by a run configuration.
// It also creates child sessions requested by the debug adapter;
// every child session reaches the debug adapter the same way the root session does.
type sessionRunner struct {
	ctx    context.Context
	log    logr.Logger
	config *RunConfiguration
	opts   sessionRunnerOptions

	lock     *sync.Mutex
	adapters []*dap.LaunchedAdapter
	sinks    []*consoleSink

	// Completed when the debug adapter reports that the program has terminated.
	terminated *concurrency.Signal[struct{}]
}

var _ dap.SessionFactory = (*sessionRunner)(nil)

// stopFunc adapts a function to the TerminationListener interface.
type stopFunc func()

func (f stopFunc) Stop() { f() }

func newSessionRunner(ctx context.Context, log logr.Logger, config *RunConfiguration, opts sessionRunnerOptions) *sessionRunner {
	if ctx == nil {
		ctx = context.Background()
	}
	return &sessionRunner{
		ctx:        ctx,
		log:        log,
		config:     config,
		opts:       opts,
		lock:       &sync.Mutex{},
		terminated: concurrency.NewSignal[struct{}](),
	}
}

func (r *sessionRunner) run() error {
	defer r.closeAdapters()

	transport, transportErr := r.openTransport(r.ctx)
	if transportErr != nil {
		return transportErr
	}

	client, clientErr := r.newClient(stopFunc(func() { r.terminated.Complete(struct{}{}) }))
	if clientErr != nil {
		_ = transport.Close()
		return clientErr
	}

	startErr := client.Start(r.ctx, transport, r.initializeArguments(), r.config.Request, r.config.Configuration)
	if startErr != nil {
		// The program may have been started before the handshake failed.
		r.endSession(client)
		if errors.Is(r.ctx.Err(), context.Canceled) {
			return nil
		}
		return startErr
	}

	r.log.V(1).Info("Debug session started", "SessionID", client.Session().ID(), "Kind", r.config.Request)

	select {
	case <-r.ctx.Done():
		r.log.V(1).Info("Debug session interrupted")
	case <-r.terminated.Done():
		r.log.V(1).Info("Program terminated")
	case <-client.Done():
		r.log.V(1).Info("Debug session ended by the debug adapter")
	}

	r.endSession(client)

	if exitCode, exited := client.Session().ExitCode(); exited && exitCode != 0 {
		return &ExitCodeError{ExitCode: exitCode}
	}
	return nil
}

// NewChild creates a child session for the startDebugging request.
func (r *sessionRunner) NewChild(ctx context.Context, parent *dap.Client, configuration map[string]any) (*dap.Client, dap.Transport, error) {
	r.log.V(1).Info("Creating child debug session", "ParentSessionID", parent.Session().ID())

	transport, transportErr := r.openTransport(ctx)
	if transportErr != nil {
		return nil, nil, transportErr
	}

	// Child sessions end on their own when the debug adapter reports that the program has terminated.
	child, clientErr := r.newClient(nil)
	if clientErr != nil {
		_ = transport.Close()
		return nil, nil, clientErr
	}

	return child, transport, nil
}

func (r *sessionRunner) newClient(listener dap.TerminationListener) (*dap.Client, error) {
	sink := newConsoleSink(r.ctx, r.log, r.opts.Stdout, r.opts.Stderr, r.opts.Disassemble)

	breakpoints := dap.NewSourceBreakpointHandler(r.log)
	for _, bp := range r.config.Breakpoints {
		sourceBreakpoints := make([]godap.SourceBreakpoint, 0, len(bp.Lines))
		for _, line := range bp.Lines {
			sourceBreakpoints = append(sourceBreakpoints, godap.SourceBreakpoint{Line: line, Condition: bp.Condition})
		}
		if setErr := breakpoints.Set(r.ctx, absolutePath(bp.Path), sourceBreakpoints); setErr != nil {
			return nil, fmt.Errorf("could not set breakpoints in '%s': %w", bp.Path, setErr)
		}
	}

	client := dap.NewClient(dap.ClientConfig{
		Log:         r.log,
		Breakpoints: breakpoints,
		Sink:        sink,
		Output:      sink,
		Factory:     r,
		Listener:    listener,
		Progress: func(fraction float64, message string) {
			r.log.V(1).Info("Debug session progress", "Progress", fraction, "Stage", message)
		},
	})
	sink.attach(client)

	r.lock.Lock()
	r.sinks = append(r.sinks, sink)
	r.lock.Unlock()

	return client, nil
}

// openTransport connects to the running debug adapter, or launches a new debug adapter instance.
func (r *sessionRunner) openTransport(ctx context.Context) (dap.Transport, error) {
	if r.config.Connect != "" {
		dialCtx, cancel := context.WithTimeout(ctx, r.config.Adapter.GetConnectionTimeout())
		defer cancel()
		return dap.DialTCP(dialCtx, r.config.Connect)
	}

	adapter, launchErr := dap.LaunchDebugAdapter(ctx, &r.config.Adapter, r.log.WithName("adapter"))
	if launchErr != nil {
		return nil, launchErr
	}

	r.lock.Lock()
	r.adapters = append(r.adapters, adapter)
	r.lock.Unlock()

	r.log.V(1).Info("Debug adapter launched", "PID", adapter.Pid(), "Mode", r.config.Adapter.EffectiveMode())
	return adapter.Transport, nil
}

func (r *sessionRunner) initializeArguments() godap.InitializeRequestArguments {
	return godap.InitializeRequestArguments{
		ClientID:                 clientID,
		ClientName:               clientID,
		AdapterID:                r.config.AdapterID,
		Locale:                   "en-US",
		LinesStartAt1:            true,
		ColumnsStartAt1:          true,
		PathFormat:               "path",
		SupportsVariableType:     true,
		SupportsMemoryReferences: r.opts.Disassemble,
	}
}

func (r *sessionRunner) endSession(client *dap.Client) {
	endCtx, cancel := context.WithTimeout(context.Background(), endSessionTimeout)
	defer cancel()

	if endErr := client.End(endCtx); endErr != nil {
		r.log.Error(endErr, "Debug session did not end cleanly")
	}

	r.lock.Lock()
	sinks := append([]*consoleSink(nil), r.sinks...)
	r.lock.Unlock()
	for _, sink := range sinks {
		sink.wait()
	}
}

func (r *sessionRunner) closeAdapters() {
	r.lock.Lock()
	adapters := r.adapters
	r.adapters = nil
	r.lock.Unlock()

	for _, adapter := range adapters {
		if closeErr := adapter.Close(); closeErr != nil {
			r.log.V(1).Info("Error closing the debug adapter connection", "PID", adapter.Pid(), "Error", closeErr.Error())
		}

		select {
		case <-adapter.Done():
		case <-time.After(adapterExitTimeout):
			r.log.Info("Debug adapter did not exit after the debug session ended, stopping it", "PID", adapter.Pid())
			if stopErr := adapter.Stop(); stopErr != nil {
				r.log.Error(stopErr, "Could not stop the debug adapter", "PID", adapter.Pid())
			}
		}
	}
}
