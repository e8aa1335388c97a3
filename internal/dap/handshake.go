/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/go-dap"
	"golang.org/x/sync/errgroup"

	"github.com/microsoft/dapclient/pkg/concurrency"
)

// Begin runs the session handshake:
//
//	initialize -> launch|attach
//	           -> (initialize response + initialized event) -> breakpoints -> configurationDone
//
// The launch (or attach) request is sent as soon as the capabilities are known, concurrently with
// the wait for the initialized event. Begin returns when both branches are complete,
// or when the first of them fails; the other branch is then cancelled.
// Begin can be called only once per client.
func (c *Client) Begin(
	ctx context.Context,
	initArgs dap.InitializeRequestArguments,
	kind SessionKind,
	args map[string]any,
) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: invalid session kind '%s'", ErrHandshakeFailed, kind)
	}
	if !c.session.beginHandshake(kind) {
		return fmt.Errorf("%w: handshake already started", ErrHandshakeFailed)
	}

	c.lock.Lock()
	c.initArgs = initArgs
	c.lock.Unlock()

	if c.connection() == nil {
		return c.failHandshake(ErrNotConnected)
	}

	log := c.log.WithValues("Kind", kind)
	log.V(1).Info("Starting debug session handshake")

	if ctxErr := ctx.Err(); ctxErr != nil {
		return c.failHandshake(ctxErr)
	}
	c.session.setState(StateInitializing)
	c.progress(0.1, "Initializing debug adapter")

	caps, initErr := c.initialize(ctx, initArgs)
	if initErr != nil {
		return c.failHandshake(initErr)
	}
	c.session.setState(StateCapabilitiesReceived)
	c.progress(0.2, "Debug adapter initialized")

	launchArgs, marshalErr := marshalLaunchArguments(args)
	if marshalErr != nil {
		return c.failHandshake(marshalErr)
	}

	if kind == SessionKindLaunch {
		c.session.setState(StateLaunching)
		c.progress(0.3, "Launching debuggee")
	} else {
		c.session.setState(StateAttaching)
		c.progress(0.3, "Attaching to debuggee")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.launchOrAttach(gctx, kind, launchArgs)
	})
	g.Go(func() error {
		return c.configure(gctx, caps)
	})

	if handshakeErr := g.Wait(); handshakeErr != nil {
		return c.failHandshake(handshakeErr)
	}

	c.session.setState(StateReady)
	c.progress(1.0, "Debug session started")
	log.Info("Debug session started")
	return nil
}

func (c *Client) initialize(ctx context.Context, initArgs dap.InitializeRequestArguments) (*dap.Capabilities, error) {
	resp, reqErr := request[*initializeResponse](ctx, c, &initializeRequest{
		Request: newRequest(commandInitialize),
		Arguments: initializeRequestArguments{
			InitializeRequestArguments:    initArgs,
			SupportsStartDebuggingRequest: c.config.Factory != nil,
		},
	})
	if reqErr != nil {
		return nil, reqErr
	}

	caps := resp.Body
	if caps == nil {
		c.log.Info("Warning: debug adapter did not report any capabilities, assuming none")
		caps = &dap.Capabilities{}
	}

	c.session.setCapabilities(caps)
	caps = c.session.Capabilities()
	c.capabilitiesReady.Complete(caps)
	return caps, nil
}

func (c *Client) launchOrAttach(ctx context.Context, kind SessionKind, args json.RawMessage) error {
	var err error
	if kind == SessionKindLaunch {
		_, err = request[*dap.LaunchResponse](ctx, c, &dap.LaunchRequest{
			Request:   newRequest(string(SessionKindLaunch)),
			Arguments: args,
		})
	} else {
		_, err = request[*dap.AttachResponse](ctx, c, &dap.AttachRequest{
			Request:   newRequest(string(SessionKindAttach)),
			Arguments: args,
		})
	}

	if err != nil {
		return fmt.Errorf("'%s' request failed: %w", kind, err)
	}
	return nil
}

// configure waits for the adapter to be ready for configuration, sends breakpoints,
// and finishes configuration if the adapter supports it.
func (c *Client) configure(ctx context.Context, caps *dap.Capabilities) error {
	c.session.setState(StateWaitingForInitializedEvent)

	waitCtx, waitCancel := context.WithTimeout(ctx, c.config.InitializedTimeout)
	defer waitCancel()
	if waitErr := concurrency.WaitAll(waitCtx, c.capabilitiesReady, c.initializedReceived); waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w (%s)", ErrInitializedTimeout, c.config.InitializedTimeout)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.session.setState(StateSendingBreakpoints)
	c.progress(0.6, "Setting breakpoints")

	if c.config.Breakpoints != nil {
		if bpErr := c.config.Breakpoints.Initialize(ctx, c, caps); bpErr != nil {
			return fmt.Errorf("could not set breakpoints: %w", bpErr)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.session.setState(StateConfigurationDone)
	c.progress(0.7, "Finishing debug adapter configuration")

	if !caps.SupportsConfigurationDoneRequest {
		return nil
	}

	_, doneErr := request[*dap.ConfigurationDoneResponse](ctx, c, &dap.ConfigurationDoneRequest{
		Request: newRequest("configurationDone"),
	})
	if doneErr != nil {
		return fmt.Errorf("'configurationDone' request failed: %w", doneErr)
	}
	return nil
}

// failHandshake moves the session to the Failed state and returns the handshake error.
// Cancellation is reported as is; other failures are wrapped in ErrHandshakeFailed and reported to the output sink.
func (c *Client) failHandshake(err error) error {
	c.session.setState(StateFailed)

	if IsCancellation(err) {
		c.log.V(1).Info("Debug session handshake cancelled")
		return fmt.Errorf("debug session handshake cancelled: %w", err)
	}

	c.log.Error(err, "Debug session handshake failed")

	// Error responses have been reported already.
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		c.output(OutputStderr, fmt.Sprintf("Debug session could not be started: %s\n", err.Error()))
	}

	return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
}

func marshalLaunchArguments(args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		return nil, fmt.Errorf("invalid launch configuration: %w", marshalErr)
	}
	return raw, nil
}
