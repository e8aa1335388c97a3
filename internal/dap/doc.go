/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package dap implements the client side of the Debug Adapter Protocol (DAP).

# Key Components

  - Client: drives a debug session against a debug adapter (handshake, requests, events, termination)
  - Session: protocol-level state of a session (kind, capabilities, handshake state)
  - Transport: DAP message I/O over TCP or the stdio pipes of an adapter process
  - LaunchDebugAdapter: starts a debug adapter process and connects to it
  - SourceBreakpointHandler: line breakpoints, sent to the adapter during the handshake

# Session Flow

 1. The host launches the debug adapter (LaunchDebugAdapter) or dials it (DialTCP)
 2. Client.Start connects the transport and runs the handshake:
    initialize, then launch (or attach) concurrently with
    (initialized event, breakpoints, configurationDone)
 3. Events are handled in order, on a worker queue; stopped events are
    resolved into a SuspendContext and reported to the SessionSink
 4. startDebugging reverse requests create child sessions via the SessionFactory
 5. Client.End terminates (or disconnects from) the debuggee and disposes
    the client together with all child sessions

# Capabilities

Operations that depend on an optional adapter capability are no-ops when the adapter
does not declare the capability. Operations invoked before the client is connected are no-ops too.

# Usage

	adapter, err := dap.LaunchDebugAdapter(ctx, &dap.DebugAdapterConfig{Args: []string{"dlv", "dap"}}, log)
	client := dap.NewClient(dap.ClientConfig{Log: log, Output: sink})
	err = client.Start(ctx, adapter.Transport, godap.InitializeRequestArguments{AdapterID: "go"}, dap.SessionKindLaunch, launchConfig)
	...
	err = client.End(ctx)
*/
package dap
