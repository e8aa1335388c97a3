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

// End ends the debug session and disposes the client.
//
// A launched debuggee is asked to terminate gracefully if the adapter supports the terminate request.
// Otherwise the client disconnects from the adapter, asking it to terminate the debuggee.
// Only the first call has an effect; subsequent calls return nil immediately.
func (c *Client) End(ctx context.Context) error {
	if !c.session.beginEnding() {
		return nil
	}
	defer c.Dispose()

	if !c.IsConnected() {
		c.log.V(1).Info("Ending debug session that is not connected")
		return nil
	}

	var endErr error
	if c.session.takeTerminate() {
		c.log.V(1).Info("Terminating debuggee")
		_, endErr = request[*dap.TerminateResponse](ctx, c, &dap.TerminateRequest{
			Request: newRequest("terminate"),
		})
	} else {
		c.log.V(1).Info("Disconnecting from debug adapter")
		_, endErr = request[*dap.DisconnectResponse](ctx, c, &dap.DisconnectRequest{
			Request:   newRequest("disconnect"),
			Arguments: &dap.DisconnectArguments{TerminateDebuggee: true},
		})
	}

	switch {
	case endErr == nil:
		return nil
	case IsConnectionError(endErr):
		// The adapter often exits before answering.
		c.log.V(1).Info("Debug adapter connection closed while ending the session")
		return nil
	default:
		return fmt.Errorf("could not end debug session: %w", endErr)
	}
}

// Dispose releases all resources held by the client: closes the adapter connection,
// disposes child sessions, and cancels all pending operations.
// Dispose is idempotent and never panics.
func (c *Client) Dispose() {
	c.disposeOnce.Do(func() {
		defer func() {
			_ = resiliency.MakePanicError(recover(), c.log)
		}()
		defer c.cancel()

		c.lock.Lock()
		c.session.markDisposed()
		conn := c.conn
		children := append([]*Client(nil), c.children...)
		c.suspendContext = nil
		c.lock.Unlock()

		if conn != nil {
			if closeErr := conn.close(); closeErr != nil {
				c.log.Error(closeErr, "Error closing debug adapter connection")
			}
		}

		c.disposeChildren(children)
		c.log.V(1).Info("Debug session disposed")
	})
}
