/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"sync"

	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/microsoft/dapclient/pkg/resiliency"
)

// SessionKind is the request used to start the debuggee.
type SessionKind string

const (
	SessionKindLaunch SessionKind = "launch"
	SessionKindAttach SessionKind = "attach"
)

func (k SessionKind) IsValid() bool {
	return k == SessionKindLaunch || k == SessionKindAttach
}

// HandshakeState is the state of the session handshake.
// States only move forward; StateFailed is terminal.
type HandshakeState int32

const (
	StateConnecting HandshakeState = iota
	StateInitializing
	StateCapabilitiesReceived
	StateLaunching
	StateAttaching
	StateWaitingForInitializedEvent
	StateSendingBreakpoints
	StateConfigurationDone
	StateReady
	StateFailed
)

func (s HandshakeState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateInitializing:
		return "Initializing"
	case StateCapabilitiesReceived:
		return "CapabilitiesReceived"
	case StateLaunching:
		return "Launching"
	case StateAttaching:
		return "Attaching"
	case StateWaitingForInitializedEvent:
		return "WaitingForInitializedEvent"
	case StateSendingBreakpoints:
		return "SendingBreakpoints"
	case StateConfigurationDone:
		return "ConfigurationDone"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Session holds the protocol-level state of one connection to a debug adapter.
type Session struct {
	id   string
	lock *sync.Mutex

	kind             SessionKind
	state            HandshakeState
	handshakeStarted bool
	capabilities     *dap.Capabilities
	terminateSent    bool
	ending           bool
	disposed         bool
	process          *dap.ProcessEventBody
	exitCode         *int
}

func newSession() *Session {
	return &Session{
		id:    uuid.NewString(),
		lock:  &sync.Mutex{},
		state: StateConnecting,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Kind() SessionKind {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.kind
}

func (s *Session) State() HandshakeState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Capabilities returns a copy of the adapter capabilities, or nil if the initialize response has not arrived yet.
func (s *Session) Capabilities() *dap.Capabilities {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.capabilities == nil {
		return nil
	}
	caps := *s.capabilities
	return &caps
}

// TerminateRequested returns true if a terminate request has been sent during this session.
func (s *Session) TerminateRequested() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.terminateSent
}

func (s *Session) IsDisposed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.disposed
}

// Process returns the information from the process event, if the adapter sent one.
func (s *Session) Process() (dap.ProcessEventBody, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.process == nil {
		return dap.ProcessEventBody{}, false
	}
	return *s.process, true
}

// ExitCode returns the debuggee exit code, if the adapter reported it.
func (s *Session) ExitCode() (int, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.exitCode == nil {
		return 0, false
	}
	return *s.exitCode, true
}

func (s *Session) beginHandshake(kind SessionKind) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.handshakeStarted {
		return false
	}
	s.handshakeStarted = true
	s.kind = kind
	return true
}

func (s *Session) setState(state HandshakeState) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == StateFailed || (state < s.state && state != StateFailed) {
		return
	}
	s.state = state
}

// setCapabilities stores the capabilities. Only the first call has an effect.
func (s *Session) setCapabilities(caps *dap.Capabilities) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.capabilities != nil {
		return false
	}
	copied := *caps
	s.capabilities = &copied
	return true
}

// beginEnding returns true for the first caller only.
func (s *Session) beginEnding() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ending {
		return false
	}
	s.ending = true
	return true
}

// takeTerminate decides whether the session should be ended with a terminate request.
// If so, the "terminate sent" flag is set, whatever the outcome of the request is going to be.
func (s *Session) takeTerminate() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.kind != SessionKindLaunch || s.capabilities == nil || !s.capabilities.SupportsTerminateRequest || s.terminateSent {
		return false
	}
	s.terminateSent = true
	return true
}

func (s *Session) markDisposed() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.disposed = true
}

func (s *Session) setProcess(body dap.ProcessEventBody) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.process = &body
}

func (s *Session) setExitCode(exitCode int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.exitCode = &exitCode
}

// Parent returns the client that spawned this client via startDebugging, or nil for a top-level session.
func (c *Client) Parent() *Client {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.parent
}

// Children returns the child sessions spawned by the adapter, in creation order.
func (c *Client) Children() []*Client {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*Client(nil), c.children...)
}

func (c *Client) setParent(parent *Client) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.parent = parent
}

// addChild registers a child session. Returns false if this client is already disposed;
// the caller is then responsible for disposing the child.
func (c *Client) addChild(child *Client) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.session.IsDisposed() {
		return false
	}
	c.children = append(c.children, child)
	return true
}

func (c *Client) disposeChildren(children []*Client) {
	for _, child := range children {
		func() {
			defer func() {
				_ = resiliency.MakePanicError(recover(), c.log)
			}()
			child.Dispose()
		}()
	}
}
