/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

var errMockConnectionLost = errors.New("connection reset by peer")

// mockTransport is an in-memory Transport. Every message is serialized and decoded again,
// so both sides see exactly what they would see on the wire.
type mockTransport struct {
	t *testing.T

	toClient   chan dap.Message
	fromClient chan dap.Message
	lost       chan error
	closed     chan struct{}
	closeOnce  *sync.Once
}

func newMockTransport(t *testing.T) *mockTransport {
	return &mockTransport{
		t:          t,
		toClient:   make(chan dap.Message, 100),
		fromClient: make(chan dap.Message, 100),
		lost:       make(chan error, 1),
		closed:     make(chan struct{}),
		closeOnce:  &sync.Once{},
	}
}

func (m *mockTransport) ReadMessage() (dap.Message, error) {
	select {
	case msg := <-m.toClient:
		return msg, nil
	case lostErr := <-m.lost:
		return nil, lostErr
	case <-m.closed:
		return nil, ErrTransportClosed
	}
}

func (m *mockTransport) WriteMessage(msg dap.Message) error {
	if m.isClosed() {
		return ErrTransportClosed
	}

	decoded := m.roundTrip(msg)
	select {
	case m.fromClient <- decoded:
		return nil
	case <-m.closed:
		return ErrTransportClosed
	}
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockTransport) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// sendToClient delivers a message (a go-dap struct, or any JSON-serializable value) to the client.
func (m *mockTransport) sendToClient(msg any) {
	select {
	case m.toClient <- m.roundTrip(msg):
	case <-m.closed:
	}
}

// loseConnection makes the client read loop fail as if the adapter went away.
func (m *mockTransport) loseConnection() {
	m.lost <- errMockConnectionLost
}

func (m *mockTransport) roundTrip(msg any) dap.Message {
	content, marshalErr := json.Marshal(msg)
	require.NoError(m.t, marshalErr)
	decoded, decodeErr := decodeMessage(content)
	require.NoError(m.t, decodeErr)
	return decoded
}

var _ Transport = (*mockTransport)(nil)
