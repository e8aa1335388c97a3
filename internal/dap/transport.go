// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-dap"

	"github.com/microsoft/dapclient/pkg/resiliency"
)

var (
	// ErrTransportClosed is returned when using a transport after Close() has been called.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrMalformedMessage is returned when a complete message was read, but its content could not be parsed.
	// The transport remains usable.
	ErrMalformedMessage = errors.New("malformed DAP message")
)

// Transport provides an abstraction for DAP message I/O over different connection types.
// ReadMessage is called from a single goroutine; WriteMessage may be called concurrently.
type Transport interface {
	// ReadMessage reads the next DAP protocol message from the transport.
	// This method blocks until a complete message is available.
	ReadMessage() (dap.Message, error)

	// WriteMessage writes a DAP protocol message to the transport.
	WriteMessage(msg dap.Message) error

	// Close closes the transport, releasing any associated resources.
	// After Close is called, any blocked ReadMessage or WriteMessage calls
	// should return with an error.
	Close() error
}

// streamTransport implements Transport over a pair of byte streams
// (a TCP connection, or the stdout/stdin pipes of an adapter process).
type streamTransport struct {
	reader  *bufio.Reader
	writer  *bufio.Writer
	closers []io.Closer

	// writeMu protects concurrent writes
	writeMu sync.Mutex

	closed bool
	mu     sync.Mutex
}

// NewTCPTransport creates a new Transport backed by a TCP connection.
func NewTCPTransport(conn net.Conn) Transport {
	return &streamTransport{
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		closers: []io.Closer{conn},
	}
}

// NewStdioTransport creates a new Transport that reads messages from r and writes them to w.
// For an adapter process, r is the adapter's stdout and w is the adapter's stdin.
func NewStdioTransport(r io.ReadCloser, w io.WriteCloser) Transport {
	return &streamTransport{
		reader:  bufio.NewReader(r),
		writer:  bufio.NewWriter(w),
		closers: []io.Closer{w, r},
	}
}

// DialTCP connects to a debug adapter listening on the specified address.
// Connection attempts are retried with exponential back-off until the context is done.
func DialTCP(ctx context.Context, address string) (Transport, error) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0), // Bounded by the context
	)

	conn, dialErr := resiliency.RetryGetWithBackoff(ctx, b, func() (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) {
			return nil, resiliency.Permanent(err)
		}
		return conn, err
	})
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial TCP %s: %w", address, dialErr)
	}

	return NewTCPTransport(conn), nil
}

func (t *streamTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *streamTransport) ReadMessage() (dap.Message, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	content, readErr := dap.ReadBaseMessage(t.reader)
	if readErr != nil {
		if t.isClosed() {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	msg, decodeErr := decodeMessage(content)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, decodeErr)
	}

	return msg, nil
}

func (t *streamTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	writeErr := dap.WriteProtocolMessage(t.writer, msg)
	if writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	flushErr := t.writer.Flush()
	if flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	var errs []error
	for _, c := range t.closers {
		if closeErr := c.Close(); closeErr != nil {
			errs = append(errs, closeErr)
		}
	}

	return errors.Join(errs...)
}
