// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcpcore/go-session/internal/jsonrpc2"
	"github.com/mcpcore/go-session/jsonrpc"
)

// Transport is the abstract duplex channel a Session is built on. A
// Transport's job is to produce a [Connection]; it does no framing or
// routing of its own.
type Transport interface {
	// Connect establishes the underlying channel and returns a Connection
	// ready for use. The context bounds only the connection attempt, not
	// the lifetime of the resulting Connection.
	Connect(ctx context.Context) (Connection, error)
}

// Connection is a single, already-established duplex channel capable of
// exchanging JSON-RPC messages. Read and Write may be called concurrently
// with each other. The dispatcher calls Read from one goroutine only, but
// calls Write from several goroutines at once (outgoing requests,
// notifications and per-message handler replies), so Write must be safe
// for concurrent use.
type Connection interface {
	// Read blocks until a message arrives, the context is done, or the
	// connection is closed. A non-nil error for which [IsFatal] reports
	// true (one wrapping [jsonrpc2.ErrTransportFatal] or
	// [jsonrpc2.ErrConnectionClosed]) means the connection cannot be used
	// again; any other error is transient and the caller may retry.
	Read(ctx context.Context) (jsonrpc.Message, error)

	// Write sends a single message. Like Read, a fatal error means the
	// connection is no longer usable.
	Write(ctx context.Context, msg jsonrpc.Message) error

	// Close releases the connection's resources. It is safe to call Close
	// more than once; subsequent calls return nil.
	Close() error
}

// IsFatal reports whether err should be treated as a fatal transport
// error: the Connection must be abandoned and, for a resilient client,
// trigger reconnection.
func IsFatal(err error) bool {
	return errors.Is(err, jsonrpc2.ErrTransportFatal) || errors.Is(err, jsonrpc2.ErrConnectionClosed)
}

// errClosedPipe is returned by a closed InMemoryTransport endpoint.
var errClosedPipe = fmt.Errorf("%w: in-memory pipe closed", jsonrpc2.ErrConnectionClosed)

// errTransportFatal wraps jsonrpc2.ErrTransportFatal for transports (like
// the HTTP streaming one) that need a ready-made fatal error to return on
// an unrecoverable I/O failure.
var errTransportFatal = fmt.Errorf("mcp: %w", jsonrpc2.ErrTransportFatal)

// InMemoryTransport is a [Transport] backed by a pair of bounded Go
// channels, suitable for tests and for same-process client/server wiring.
// Call [NewInMemoryTransportPair] to obtain a connected pair.
type InMemoryTransport struct {
	conn *inMemoryConn
}

// NewInMemoryTransportPair returns two Transports, each of whose Connect
// yields the peer's end of a pair of bounded channels of capacity bufSize.
// A bufSize of 0 makes sends synchronous (rendezvous semantics).
func NewInMemoryTransportPair(bufSize int) (client, server Transport) {
	c2s := make(chan jsonrpc.Message, bufSize)
	s2c := make(chan jsonrpc.Message, bufSize)
	closeOnce := &sync.Once{}
	done := make(chan struct{})

	clientConn := &inMemoryConn{send: c2s, recv: s2c, done: done, closeOnce: closeOnce}
	serverConn := &inMemoryConn{send: s2c, recv: c2s, done: done, closeOnce: closeOnce}
	return &InMemoryTransport{conn: clientConn}, &InMemoryTransport{conn: serverConn}
}

func (t *InMemoryTransport) Connect(ctx context.Context) (Connection, error) {
	return t.conn, nil
}

// inMemoryConn implements Connection over a pair of channels. Both ends
// share one "done" channel; closing either end's Close marks the pipe
// closed for both directions.
type inMemoryConn struct {
	send      chan<- jsonrpc.Message
	recv      <-chan jsonrpc.Message
	done      chan struct{}
	closeOnce *sync.Once
}

func (c *inMemoryConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg, ok := <-c.recv:
		if !ok {
			return nil, errClosedPipe
		}
		return msg, nil
	case <-c.done:
		return nil, errClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *inMemoryConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *inMemoryConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
