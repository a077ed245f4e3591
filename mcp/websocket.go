// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpcore/go-session/jsonrpc"
)

// WebSocketClientTransport connects to an MCP server over a WebSocket using
// the "mcp" subprotocol.
type WebSocketClientTransport struct {
	// URL is the WebSocket server URL (e.g. "ws://localhost:8080/mcp").
	URL string

	// Dialer is used to establish the connection. A nil Dialer uses
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header carries additional HTTP headers sent during the handshake.
	Header http.Header
}

func (t *WebSocketClientTransport) Connect(ctx context.Context) (Connection, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	d := *dialer
	d.Subprotocols = []string{"mcp"}

	conn, resp, err := d.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("mcp: websocket transport: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("mcp: websocket transport: dial: %w", err)
	}
	return &websocketConn{conn: conn, sessionID: randText()}, nil
}

// websocketConn implements Connection over a *websocket.Conn. Reads are
// single-threaded by the dispatcher's contract; writes are serialized here
// because the underlying library forbids concurrent writers.
type websocketConn struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *websocketConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("%w: websocket closed: %v", errTransportFatal, err)
		}
		return nil, fmt.Errorf("%w: websocket read: %v", errTransportFatal, err)
	}
	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("mcp: websocket transport: unexpected message type %d, want text", messageType)
	}
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("mcp: websocket transport: decoding message: %w", err)
	}
	return msg, nil
}

func (c *websocketConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("mcp: websocket transport: encoding message: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: websocket write: %v", errTransportFatal, err)
	}
	return nil
}

func (c *websocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *websocketConn) SessionID() string { return c.sessionID }

// WebSocketServerTransport upgrades incoming HTTP requests to WebSocket
// connections and hands each one, wrapped as a [Transport], to onAccept so
// the caller can bind it to a [Server] with Server.Connect. One
// WebSocketServerTransport serves arbitrarily many concurrent sessions;
// each accepted connection is its own single-shot Transport.
type WebSocketServerTransport struct {
	upgrader websocket.Upgrader
	onAccept func(Transport)
}

// NewWebSocketServerTransport creates a WebSocketServerTransport. onAccept
// is invoked synchronously from ServeHTTP once the handshake completes;
// callers that want to serve the connection concurrently with accepting
// the next one should have onAccept spawn a goroutine calling
// Server.Connect.
func NewWebSocketServerTransport(onAccept func(Transport)) *WebSocketServerTransport {
	return &WebSocketServerTransport{
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"mcp"},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		onAccept: onAccept,
	}
}

func (t *WebSocketServerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
		return
	}
	t.onAccept(&acceptedWebSocketTransport{conn: conn})
}

// acceptedWebSocketTransport adapts an already-upgraded *websocket.Conn
// into a Transport whose Connect is a no-op returning that connection; it
// exists only to satisfy Server.Connect's signature for a socket that
// has, unlike every other Transport, already finished dialing.
type acceptedWebSocketTransport struct {
	conn *websocket.Conn
}

func (t *acceptedWebSocketTransport) Connect(ctx context.Context) (Connection, error) {
	return &websocketConn{conn: t.conn, sessionID: randText()}, nil
}

var _ io.Closer = (*websocketConn)(nil)
