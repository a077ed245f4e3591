// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mcpcore/go-session/internal/jsonrpc2"
	"github.com/mcpcore/go-session/jsonrpc"
)

// Logger is the minimal ambient logging surface this core calls into. Any
// type with these three methods satisfies it, including a no-op one such as
// discardLogger; a *log.Logger does not, as it has no Debugf/Warnf/Errorf.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// discardLogger drops everything; used when no Logger is supplied.
type discardLogger struct{}

func (discardLogger) Debugf(string, ...any) {}
func (discardLogger) Warnf(string, ...any)  {}
func (discardLogger) Errorf(string, ...any) {}

// RequestHandler answers an inbound JSON-RPC request. Returning an error
// that is (or wraps) a [*jsonrpc.ErrorObject] preserves its code; any other
// error is reported as an internal error.
type RequestHandler func(ctx context.Context, params *jsonrpc.Value) (*jsonrpc.Value, error)

// NotificationHandler observes an inbound JSON-RPC notification. Handlers
// never return a value; the dispatcher fans a notification out to every
// handler registered for its method.
type NotificationHandler func(ctx context.Context, params *jsonrpc.Value)

// resolver is a one-shot promise fulfilled by the dispatcher's receive
// loop and observed by [Future.Wait].
type resolver struct {
	ch chan resolution
}

type resolution struct {
	result *jsonrpc.Value
	err    error
}

func newResolver() *resolver {
	return &resolver{ch: make(chan resolution, 1)}
}

func (r *resolver) fulfil(result *jsonrpc.Value, err error) {
	r.ch <- resolution{result: result, err: err}
}

// Future is the handle returned by [Dispatcher.SendRequest]; call Wait to
// block for the matching response.
type Future struct {
	r *resolver
}

// Wait blocks until the response arrives, ctx is done, or the dispatcher
// fails every pending resolver (e.g. on transport close).
func (f *Future) Wait(ctx context.Context) (*jsonrpc.Value, error) {
	select {
	case res := <-f.r.ch:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispatcher implements the message-dispatcher component: it assigns
// request ids, tracks pending requests, and routes inbound messages to
// registered handlers. One Dispatcher owns exactly one [Connection] at a
// time; reconnection (§4.I) replaces the Connection on a fresh Dispatcher
// rather than mutating this one in place.
type Dispatcher struct {
	conn   Connection
	logger Logger

	nextID int64

	mu      sync.Mutex
	pending map[string]*resolver
	closed  bool

	handlersMu    sync.Mutex
	requestFns    map[string]RequestHandler
	notifyFns     map[string][]NotificationHandler

	loopDone chan struct{}
}

// NewDispatcher creates a Dispatcher over an already-connected Connection
// and starts its receive loop. The loop runs until the Connection is
// closed or returns a fatal error.
func NewDispatcher(conn Connection, logger Logger) *Dispatcher {
	if logger == nil {
		logger = discardLogger{}
	}
	d := &Dispatcher{
		conn:       conn,
		logger:     logger,
		pending:    make(map[string]*resolver),
		requestFns: make(map[string]RequestHandler),
		notifyFns:  make(map[string][]NotificationHandler),
		loopDone:   make(chan struct{}),
	}
	go d.receiveLoop()
	return d
}

// OnRequest registers the single handler for method, replacing any prior
// registration.
func (d *Dispatcher) OnRequest(method string, h RequestHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.requestFns[method] = h
}

// OnNotification appends a handler for method; any number may be
// registered and all are invoked on every matching notification.
func (d *Dispatcher) OnNotification(method string, h NotificationHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.notifyFns[method] = append(d.notifyFns[method], h)
}

// SendRequest assigns a fresh monotonic id, registers a resolver, writes
// the request, and returns a Future for the eventual response.
func (d *Dispatcher) SendRequest(ctx context.Context, method string, params *jsonrpc.Value) (*Future, error) {
	id := jsonrpc.IntID(atomic.AddInt64(&d.nextID, 1))
	r := newResolver()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("mcp: dispatcher: %w", jsonrpc2.ErrConnectionClosed)
	}
	d.pending[id.String()] = r
	d.mu.Unlock()

	req := &jsonrpc.Request{ID: id, Method: method, Params: params}
	if err := d.conn.Write(ctx, req); err != nil {
		d.mu.Lock()
		delete(d.pending, id.String())
		d.mu.Unlock()
		return nil, err
	}
	return &Future{r: r}, nil
}

// SendNotification writes a fire-and-forget notification.
func (d *Dispatcher) SendNotification(ctx context.Context, method string, params *jsonrpc.Value) error {
	return d.conn.Write(ctx, &jsonrpc.Notification{Method: method, Params: params})
}

// Close releases the underlying connection and fails every pending
// resolver with connectionClosed. Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[string]*resolver)
	d.mu.Unlock()

	for _, r := range pending {
		r.fulfil(nil, fmt.Errorf("mcp: %w", jsonrpc2.ErrConnectionClosed))
	}
	err := d.conn.Close()
	<-d.loopDone
	return err
}

func (d *Dispatcher) receiveLoop() {
	defer close(d.loopDone)
	ctx := context.Background()
	for {
		msg, err := d.conn.Read(ctx)
		if err != nil {
			d.failAllPending(err)
			return
		}
		switch m := msg.(type) {
		case *jsonrpc.Response:
			d.handleResponse(m)
		case *jsonrpc.Request:
			go d.handleRequest(ctx, m)
		case *jsonrpc.Notification:
			go d.handleNotification(ctx, m)
		}
	}
}

func (d *Dispatcher) failAllPending(err error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[string]*resolver)
	d.mu.Unlock()

	wrapped := fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrConnectionClosed, err)
	for _, r := range pending {
		r.fulfil(nil, wrapped)
	}
}

func (d *Dispatcher) handleResponse(resp *jsonrpc.Response) {
	d.mu.Lock()
	r, ok := d.pending[resp.ID.String()]
	if ok {
		delete(d.pending, resp.ID.String())
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Warnf("mcp: dispatcher: response for unknown id %s", resp.ID)
		return
	}
	if resp.IsError() {
		r.fulfil(nil, resp.Error)
		return
	}
	r.fulfil(resp.Result, nil)
}

func (d *Dispatcher) handleRequest(ctx context.Context, req *jsonrpc.Request) {
	d.handlersMu.Lock()
	h, ok := d.requestFns[req.Method]
	d.handlersMu.Unlock()

	var resp jsonrpc.Response
	resp.ID = req.ID
	if !ok {
		resp.Error = &jsonrpc.ErrorObject{
			Code:    jsonrpc.CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	} else {
		result, err := h(ctx, req.Params)
		if err != nil {
			resp.Error = asErrorObject(err)
		} else {
			resp.Result = result
		}
	}
	if err := d.conn.Write(ctx, &resp); err != nil {
		d.logger.Errorf("mcp: dispatcher: writing response to %s: %v", req.Method, err)
	}
}

func (d *Dispatcher) handleNotification(ctx context.Context, n *jsonrpc.Notification) {
	d.handlersMu.Lock()
	hs := append([]NotificationHandler(nil), d.notifyFns[n.Method]...)
	d.handlersMu.Unlock()

	if len(hs) == 0 {
		d.logger.Debugf("mcp: dispatcher: unhandled notification %s", n.Method)
		return
	}
	for _, h := range hs {
		h(ctx, n.Params)
	}
}

// asErrorObject converts a handler error into a wire ErrorObject,
// preserving the code of an existing *jsonrpc.ErrorObject and classifying
// sentinel jsonrpc2 errors to their matching code.
func asErrorObject(err error) *jsonrpc.ErrorObject {
	var eo *jsonrpc.ErrorObject
	if errors.As(err, &eo) {
		return eo
	}
	code := jsonrpc.CodeInternalError
	switch {
	case isErr(err, jsonrpc2.ErrMethodNotFound):
		code = jsonrpc.CodeMethodNotFound
	case isErr(err, jsonrpc2.ErrInvalidParams):
		code = jsonrpc.CodeInvalidParams
	case isErr(err, jsonrpc2.ErrInvalidRequest):
		code = jsonrpc.CodeInvalidRequest
	case isErr(err, jsonrpc2.ErrResourceNotFound):
		code = jsonrpc.CodeResourceNotFound
	}
	return &jsonrpc.ErrorObject{Code: code, Message: err.Error()}
}
