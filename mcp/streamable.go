// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/mcpcore/go-session/internal/util"
	"github.com/mcpcore/go-session/jsonrpc"
)

const (
	headerSessionID        = "Mcp-Session-Id"
	headerProtocolVer      = "Mcp-Protocol-Version"
	headerLastEventID      = "Last-Event-Id"
	contentTypeJSON        = "application/json"
	contentTypeEventStream = "text/event-stream"
)

// StreamableClientTransportOptions configures a [StreamableClientTransport].
type StreamableClientTransportOptions struct {
	HTTPClient          *http.Client
	TokenSource         oauth2.TokenSource // optional bearer auth on every request
	ReconnectionOptions ReconnectionOptions
	OnResumptionToken   func(eventID string)
}

// StreamableClientTransport is the client side of the MCP "Streamable
// HTTP" transport: JSON or SSE responses to POSTed requests, plus an
// optional long-lived GET for server-initiated notifications.
type StreamableClientTransport struct {
	endpoint string
	opts     StreamableClientTransportOptions
}

// NewStreamableClientTransport returns a transport that POSTs to endpoint.
func NewStreamableClientTransport(endpoint string, opts StreamableClientTransportOptions) *StreamableClientTransport {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.ReconnectionOptions == (ReconnectionOptions{}) {
		opts.ReconnectionOptions = ReconnectionOptions{
			MaxRetries:   2,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			GrowFactor:   1.5,
		}
	}
	return &StreamableClientTransport{endpoint: endpoint, opts: opts}
}

func (t *StreamableClientTransport) Connect(ctx context.Context) (Connection, error) {
	c := &streamableClientConn{
		t:       t,
		inbound: make(chan jsonrpc.Message, 16),
		done:    make(chan struct{}),
	}
	go c.runNotificationStream()
	return c, nil
}

type streamableClientConn struct {
	t *StreamableClientTransport

	mu              sync.Mutex
	sessionID       string
	protocolVersion string
	lastEventID     string
	retryDelay      time.Duration // server-supplied "retry:" override, 0 if none seen
	primed          bool
	closed          bool

	inbound  chan jsonrpc.Message
	done     chan struct{}
	closeOne sync.Once
}

func (c *streamableClientConn) authorize(ctx context.Context, req *http.Request) error {
	if c.t.opts.TokenSource == nil {
		return nil
	}
	tok, err := c.t.opts.TokenSource.Token()
	if err != nil {
		return fmt.Errorf("mcp: streamable transport: token source: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

func (c *streamableClientConn) bind(resp *http.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sid := resp.Header.Get(headerSessionID); sid != "" {
		c.sessionID = sid
	}
	if pv := resp.Header.Get(headerProtocolVer); pv != "" {
		c.protocolVersion = pv
	}
}

func (c *streamableClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	body, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeEventStream)
	c.mu.Lock()
	sid, pv := c.sessionID, c.protocolVersion
	c.mu.Unlock()
	if sid != "" {
		req.Header.Set(headerSessionID, sid)
	}
	if pv != "" {
		req.Header.Set(headerProtocolVer, pv)
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.t.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: %w: %v", errTransportFatal, err)
	}
	c.bind(resp)

	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, contentTypeEventStream):
		go c.consumeSSE(resp.Body, false)
	case strings.HasPrefix(ct, contentTypeJSON):
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		m, err := jsonrpc.DecodeMessage(data)
		if err != nil {
			return err
		}
		c.deliver(m)
	default:
		resp.Body.Close()
	}
	return nil
}

func (c *streamableClientConn) deliver(m jsonrpc.Message) {
	select {
	case c.inbound <- m:
	case <-c.done:
	}
}

// consumeSSE reads an event-stream body frame by frame, decoding each
// data: line as a message and recording the last event id. isGETStream
// selects whether a mid-stream failure should trigger the GET
// reconnection policy (always permitted) or the POST-stream policy
// (only permitted once a priming event has been seen).
func (c *streamableClientConn) consumeSSE(body io.ReadCloser, isGETStream bool) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil
		if payload == "" {
			c.mu.Lock()
			c.primed = true
			c.mu.Unlock()
			return
		}
		m, err := jsonrpc.DecodeMessage([]byte(payload))
		if err != nil {
			return
		}
		c.deliver(m)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "id:"):
			c.mu.Lock()
			c.lastEventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			c.mu.Unlock()
			if cb := c.t.opts.OnResumptionToken; cb != nil {
				cb(c.lastEventID)
			}
		case strings.HasPrefix(line, "retry:"):
			if ms, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); err == nil {
				c.mu.Lock()
				c.retryDelay = time.Duration(ms) * time.Millisecond
				c.mu.Unlock()
			}
		}
	}
	flush()

	c.mu.Lock()
	primed, closed := c.primed, c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if isGETStream || primed {
		c.reconnectStream(isGETStream)
	}
}

// reconnectStream restarts a failed SSE stream with Last-Event-Id, using
// exponential backoff, abandoning after MaxRetries.
func (c *streamableClientConn) reconnectStream(isGETStream bool) {
	opts := c.t.opts.ReconnectionOptions
	c.mu.Lock()
	if c.retryDelay > 0 {
		opts.InitialDelay = c.retryDelay
	}
	c.mu.Unlock()
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		time.Sleep(BackoffDelay(opts, attempt))

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		lastEventID, sid, pv := c.lastEventID, c.sessionID, c.protocolVersion
		c.mu.Unlock()

		method := http.MethodGet
		if !isGETStream {
			method = http.MethodGet // a re-primed stream resumes as a GET against the same endpoint
		}
		req, err := http.NewRequest(method, c.t.endpoint, nil)
		if err != nil {
			continue
		}
		req.Header.Set("Accept", contentTypeEventStream)
		if lastEventID != "" {
			req.Header.Set(headerLastEventID, lastEventID)
		}
		if sid != "" {
			req.Header.Set(headerSessionID, sid)
		}
		if pv != "" {
			req.Header.Set(headerProtocolVer, pv)
		}
		if err := c.authorize(context.Background(), req); err != nil {
			continue
		}
		resp, err := c.t.opts.HTTPClient.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			continue
		}
		c.consumeSSE(resp.Body, isGETStream)
		return
	}
}

// runNotificationStream opens the long-lived GET stream for
// server-initiated notifications, if the server advertises support by
// accepting the GET (a 405 means the server has none to offer).
func (c *streamableClientConn) runNotificationStream() {
	req, err := http.NewRequest(http.MethodGet, c.t.endpoint, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", contentTypeEventStream)
	if err := c.authorize(context.Background(), req); err != nil {
		return
	}
	resp, err := c.t.opts.HTTPClient.Do(req)
	if err != nil {
		return
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return
	}
	c.consumeSSE(resp.Body, true)
}

func (c *streamableClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case m, ok := <-c.inbound:
		if !ok {
			return nil, errClosedPipe
		}
		return m, nil
	case <-c.done:
		return nil, errClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *streamableClientConn) Close() error {
	c.closeOne.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// StreamableServerTransport is the server side of one streamable HTTP
// session: a [Connection] whose Write fans a message out to whichever
// HTTP response (POST or GET) is currently open for it, and whose Read
// drains inbound POSTed requests. Wire it into an http.Handler via
// [StreamableServerTransport.ServeHTTP].
type StreamableServerTransport struct {
	id                 string
	events             *EventStore
	rateLimit          *rate.Limiter
	maxBody            int64
	requireLoopbackReq bool

	mu        sync.Mutex
	inbound   chan jsonrpc.Message
	getWriter chan jsonrpc.Message            // fanned out to an open GET stream, if any
	pending   map[string]chan jsonrpc.Message // responses awaited by an open POST
	closed    bool
	done      chan struct{}
}

// NewStreamableServerTransport creates a session-bound server transport.
// maxBodyBytes bounds POST body size; 0 selects DefaultMaxBodyBytes and a
// negative value disables the limit. requestsPerSecond/burst configure
// POST rate limiting; a rate of 0 disables limiting.
func NewStreamableServerTransport(id string, events *EventStore, maxBodyBytes int64, requestsPerSecond float64, burst int) *StreamableServerTransport {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return &StreamableServerTransport{
		id:        id,
		events:    events,
		rateLimit: limiter,
		maxBody:   maxBodyBytes,
		inbound:   make(chan jsonrpc.Message, 16),
		getWriter: make(chan jsonrpc.Message, 16),
		pending:   make(map[string]chan jsonrpc.Message),
		done:      make(chan struct{}),
	}
}

// RequireLoopbackRequests makes ServeHTTP reject any request whose Host
// header is not a loopback address, defending a locally-bound server
// against DNS rebinding: a page served from a public hostname that
// resolves to 127.0.0.1 could otherwise drive this transport from a
// browser.
func (t *StreamableServerTransport) RequireLoopbackRequests(require bool) {
	t.requireLoopbackReq = require
}

func (t *StreamableServerTransport) Connect(ctx context.Context) (Connection, error) {
	return t, nil
}

func (t *StreamableServerTransport) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case m, ok := <-t.inbound:
		if !ok {
			return nil, errClosedPipe
		}
		return m, nil
	case <-t.done:
		return nil, errClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write emits msg toward the client: a Response matching a request still
// awaited by an open POST is delivered straight to that POST's response
// stream; everything else (server-initiated notifications and requests,
// and any Response whose POST has since moved on) is recorded for replay
// and fanned out to an open GET stream, if any.
func (t *StreamableServerTransport) Write(ctx context.Context, msg jsonrpc.Message) error {
	if resp, ok := msg.(*jsonrpc.Response); ok {
		t.mu.Lock()
		ch, waiting := t.pending[resp.ID.String()]
		if waiting {
			delete(t.pending, resp.ID.String())
		}
		t.mu.Unlock()
		if waiting {
			select {
			case ch <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if _, err := t.events.StoreEvent(t.id, data); err != nil {
		return err
	}
	select {
	case t.getWriter <- msg:
	default:
	}
	return nil
}

func (t *StreamableServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)
	t.events.RemoveStream(t.id)
	return nil
}

// ServeHTTP implements the POST/GET surface of the Streamable HTTP
// transport for this session.
func (t *StreamableServerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.requireLoopbackReq && !util.IsLoopback(r.Host) {
		http.Error(w, "forbidden: server only accepts loopback requests", http.StatusForbidden)
		return
	}
	w.Header().Set(headerSessionID, t.id)

	switch r.Method {
	case http.MethodGet:
		t.serveGET(w, r)
	case http.MethodPost:
		if t.rateLimit != nil && !t.rateLimit.Allow() {
			writeRateLimited(w)
			return
		}
		t.servePOST(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *StreamableServerTransport) servePOST(w http.ResponseWriter, r *http.Request) {
	limit := effectiveMaxBodyBytes(t.maxBody)
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		if isMaxBytesError(err) {
			writeRequestBodyTooLarge(w)
			return
		}
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	msgs, err := jsonrpc.DecodeBatch(data)
	if err != nil {
		http.Error(w, "invalid JSON-RPC payload", http.StatusBadRequest)
		return
	}

	// Register a reply channel for every request in this batch before
	// handing the messages off, so no response can race ahead of the
	// registration.
	var awaited []string
	replies := make(chan jsonrpc.Message, len(msgs))
	t.mu.Lock()
	for _, m := range msgs {
		if req, ok := m.(*jsonrpc.Request); ok {
			key := req.ID.String()
			t.pending[key] = replies
			awaited = append(awaited, key)
		}
	}
	t.mu.Unlock()

	w.Header().Set("Content-Type", contentTypeEventStream)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	// A priming event makes this POST's stream resumable even before any
	// real message has been queued for it.
	primingID, _ := t.events.StoreEvent(t.id, nil)
	writeSSEEvent(w, primingID, nil)
	if flusher != nil {
		flusher.Flush()
	}

	if len(awaited) == 0 {
		// Pure notification batch: nothing to wait for.
		for _, m := range msgs {
			select {
			case t.inbound <- m:
			case <-r.Context().Done():
				return
			}
		}
		return
	}

	defer func() {
		t.mu.Lock()
		for _, key := range awaited {
			delete(t.pending, key)
		}
		t.mu.Unlock()
	}()

	for _, m := range msgs {
		select {
		case t.inbound <- m:
		case <-r.Context().Done():
			return
		}
	}

	remaining := len(awaited)
	for remaining > 0 {
		select {
		case m := <-replies:
			data, err := jsonrpc.EncodeMessage(m)
			if err != nil {
				continue
			}
			id, _ := t.events.StoreEvent(t.id, data)
			writeSSEEvent(w, id, data)
			if flusher != nil {
				flusher.Flush()
			}
			remaining--
		case <-r.Context().Done():
			return
		}
	}
}

func (t *StreamableServerTransport) serveGET(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeEventStream)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	if lastID := r.Header.Get(headerLastEventID); lastID != "" {
		events, err := t.events.ReplayAfter(lastID)
		if err == nil {
			for _, e := range events {
				writeSSEEvent(w, e.ID, e.Payload)
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}

	for {
		select {
		case msg := <-t.getWriter:
			data, err := jsonrpc.EncodeMessage(msg)
			if err != nil {
				continue
			}
			writeSSEEvent(w, "", data)
			if flusher != nil {
				flusher.Flush()
			}
		case <-t.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, id string, payload []byte) {
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	if len(payload) == 0 {
		fmt.Fprint(w, "data: \n\n")
		return
	}
	for _, line := range strings.Split(string(payload), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
