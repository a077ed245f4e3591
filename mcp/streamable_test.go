// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcpcore/go-session/jsonrpc"
)

func TestStreamableEndToEndToolCall(t *testing.T) {
	s := NewServer(Implementation{Name: "srv", Version: "1"}, &ServerCapabilities{}, nil)
	if err := s.AddTool(Tool{Name: "echo"}, func(ctx *ToolContext, args *jsonValue) (*CallToolResult, error) {
		return &CallToolResult{Content: []Content{NewTextContent("pong")}}, nil
	}); err != nil {
		t.Fatal(err)
	}

	transport := NewStreamableServerTransport("sess-e2e", NewEventStore(0), 0, 0, 0)
	ss, err := s.Connect(context.Background(), transport)
	if err != nil {
		t.Fatal(err)
	}
	httpServer := httptest.NewServer(transport)
	defer httpServer.Close()

	clientTransport := NewStreamableClientTransport(httpServer.URL, StreamableClientTransportOptions{})
	cs, err := Connect(context.Background(), clientTransport, Implementation{Name: "cli", Version: "1"}, &ClientCapabilities{}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	result, err := cs.CallTool(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	text, ok := result.Content[0].(*TextContent)
	if !ok || text.Text != "pong" {
		t.Fatalf("Content = %+v, want text %q", result.Content, "pong")
	}

	cs.Close()
	ss.Close()
}

func TestStreamablePOSTEmitsPrimingEventBeforeResponse(t *testing.T) {
	s := NewServer(Implementation{Name: "srv", Version: "1"}, &ServerCapabilities{}, nil)
	transport := NewStreamableServerTransport("sess-priming", NewEventStore(0), 0, 0, 0)
	if _, err := s.Connect(context.Background(), transport); err != nil {
		t.Fatal(err)
	}
	httpServer := httptest.NewServer(transport)
	defer httpServer.Close()

	resp, err := http.Post(httpServer.URL, contentTypeJSON, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	body := string(data)
	primingIdx := strings.Index(body, "data: \n\n")
	resultIdx := strings.Index(body, `"id":1`)
	if primingIdx < 0 {
		t.Fatalf("response missing a priming event: %q", body)
	}
	if resultIdx < 0 || resultIdx < primingIdx {
		t.Fatalf("the real response did not follow the priming event: %q", body)
	}
}

func TestStreamablePOSTNotificationBatchReturnsWithoutWaiting(t *testing.T) {
	s := NewServer(Implementation{Name: "srv", Version: "1"}, &ServerCapabilities{}, nil)
	transport := NewStreamableServerTransport("sess-notify", NewEventStore(0), 0, 0, 0)
	if _, err := s.Connect(context.Background(), transport); err != nil {
		t.Fatal(err)
	}
	httpServer := httptest.NewServer(transport)
	defer httpServer.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	start := time.Now()
	resp, err := client.Post(httpServer.URL, contentTypeJSON, strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	io.ReadAll(resp.Body)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("a pure notification batch should return promptly, took %v", elapsed)
	}
}

func TestStreamableServeGETReplaysEventsAfterLastEventID(t *testing.T) {
	events := NewEventStore(0)
	transport := NewStreamableServerTransport("sess-replay", events, 0, 0, 0)

	firstID, _ := events.StoreEvent("sess-replay", []byte(`{"jsonrpc":"2.0","method":"one"}`))
	if _, err := events.StoreEvent("sess-replay", nil); err != nil { // priming event, must never replay
		t.Fatal(err)
	}
	if _, err := events.StoreEvent("sess-replay", []byte(`{"jsonrpc":"2.0","method":"two"}`)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	req.Header.Set(headerLastEventID, firstID)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		transport.serveGET(rec, req)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, `"one"`) {
		t.Errorf("replay included the event at Last-Event-Id: %q", body)
	}
	if !strings.Contains(body, `"two"`) {
		t.Errorf("replay is missing the event after Last-Event-Id: %q", body)
	}
}

func TestStreamableRequestBodyTooLarge(t *testing.T) {
	transport := NewStreamableServerTransport("sess-big", NewEventStore(0), 16, 0, 0)
	httpServer := httptest.NewServer(transport)
	defer httpServer.Close()

	oversized := `{"jsonrpc":"2.0","id":1,"method":"ping","padding":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`
	resp, err := http.Post(httpServer.URL, contentTypeJSON, strings.NewReader(oversized))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}

func TestStreamableRateLimiting(t *testing.T) {
	transport := NewStreamableServerTransport("sess-rate", NewEventStore(0), 0, 1, 1)
	httpServer := httptest.NewServer(transport)
	defer httpServer.Close()

	notification := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	resp1, err := http.Post(httpServer.URL, contentTypeJSON, strings.NewReader(notification))
	if err != nil {
		t.Fatal(err)
	}
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", resp1.StatusCode)
	}

	resp2, err := http.Post(httpServer.URL, contentTypeJSON, strings.NewReader(notification))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", resp2.StatusCode, http.StatusTooManyRequests)
	}
}

func TestStreamableRequireLoopbackRejectsNonLoopbackHost(t *testing.T) {
	transport := NewStreamableServerTransport("sess-loopback", NewEventStore(0), 0, 0, 0)
	transport.RequireLoopbackRequests(true)
	httpServer := httptest.NewServer(transport)
	defer httpServer.Close()

	req, err := http.NewRequest(http.MethodPost, httpServer.URL, strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Host = "evil.example.com"
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestStreamableConsumeSSEParsesRetryLine(t *testing.T) {
	transport := NewStreamableClientTransport("http://example.invalid", StreamableClientTransportOptions{})
	c := &streamableClientConn{t: transport, inbound: make(chan jsonrpc.Message, 1), done: make(chan struct{})}

	body := io.NopCloser(strings.NewReader("retry: 1500\n\n"))
	c.consumeSSE(body, false)

	c.mu.Lock()
	got := c.retryDelay
	c.mu.Unlock()
	if got != 1500*time.Millisecond {
		t.Fatalf("retryDelay = %v, want %v", got, 1500*time.Millisecond)
	}
}

func TestStreamableReconnectUsesServerSuppliedRetryDelay(t *testing.T) {
	transport := NewStreamableClientTransport("http://example.invalid", StreamableClientTransportOptions{})
	transport.opts.ReconnectionOptions.InitialDelay = time.Minute // would dominate if the override were ignored
	c := &streamableClientConn{t: transport, retryDelay: 5 * time.Millisecond, closed: true}

	// closed makes reconnectStream return right after its first backoff
	// sleep, so the elapsed time shows which initial delay that sleep used.
	start := time.Now()
	c.reconnectStream(false)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("reconnectStream took %v, want it to return promptly once closed", elapsed)
	}
}

func TestStreamableLoopbackHostAllowed(t *testing.T) {
	transport := NewStreamableServerTransport("sess-loopback-ok", NewEventStore(0), 0, 0, 0)
	transport.RequireLoopbackRequests(true)
	httpServer := httptest.NewServer(transport)
	defer httpServer.Close()

	resp, err := http.Post(httpServer.URL, contentTypeJSON, strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a loopback request", resp.StatusCode)
	}
}
