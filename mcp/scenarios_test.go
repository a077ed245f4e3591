// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcpcore/go-session/jsonrpc"
)

// Scenario 1: a tool call round trip.
func TestScenarioToolCallRoundtrip(t *testing.T) {
	cs, s := connectedClientAndServer(t, &ServerCapabilities{})
	if err := s.AddTool(Tool{Name: "sum"}, func(ctx *ToolContext, args *jsonValue) (*CallToolResult, error) {
		a, _ := args.Get("a")
		b, _ := args.Get("b")
		av, _ := a.Int()
		bv, _ := b.Int()
		return &CallToolResult{Content: []Content{NewTextContent(strconv.FormatInt(av+bv, 10))}}, nil
	}); err != nil {
		t.Fatal(err)
	}

	args := jsonrpc.Object(jsonrpc.KV{Key: "a", Value: jsonrpc.Int(5)}, jsonrpc.KV{Key: "b", Value: jsonrpc.Int(3)})
	result, err := cs.CallTool(context.Background(), "sum", &args)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("Content = %+v, want one entry", result.Content)
	}
	text, ok := result.Content[0].(*TextContent)
	if !ok || text.Text != "8" || result.IsError {
		t.Fatalf("CallTool result = %+v, want text(\"8\"), isError=false", result)
	}
}

// Scenario 2: a long-running tool call reporting progress in three steps.
func TestScenarioProgressNotifications(t *testing.T) {
	cs, s := connectedClientAndServer(t, &ServerCapabilities{})
	if err := s.AddTool(Tool{Name: "steps"}, func(ctx *ToolContext, args *jsonValue) (*CallToolResult, error) {
		for i := 1; i <= 3; i++ {
			msg := fmt.Sprintf("Step %d/3: Processing...", i)
			if err := ctx.Progress(ctx.Context, msg, float64(i)/3, 1.0); err != nil {
				return nil, err
			}
		}
		return &CallToolResult{Content: []Content{NewTextContent("done")}}, nil
	}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var updates []ProgressNotificationParams
	got := make(chan struct{})
	cs.OnProgress(func(ctx context.Context, p ProgressNotificationParams) {
		mu.Lock()
		updates = append(updates, p)
		n := len(updates)
		mu.Unlock()
		if n == 3 {
			close(got)
		}
	})

	args := jsonrpc.Object()
	result, err := cs.CallToolWithMeta(context.Background(), "steps", &args, Meta{progressTokenKey: "tok-1"})
	if err != nil {
		t.Fatal(err)
	}
	_ = result

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("did not observe 3 progress updates")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 3 {
		t.Fatalf("recorded %d progress updates, want exactly 3", len(updates))
	}
	wantProgress := []float64{1.0 / 3, 2.0 / 3, 1.0}
	for i, p := range updates {
		if p.ProgressToken != "tok-1" || p.Total != 1.0 || p.Progress != wantProgress[i] {
			t.Errorf("updates[%d] = %+v, want progress %v, total 1.0, token tok-1", i, p, wantProgress[i])
		}
	}
}

// Scenario 3: a task transitions working -> inputRequired -> completed,
// each emitting notifications/tasks/status; a further update after
// completion fails.
func TestScenarioTaskStatusTransitions(t *testing.T) {
	caps := tasksCapableCapabilities()
	cs, s := connectedClientAndServer(t, caps)

	proceed := make(chan struct{})
	tool := Tool{Name: "book_table", Execution: ToolExecution{TaskSupport: TaskExecutionOptional}}
	if err := s.AddTool(tool, func(ctx *ToolContext, args *jsonValue) (*CallToolResult, error) {
		if _, err := ctx.Session.taskStore.UpdateTask(ctx.TaskID(), TaskInputRequired, "awaiting confirmation"); err != nil {
			return nil, err
		}
		<-proceed
		return &CallToolResult{Content: []Content{NewTextContent("booked")}}, nil
	}); err != nil {
		t.Fatal(err)
	}

	statuses := make(chan TaskStatus, 8)
	cs.OnTaskStatus(func(ctx context.Context, task Task) { statuses <- task.Status })

	ttl := int64(60_000)
	raw, err := cs.CallToolWithMeta(context.Background(), "book_table", nil, Meta{
		metaKeyTask: map[string]any{"ttl": ttl},
	})
	if err != nil {
		t.Fatal(err)
	}
	var created CreateTaskResult
	if err := decodeInto(raw, &created); err != nil {
		t.Fatal(err)
	}
	if created.Task.Status != TaskWorking {
		t.Fatalf("initial task status = %v, want %v", created.Task.Status, TaskWorking)
	}
	taskID := created.Task.TaskID

	select {
	case got := <-statuses:
		if got != TaskInputRequired {
			t.Fatalf("status = %v, want %v", got, TaskInputRequired)
		}
	case <-time.After(time.Second):
		t.Fatal("never observed input_required status")
	}

	close(proceed)

	select {
	case got := <-statuses:
		if got != TaskCompleted {
			t.Fatalf("final status = %v, want %v", got, TaskCompleted)
		}
	case <-time.After(time.Second):
		t.Fatal("never observed completed status")
	}

	s.mu.Lock()
	var ss *ServerSession
	for existing := range s.sessions {
		ss = existing
	}
	s.mu.Unlock()
	if ss == nil {
		t.Fatal("no ServerSession registered on the server")
	}
	if _, err := ss.taskStore.UpdateTask(taskID, TaskWorking, ""); !errors.Is(err, errTerminalStatusTransition) {
		t.Fatalf("UpdateTask after completion = %v, want errTerminalStatusTransition", err)
	}
}

// Scenario 4: events E1..E5 are stored on a stream; reconnecting with
// Last-Event-Id: E3 replays E4 and E5, in order.
func TestScenarioEventReplayAfterReconnect(t *testing.T) {
	events := NewEventStore(0)
	ids := make([]string, 5)
	for i := range ids {
		id, err := events.StoreEvent("s", []byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"e%d"}`, i+1)))
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}

	replayed, err := events.ReplayAfter(ids[2]) // Last-Event-Id: E3
	if err != nil {
		t.Fatal(err)
	}
	if len(replayed) != 2 {
		t.Fatalf("ReplayAfter(E3) returned %d events, want 2 (E4, E5)", len(replayed))
	}
	if !strings.Contains(string(replayed[0].Payload), `"e4"`) {
		t.Errorf("replayed[0] = %s, want e4", replayed[0].Payload)
	}
	if !strings.Contains(string(replayed[1].Payload), `"e5"`) {
		t.Errorf("replayed[1] = %s, want e5", replayed[1].Payload)
	}
}

// serveFakeEchoServer answers initialize and a single "echo" tool over an
// in-memory transport's server end, standing in for a real [Server] in the
// reconnection-dedup scenario below.
func serveFakeEchoServer(server Transport) {
	conn, err := server.Connect(context.Background())
	if err != nil {
		return
	}
	for {
		msg, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		req, ok := msg.(*jsonrpc.Request)
		if !ok {
			continue
		}
		switch req.Method {
		case methodInitialize:
			result, _ := valueOf(&InitializeResult{
				ProtocolVersion: supportedProtocolVersions[0],
				ServerInfo:      &Implementation{Name: "fake-server", Version: "0"},
				Capabilities:    &ServerCapabilities{},
			})
			conn.Write(context.Background(), &jsonrpc.Response{ID: req.ID, Result: result})
		case methodCallTool:
			result, _ := valueOf(&CallToolResult{Content: []Content{NewTextContent("ok")}})
			conn.Write(context.Background(), &jsonrpc.Response{ID: req.ID, Result: result})
		}
	}
}

// Scenario 5: 3 concurrent tool calls are outstanding when the transport is
// severed; the supervisor performs exactly 1 reconnection (2 dials total:
// the initial connect plus the one reconnect), and all 3 calls eventually
// succeed.
func TestScenarioReconnectionDedup(t *testing.T) {
	var dialCount atomic.Int32
	rc := NewResilientClient(func(ctx context.Context) (Transport, error) {
		dialCount.Add(1)
		client, server := NewInMemoryTransportPair(8)
		go serveFakeEchoServer(server)
		return client, nil
	}, Implementation{Name: "cli", Version: "1"}, &ClientCapabilities{}, ReconnectionOptions{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		GrowFactor:   1,
	}, discardLogger{})

	if err := rc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := dialCount.Load(); got != 1 {
		t.Fatalf("dial count after initial connect = %d, want 1", got)
	}

	rc.mu.Lock()
	deadSession := rc.session
	rc.mu.Unlock()
	if err := deadSession.Close(); err != nil {
		t.Fatalf("severing the connection: %v", err)
	}

	const concurrent = 3
	var wg sync.WaitGroup
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rc.CallTool(context.Background(), "echo", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("CallTool[%d] = %v, want nil", i, err)
		}
	}
	if got := dialCount.Load(); got != 2 {
		t.Errorf("transport factory called %d times, want exactly 2 (initial + one reconnect)", got)
	}
}

// Scenario 6: a server-initiated elicitation during a tool call.
func TestScenarioElicitationWithinTask(t *testing.T) {
	cs, s := connectedClientAndServer(t, &ServerCapabilities{})

	var elicitCalls atomic.Int32
	cs.OnElicit(func(ctx context.Context, params *ElicitParams) (*ElicitResult, error) {
		elicitCalls.Add(1)
		if params.Message != "confirm?" {
			t.Errorf("Message = %q, want %q", params.Message, "confirm?")
		}
		return &ElicitResult{Action: "accept", Content: map[string]any{"confirmed": true}}, nil
	})

	if err := s.AddTool(Tool{Name: "book_table"}, func(ctx *ToolContext, args *jsonValue) (*CallToolResult, error) {
		res, err := ctx.Session.Elicit(ctx.Context, &ElicitParams{Message: "confirm?"})
		if err != nil {
			return nil, err
		}
		if res.Action != "accept" {
			return &CallToolResult{Content: []Content{NewTextContent("cancelled")}}, nil
		}
		return &CallToolResult{Content: []Content{NewTextContent("[SUCCESS]")}}, nil
	}); err != nil {
		t.Fatal(err)
	}

	result, err := cs.CallTool(context.Background(), "book_table", nil)
	if err != nil {
		t.Fatal(err)
	}
	text, ok := result.Content[0].(*TextContent)
	if !ok || text.Text != "[SUCCESS]" {
		t.Fatalf("Content = %+v, want [SUCCESS]", result.Content)
	}
	if got := elicitCalls.Load(); got != 1 {
		t.Fatalf("elicitation callback invoked %d times, want exactly 1", got)
	}
}
