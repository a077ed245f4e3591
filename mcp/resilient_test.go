// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcpcore/go-session/jsonrpc"
)

// serveInitializeOnce answers exactly the initialize handshake a
// [Connect] call performs against the server end of an in-memory
// transport pair, enough to let tests exercise ResilientClient's
// reconnection bookkeeping without a real server.
func serveInitializeOnce(server Transport) {
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
		if req.Method != methodInitialize {
			continue
		}
		result, err := valueOf(&InitializeResult{
			ProtocolVersion: supportedProtocolVersions[0],
			ServerInfo:      &Implementation{Name: "fake-server", Version: "0"},
			Capabilities:    &ServerCapabilities{},
		})
		if err != nil {
			return
		}
		conn.Write(context.Background(), &jsonrpc.Response{ID: req.ID, Result: result})
	}
}

func TestBackoffDelaySequence(t *testing.T) {
	opts := ReconnectionOptions{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		GrowFactor:   2.0,
	}
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for attempt, w := range want {
		if got := BackoffDelay(opts, attempt); got != w {
			t.Errorf("BackoffDelay(attempt=%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestTriggerReconnectDedup(t *testing.T) {
	var dialCount atomic.Int32
	rc := &ResilientClient{
		opts: ReconnectionOptions{
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			GrowFactor:   1,
		},
		logger: discardLogger{},
	}
	rc.factory = func(ctx context.Context) (Transport, error) {
		dialCount.Add(1)
		time.Sleep(20 * time.Millisecond)
		client, server := NewInMemoryTransportPair(4)
		go serveInitializeOnce(server)
		return client, nil
	}

	const concurrent = 3
	var wg sync.WaitGroup
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = rc.triggerReconnect(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("triggerReconnect[%d] = %v, want nil", i, err)
		}
	}
	if got := dialCount.Load(); got != 1 {
		t.Errorf("transport factory called %d times, want exactly 1 for 3 concurrent failures", got)
	}
}

func TestIsRecoverable(t *testing.T) {
	if isRecoverable(nil) {
		t.Error("isRecoverable(nil) = true, want false")
	}
	if !isRecoverable(errClosedPipe) {
		t.Error("isRecoverable(transport fatal) = false, want true")
	}
	if !isRecoverable(context.DeadlineExceeded) {
		t.Error("isRecoverable(DeadlineExceeded) = false, want true")
	}

	protoErr := jsonrpc.NewError(jsonrpc.CodeInvalidParams, "bad params", nil)
	if isRecoverable(protoErr) {
		t.Error("isRecoverable(protocol-level ErrorObject) = true, want false")
	}

	if !isRecoverable(errors.New("something went wrong")) {
		t.Error("isRecoverable(unclassified error) = false, want true")
	}
}
