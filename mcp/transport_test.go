// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mcpcore/go-session/jsonrpc"
)

func TestInMemoryTransportPairExchangesMessages(t *testing.T) {
	clientT, serverT := NewInMemoryTransportPair(0)
	clientConn, err := clientT.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	serverConn, err := serverT.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	sent := &jsonrpc.Notification{Method: "ping"}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := clientConn.Write(context.Background(), sent); err != nil {
			t.Error(err)
		}
	}()

	got, err := serverConn.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	n, ok := got.(*jsonrpc.Notification)
	if !ok || n.Method != "ping" {
		t.Fatalf("got %+v, want a ping notification", got)
	}
	<-done
}

func TestInMemoryTransportCloseUnblocksBothEnds(t *testing.T) {
	clientT, serverT := NewInMemoryTransportPair(0)
	clientConn, _ := clientT.Connect(context.Background())
	serverConn, _ := serverT.Connect(context.Background())

	if err := clientConn.Close(); err != nil {
		t.Fatal(err)
	}
	// Close is idempotent.
	if err := clientConn.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := serverConn.Read(context.Background()); err == nil {
		t.Fatal("expected Read on the peer to fail after Close")
	}
	if err := serverConn.Write(context.Background(), &jsonrpc.Notification{Method: "x"}); err == nil {
		t.Fatal("expected Write on the peer to fail after Close")
	}
}

func TestInMemoryTransportReadRespectsContext(t *testing.T) {
	clientT, _ := NewInMemoryTransportPair(0)
	conn, _ := clientT.Connect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected Read to fail once the context deadline passes")
	}
}

func TestIsFatalClassification(t *testing.T) {
	if !IsFatal(errClosedPipe) {
		t.Error("IsFatal(errClosedPipe) = false, want true")
	}
	if !IsFatal(errTransportFatal) {
		t.Error("IsFatal(errTransportFatal) = false, want true")
	}
	if IsFatal(context.DeadlineExceeded) {
		t.Error("IsFatal(DeadlineExceeded) = true, want false")
	}
}
