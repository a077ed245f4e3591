// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcpcore/go-session/internal/jsonrpc2"
	"github.com/mcpcore/go-session/jsonrpc"
)

func dispatcherPair(t *testing.T) (*Dispatcher, *Dispatcher) {
	t.Helper()
	a, b := NewInMemoryTransportPair(8)
	aConn, err := a.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	bConn, err := b.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return NewDispatcher(aConn, nil), NewDispatcher(bConn, nil)
}

func TestDispatcherRequestResponseRoundtrip(t *testing.T) {
	d1, d2 := dispatcherPair(t)
	defer d1.Close()
	defer d2.Close()

	d2.OnRequest("echo", func(ctx context.Context, params *jsonrpc.Value) (*jsonrpc.Value, error) {
		return params, nil
	})

	v := jsonrpc.String("hello")
	fut, err := d1.SendRequest(context.Background(), "echo", &v)
	if err != nil {
		t.Fatal(err)
	}
	res, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.String() != "hello" {
		t.Fatalf("result = %q, want %q", res.String(), "hello")
	}
}

func TestDispatcherMethodNotFound(t *testing.T) {
	d1, d2 := dispatcherPair(t)
	defer d1.Close()
	defer d2.Close()

	fut, err := d1.SendRequest(context.Background(), "nonexistent", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = fut.Wait(context.Background())
	if err == nil {
		t.Fatal("expected an error calling an unregistered method")
	}
	var eo *jsonrpc.ErrorObject
	if !errors.As(err, &eo) {
		t.Fatalf("error = %v (%T), want *jsonrpc.ErrorObject", err, err)
	}
	if eo.Code != jsonrpc.CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", eo.Code, jsonrpc.CodeMethodNotFound)
	}
}

func TestDispatcherNotificationFanOut(t *testing.T) {
	d1, d2 := dispatcherPair(t)
	defer d1.Close()
	defer d2.Close()

	var calls1, calls2 int
	done := make(chan struct{}, 2)
	d2.OnNotification("ping", func(ctx context.Context, params *jsonrpc.Value) {
		calls1++
		done <- struct{}{}
	})
	d2.OnNotification("ping", func(ctx context.Context, params *jsonrpc.Value) {
		calls2++
		done <- struct{}{}
	})

	if err := d1.SendNotification(context.Background(), "ping", nil); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all notification handlers fired")
		}
	}
	if calls1 != 1 || calls2 != 1 {
		t.Fatalf("calls1=%d calls2=%d, want 1 and 1", calls1, calls2)
	}
}

func TestDispatcherHandlerErrorPreservesErrorObject(t *testing.T) {
	d1, d2 := dispatcherPair(t)
	defer d1.Close()
	defer d2.Close()

	d2.OnRequest("fails", func(ctx context.Context, params *jsonrpc.Value) (*jsonrpc.Value, error) {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "bad input", nil)
	})

	fut, err := d1.SendRequest(context.Background(), "fails", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = fut.Wait(context.Background())
	var eo *jsonrpc.ErrorObject
	if !errors.As(err, &eo) || eo.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("error = %v, want an ErrorObject with code %d", err, jsonrpc.CodeInvalidParams)
	}
}

func TestDispatcherHandlerGenericErrorBecomesInternal(t *testing.T) {
	d1, d2 := dispatcherPair(t)
	defer d1.Close()
	defer d2.Close()

	d2.OnRequest("fails", func(ctx context.Context, params *jsonrpc.Value) (*jsonrpc.Value, error) {
		return nil, errors.New("boom")
	})

	fut, err := d1.SendRequest(context.Background(), "fails", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = fut.Wait(context.Background())
	var eo *jsonrpc.ErrorObject
	if !errors.As(err, &eo) || eo.Code != jsonrpc.CodeInternalError {
		t.Fatalf("error = %v, want an internal ErrorObject", err)
	}
}

func TestDispatcherSentinelErrorsClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"method not found", jsonrpc2.ErrMethodNotFound, jsonrpc.CodeMethodNotFound},
		{"invalid params", jsonrpc2.ErrInvalidParams, jsonrpc.CodeInvalidParams},
		{"invalid request", jsonrpc2.ErrInvalidRequest, jsonrpc.CodeInvalidRequest},
		{"resource not found", jsonrpc2.ErrResourceNotFound, jsonrpc.CodeResourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eo := asErrorObject(tt.err)
			if eo.Code != tt.want {
				t.Errorf("asErrorObject(%v).Code = %d, want %d", tt.err, eo.Code, tt.want)
			}
		})
	}
}

func TestDispatcherCloseFailsPendingRequests(t *testing.T) {
	d1, d2 := dispatcherPair(t)
	defer d2.Close()

	// d2 never answers "stall"; Close on d1 must fail the pending Future
	// rather than hang the caller.
	fut, err := d1.SendRequest(context.Background(), "stall", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d1.Close(); err != nil {
		t.Fatal(err)
	}
	_, err = fut.Wait(context.Background())
	if err == nil {
		t.Fatal("expected Wait to fail once the dispatcher is closed")
	}
}

func TestDispatcherSendRequestAfterCloseFails(t *testing.T) {
	d1, d2 := dispatcherPair(t)
	defer d2.Close()
	if err := d1.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := d1.SendRequest(context.Background(), "anything", nil); err == nil {
		t.Fatal("expected SendRequest to fail on a closed dispatcher")
	}
}

func TestDispatcherResponseForUnknownIDIgnored(t *testing.T) {
	d1, d2 := dispatcherPair(t)
	defer d1.Close()
	defer d2.Close()

	// d2 sends a response to an id d1 never asked about; d1 should just log
	// and keep running, not panic or wedge the receive loop.
	stray := &jsonrpc.Response{ID: jsonrpc.IntID(999), Result: nil}
	if err := d2.conn.Write(context.Background(), stray); err != nil {
		t.Fatal(err)
	}

	d2.OnRequest("still-alive", func(ctx context.Context, params *jsonrpc.Value) (*jsonrpc.Value, error) {
		v := jsonrpc.Bool(true)
		return &v, nil
	})
	fut, err := d1.SendRequest(context.Background(), "still-alive", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("dispatcher wedged after a stray response: %v", err)
	}
}
