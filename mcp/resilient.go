// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpcore/go-session/jsonrpc"
)

// ConnState is the lifecycle state of a [ResilientClient].
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ReconnectionOptions configures a ResilientClient's reconnection policy.
type ReconnectionOptions struct {
	MaxRetries          int
	InitialDelay        time.Duration
	MaxDelay            time.Duration
	GrowFactor          float64
	HealthCheckInterval time.Duration // 0 disables the health probe
}

// DefaultReconnectionOptions matches the policy's stated defaults.
func DefaultReconnectionOptions() ReconnectionOptions {
	return ReconnectionOptions{
		MaxRetries:          3,
		InitialDelay:        time.Second,
		MaxDelay:            30 * time.Second,
		GrowFactor:          2.0,
		HealthCheckInterval: 60 * time.Second,
	}
}

// BackoffDelay computes the delay before reconnection attempt n (0-based),
// per delay(n) = min(maxDelay, initialDelay * growFactor^n).
func BackoffDelay(opts ReconnectionOptions, attempt int) time.Duration {
	d := float64(opts.InitialDelay) * math.Pow(opts.GrowFactor, float64(attempt))
	max := float64(opts.MaxDelay)
	if d > max {
		d = max
	}
	return time.Duration(d)
}

// TransportFactory produces a fresh Transport for each (re)connection
// attempt.
type TransportFactory func(ctx context.Context) (Transport, error)

// ResilientClient supervises a ClientSession, transparently reconnecting
// on recoverable transport failures and retrying the call that triggered
// them.
type ResilientClient struct {
	factory      TransportFactory
	clientInfo   Implementation
	capabilities *ClientCapabilities
	logger       Logger
	opts         ReconnectionOptions

	mu             sync.Mutex
	state          ConnState
	session        *ClientSession
	attempt        int
	reconnectWG    *sync.WaitGroup // non-nil while a reconnection is in flight
	reconnectErr   error
	cancelProbe    context.CancelFunc
	onStateChanged func(ConnState)

	onToolsChanged     func([]Tool)
	onPromptsChanged   func([]Prompt)
	onResourcesChanged func([]Resource)

	notifHandlers []func(*ClientSession)

	closed atomic.Bool
}

// NewResilientClient creates a ResilientClient; call Connect to establish
// the first connection.
func NewResilientClient(factory TransportFactory, clientInfo Implementation, caps *ClientCapabilities, opts ReconnectionOptions, logger Logger) *ResilientClient {
	if logger == nil {
		logger = discardLogger{}
	}
	return &ResilientClient{
		factory:      factory,
		clientInfo:   clientInfo,
		capabilities: caps,
		logger:       logger,
		opts:         opts,
		state:        Disconnected,
	}
}

// OnStateChanged registers a callback invoked on every state transition.
func (rc *ResilientClient) OnStateChanged(f func(ConnState)) { rc.onStateChanged = f }

// OnToolsChanged registers a callback fired with the fresh tool list after
// a successful reconnect and on steady-state tools/list_changed.
func (rc *ResilientClient) OnToolsChanged(f func([]Tool)) { rc.onToolsChanged = f }

// OnPromptsChanged is the prompts analogue of OnToolsChanged.
func (rc *ResilientClient) OnPromptsChanged(f func([]Prompt)) { rc.onPromptsChanged = f }

// OnResourcesChanged is the resources analogue of OnToolsChanged.
func (rc *ResilientClient) OnResourcesChanged(f func([]Resource)) { rc.onResourcesChanged = f }

// State returns the client's current connection state.
func (rc *ResilientClient) State() ConnState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

func (rc *ResilientClient) setState(s ConnState) {
	rc.mu.Lock()
	rc.state = s
	cb := rc.onStateChanged
	rc.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Connect establishes the first connection and starts the health probe if
// configured.
func (rc *ResilientClient) Connect(ctx context.Context) error {
	rc.setState(Connecting)
	session, err := rc.dial(ctx)
	if err != nil {
		rc.setState(Disconnected)
		return err
	}
	rc.mu.Lock()
	rc.session = session
	rc.mu.Unlock()
	rc.attachHandlers(session)
	rc.setState(Connected)
	rc.startHealthProbe()
	return nil
}

func (rc *ResilientClient) dial(ctx context.Context) (*ClientSession, error) {
	transport, err := rc.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: resilient client: transport factory: %w", err)
	}
	return Connect(ctx, transport, rc.clientInfo, rc.capabilities, rc.logger)
}

// attachHandlers reattaches the durable notification handlers this
// ResilientClient owns to a freshly (re)connected session, per the
// handler-preservation requirement: the session itself holds no durable
// handler state across reconnection.
func (rc *ResilientClient) attachHandlers(session *ClientSession) {
	session.OnToolsListChanged(func(ctx context.Context) { rc.refreshTools(ctx, session) })
	session.OnPromptsListChanged(func(ctx context.Context) { rc.refreshPrompts(ctx, session) })
	session.OnResourcesListChanged(func(ctx context.Context) { rc.refreshResources(ctx, session) })
}

func (rc *ResilientClient) refreshTools(ctx context.Context, session *ClientSession) {
	if rc.onToolsChanged == nil {
		return
	}
	res, err := session.ListTools(ctx)
	if err != nil {
		rc.logger.Warnf("mcp: resilient client: refreshing tools: %v", err)
		return
	}
	rc.onToolsChanged(res.Tools)
}

func (rc *ResilientClient) refreshPrompts(ctx context.Context, session *ClientSession) {
	if rc.onPromptsChanged == nil {
		return
	}
	res, err := session.ListPrompts(ctx)
	if err != nil {
		rc.logger.Warnf("mcp: resilient client: refreshing prompts: %v", err)
		return
	}
	rc.onPromptsChanged(res.Prompts)
}

func (rc *ResilientClient) refreshResources(ctx context.Context, session *ClientSession) {
	if rc.onResourcesChanged == nil {
		return
	}
	res, err := session.ListResources(ctx)
	if err != nil {
		rc.logger.Warnf("mcp: resilient client: refreshing resources: %v", err)
		return
	}
	rc.onResourcesChanged(res.Resources)
}

func (rc *ResilientClient) startHealthProbe() {
	if rc.opts.HealthCheckInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rc.mu.Lock()
	rc.cancelProbe = cancel
	rc.mu.Unlock()

	go func() {
		ticker := time.NewTicker(rc.opts.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rc.mu.Lock()
				session := rc.session
				rc.mu.Unlock()
				if session == nil {
					continue
				}
				// Ping is deliberately NOT run through withReconnection: a
				// failing health probe must trigger reconnection, not be
				// masked by it.
				if err := session.Ping(ctx); err != nil && isRecoverable(err) {
					rc.triggerReconnect(ctx)
				}
			}
		}
	}()
}

// isRecoverable classifies an error from a protocol call as one that
// should trigger reconnection, as opposed to a protocol-level failure
// (bad params, tool errors) that must propagate immediately.
func isRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var eo *jsonrpc.ErrorObject
	if errors.As(err, &eo) {
		return false
	}
	return true
}

// withReconnection executes call against the current session, and on a
// recoverable failure joins (or starts) exactly one reconnection before
// retrying, up to MaxRetries retries (MaxRetries+1 attempts in all).
func (rc *ResilientClient) withReconnection(ctx context.Context, call func(*ClientSession) error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.opts.MaxRetries; attempt++ {
		rc.mu.Lock()
		session := rc.session
		rc.mu.Unlock()
		if session == nil {
			if err := rc.triggerReconnect(ctx); err != nil {
				return err
			}
			rc.mu.Lock()
			session = rc.session
			rc.mu.Unlock()
		}

		err := call(session)
		if err == nil {
			return nil
		}
		if !isRecoverable(err) {
			return err
		}
		lastErr = err
		rc.mu.Lock()
		replaced := rc.session != session
		rc.mu.Unlock()
		if replaced {
			// Another caller already replaced the failed session; retry on
			// the new one instead of starting a second reconnection.
			continue
		}
		if rerr := rc.triggerReconnect(ctx); rerr != nil {
			return rerr
		}
	}
	return fmt.Errorf("mcp: resilient client: exhausted retries: %w", lastErr)
}

// triggerReconnect starts a reconnection if none is in flight, or joins
// the in-flight one. Exactly one reconnection sequence, and one call to
// the transport factory, is performed per outage regardless of how many
// concurrent callers observe the failure.
func (rc *ResilientClient) triggerReconnect(ctx context.Context) error {
	rc.mu.Lock()
	if rc.reconnectWG != nil {
		wg := rc.reconnectWG
		rc.mu.Unlock()
		wg.Wait()
		rc.mu.Lock()
		err := rc.reconnectErr
		rc.mu.Unlock()
		return err
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	rc.reconnectWG = wg
	rc.attempt++
	rc.mu.Unlock()

	rc.setState(Reconnecting)
	delay := BackoffDelay(rc.opts, rc.attempt-1)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}

	session, err := rc.dial(ctx)

	rc.mu.Lock()
	rc.reconnectErr = err
	if err == nil {
		rc.session = session
		rc.attempt = 0
	}
	rc.reconnectWG = nil
	rc.mu.Unlock()
	wg.Done()

	if err != nil {
		rc.setState(Disconnected)
		return err
	}
	rc.attachHandlers(session)
	rc.setState(Connected)

	rc.refreshTools(ctx, session)
	rc.refreshPrompts(ctx, session)
	rc.refreshResources(ctx, session)
	return nil
}

// CallTool calls tools/call with reconnection supervision.
func (rc *ResilientClient) CallTool(ctx context.Context, name string, args *jsonrpc.Value) (result *CallToolResult, err error) {
	err = rc.withReconnection(ctx, func(session *ClientSession) error {
		var callErr error
		result, callErr = session.CallTool(ctx, name, args)
		return callErr
	})
	return result, err
}

// ListTools calls tools/list with reconnection supervision.
func (rc *ResilientClient) ListTools(ctx context.Context) (result *ListToolsResult, err error) {
	err = rc.withReconnection(ctx, func(session *ClientSession) error {
		var callErr error
		result, callErr = session.ListTools(ctx)
		return callErr
	})
	return result, err
}

// Disconnect cancels the health probe and any in-flight reconnection, and
// closes the underlying session. The client re-enters Disconnected and
// stays there until Connect is called again.
func (rc *ResilientClient) Disconnect() error {
	rc.mu.Lock()
	cancel := rc.cancelProbe
	session := rc.session
	rc.session = nil
	rc.cancelProbe = nil
	rc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	rc.setState(Disconnected)
	if session != nil {
		return session.Close()
	}
	return nil
}
