// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mcpcore/go-session/jsonrpc"
)

// State is the lifecycle state of a session, per the initialize handshake.
type State int32

const (
	StateCreated State = iota
	StateInitializing
	StateInitialized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errNotInitialized = fmt.Errorf("mcp: session is not initialized")
var errSessionClosed = fmt.Errorf("mcp: session is closed")

// ClientSession is one end of an initialized MCP connection, from the
// client's point of view.
type ClientSession struct {
	dispatcher *Dispatcher
	logger     Logger

	state atomic.Int32

	clientInfo   Implementation
	capabilities *ClientCapabilities

	mu               sync.Mutex
	protocolVersion  string
	peerCapabilities *ServerCapabilities
	peerInfo         *Implementation
}

// Connect dials transport, performs the initialize handshake, and returns
// a ready ClientSession.
func Connect(ctx context.Context, transport Transport, clientInfo Implementation, caps *ClientCapabilities, logger Logger) (*ClientSession, error) {
	conn, err := transport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect: %w", err)
	}
	if logger == nil {
		logger = discardLogger{}
	}
	cs := &ClientSession{
		dispatcher:   NewDispatcher(conn, logger),
		logger:       logger,
		clientInfo:   clientInfo,
		capabilities: caps,
	}
	cs.state.Store(int32(StateInitializing))

	params, err := valueOf(&InitializeParams{
		ProtocolVersion: supportedProtocolVersions[0],
		Capabilities:    caps,
		ClientInfo:      &clientInfo,
	})
	if err != nil {
		return nil, err
	}
	fut, err := cs.dispatcher.SendRequest(ctx, methodInitialize, params)
	if err != nil {
		return nil, err
	}
	result, err := fut.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}
	var initResult InitializeResult
	if err := decodeInto(result, &initResult); err != nil {
		return nil, fmt.Errorf("mcp: decoding initialize result: %w", err)
	}

	cs.mu.Lock()
	cs.protocolVersion = initResult.ProtocolVersion
	cs.peerCapabilities = initResult.Capabilities
	cs.peerInfo = initResult.ServerInfo
	cs.mu.Unlock()

	if err := cs.dispatcher.SendNotification(ctx, notificationInitialized, nil); err != nil {
		return nil, fmt.Errorf("mcp: sending initialized notification: %w", err)
	}
	cs.state.Store(int32(StateInitialized))
	return cs, nil
}

// State returns the session's current lifecycle state.
func (cs *ClientSession) State() State { return State(cs.state.Load()) }

// Capabilities returns the peer server's negotiated capabilities.
func (cs *ClientSession) Capabilities() *ServerCapabilities {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.peerCapabilities
}

func (cs *ClientSession) call(ctx context.Context, method string, params, result any) error {
	if cs.State() == StateClosed {
		return errSessionClosed
	}
	p, err := valueOf(params)
	if err != nil {
		return err
	}
	fut, err := cs.dispatcher.SendRequest(ctx, method, p)
	if err != nil {
		return err
	}
	val, err := fut.Wait(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return decodeInto(val, result)
}

// Ping issues the ping method, used by the resilient client as a health
// probe and available directly for callers that want one.
func (cs *ClientSession) Ping(ctx context.Context) error {
	return cs.call(ctx, methodPing, struct{}{}, nil)
}

// ListTools calls tools/list.
func (cs *ClientSession) ListTools(ctx context.Context) (*ListToolsResult, error) {
	var res ListToolsResult
	if err := cs.call(ctx, methodListTools, &ListToolsParams{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CallTool calls tools/call without _meta and decodes the reply as a
// CallToolResult. To request task execution, use CallToolWithMeta, which
// returns the raw result (a CreateTaskResult in that case).
func (cs *ClientSession) CallTool(ctx context.Context, name string, args *jsonrpc.Value) (*CallToolResult, error) {
	var res CallToolResult
	if err := cs.call(ctx, methodCallTool, &CallToolParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CallToolWithMeta is CallTool plus an explicit _meta, e.g. to request task
// execution or attach a progress token. The raw result is returned
// undecoded since it may be either a CallToolResult or a CreateTaskResult.
func (cs *ClientSession) CallToolWithMeta(ctx context.Context, name string, args *jsonrpc.Value, meta Meta) (*jsonrpc.Value, error) {
	if cs.State() == StateClosed {
		return nil, errSessionClosed
	}
	p, err := valueOf(&CallToolParams{Meta: meta, Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	fut, err := cs.dispatcher.SendRequest(ctx, methodCallTool, p)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// ListPrompts calls prompts/list.
func (cs *ClientSession) ListPrompts(ctx context.Context) (*ListPromptsResult, error) {
	var res ListPromptsResult
	if err := cs.call(ctx, methodListPrompts, &ListPromptsParams{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResources calls resources/list.
func (cs *ClientSession) ListResources(ctx context.Context) (*ListResourcesResult, error) {
	var res ListResourcesResult
	if err := cs.call(ctx, methodListResources, &ListResourcesParams{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReadResource calls resources/read.
func (cs *ClientSession) ReadResource(ctx context.Context, uri string) (*jsonrpc.Value, error) {
	if cs.State() == StateClosed {
		return nil, errSessionClosed
	}
	p, err := valueOf(&ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	fut, err := cs.dispatcher.SendRequest(ctx, methodReadResource, p)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// ListTasks calls tasks/list.
func (cs *ClientSession) ListTasks(ctx context.Context, cursor string) (*ListTasksResult, error) {
	var res ListTasksResult
	if err := cs.call(ctx, methodTasksList, &ListTasksParams{Cursor: cursor}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTask calls tasks/get.
func (cs *ClientSession) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := cs.call(ctx, methodTasksGet, &GetTaskParams{TaskID: taskID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CancelTask calls tasks/cancel.
func (cs *ClientSession) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := cs.call(ctx, methodTasksCancel, &CancelTaskParams{TaskID: taskID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TaskResult calls tasks/result, returning the flattened raw result.
func (cs *ClientSession) TaskResult(ctx context.Context, taskID string) (*jsonrpc.Value, error) {
	if cs.State() == StateClosed {
		return nil, errSessionClosed
	}
	p, err := valueOf(&TaskResultParams{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	fut, err := cs.dispatcher.SendRequest(ctx, methodTasksResult, p)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// OnToolsListChanged registers a handler for notifications/tools/list_changed.
func (cs *ClientSession) OnToolsListChanged(h func(ctx context.Context)) {
	cs.dispatcher.OnNotification(notificationToolsListChanged, func(ctx context.Context, _ *jsonrpc.Value) { h(ctx) })
}

// OnPromptsListChanged registers a handler for notifications/prompts/list_changed.
func (cs *ClientSession) OnPromptsListChanged(h func(ctx context.Context)) {
	cs.dispatcher.OnNotification(notificationPromptsListChanged, func(ctx context.Context, _ *jsonrpc.Value) { h(ctx) })
}

// OnResourcesListChanged registers a handler for notifications/resources/list_changed.
func (cs *ClientSession) OnResourcesListChanged(h func(ctx context.Context)) {
	cs.dispatcher.OnNotification(notificationResourcesListChanged, func(ctx context.Context, _ *jsonrpc.Value) { h(ctx) })
}

// OnTaskStatus registers a handler for notifications/tasks/status.
func (cs *ClientSession) OnTaskStatus(h func(ctx context.Context, task Task)) {
	cs.dispatcher.OnNotification(notificationTasksStatus, func(ctx context.Context, params *jsonrpc.Value) {
		var n TaskStatusNotificationParams
		if err := decodeInto(params, &n); err != nil {
			cs.logger.Warnf("mcp: decoding tasks/status notification: %v", err)
			return
		}
		h(ctx, n.Task)
	})
}

// OnProgress registers a handler for notifications/progress.
func (cs *ClientSession) OnProgress(h func(ctx context.Context, p ProgressNotificationParams)) {
	cs.dispatcher.OnNotification(notificationProgress, func(ctx context.Context, params *jsonrpc.Value) {
		var p ProgressNotificationParams
		if err := decodeInto(params, &p); err != nil {
			cs.logger.Warnf("mcp: decoding progress notification: %v", err)
			return
		}
		h(ctx, p)
	})
}

// OnElicit registers the handler invoked when the server calls
// elicitation/create on this session.
func (cs *ClientSession) OnElicit(h func(ctx context.Context, params *ElicitParams) (*ElicitResult, error)) {
	cs.dispatcher.OnRequest(methodElicit, func(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
		var p ElicitParams
		if err := decodeInto(raw, &p); err != nil {
			return nil, fmt.Errorf("mcp: %w: %v", errInvalidElicitParams, err)
		}
		res, err := h(ctx, &p)
		if err != nil {
			return nil, err
		}
		return valueOf(res)
	})
}

// OnCreateMessage registers the handler invoked when the server calls
// sampling/createMessage on this session.
func (cs *ClientSession) OnCreateMessage(h func(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error)) {
	cs.dispatcher.OnRequest(methodCreateMessage, func(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
		var p CreateMessageParams
		if err := decodeInto(raw, &p); err != nil {
			return nil, fmt.Errorf("mcp: %w: %v", errInvalidCreateMessageParams, err)
		}
		res, err := h(ctx, &p)
		if err != nil {
			return nil, err
		}
		return valueOf(res)
	})
}

// Close closes the dispatcher and underlying connection.
func (cs *ClientSession) Close() error {
	cs.state.Store(int32(StateClosed))
	return cs.dispatcher.Close()
}

var errInvalidElicitParams = fmt.Errorf("mcp: invalid elicitation params")
var errInvalidCreateMessageParams = fmt.Errorf("mcp: invalid sampling params")

// ElicitParams requests structured input from the end user via the client.
type ElicitParams struct {
	Meta            Meta   `json:"_meta,omitempty"`
	Message         string `json:"message"`
	RequestedSchema any    `json:"requestedSchema"`
}

// GetMeta returns the request's _meta map, or nil.
func (p *ElicitParams) GetMeta() Meta { return p.Meta }

// ElicitResult is the user's response to an elicitation request.
type ElicitResult struct {
	Action  string         `json:"action"` // "accept", "decline", or "cancel"
	Content map[string]any `json:"content,omitempty"`
}
