// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mcpcore/go-session/internal/jsonrpc2"
	"github.com/mcpcore/go-session/jsonrpc"
)

// Server holds the registries shared by every session accepted on it;
// each accepted connection gets its own [ServerSession], with its own task
// store.
type Server struct {
	impl         Implementation
	capabilities *ServerCapabilities
	logger       Logger

	Tools     *ToolRegistry
	Prompts   *PromptRegistry
	Resources *ResourceRegistry

	mu       sync.Mutex
	sessions map[*ServerSession]struct{}
}

// NewServer returns a Server ready to accept connections.
func NewServer(impl Implementation, caps *ServerCapabilities, logger Logger) *Server {
	if logger == nil {
		logger = discardLogger{}
	}
	return &Server{
		impl:         impl,
		capabilities: caps,
		logger:       logger,
		Tools:        NewToolRegistry(),
		Prompts:      NewPromptRegistry(),
		Resources:    NewResourceRegistry(),
		sessions:     make(map[*ServerSession]struct{}),
	}
}

func (s *Server) capsToolsListChanged() bool {
	return s.capabilities != nil && s.capabilities.Tools != nil && s.capabilities.Tools.ListChanged
}

func (s *Server) capsPromptsListChanged() bool {
	return s.capabilities != nil && s.capabilities.Prompts != nil && s.capabilities.Prompts.ListChanged
}

func (s *Server) capsResourcesListChanged() bool {
	return s.capabilities != nil && s.capabilities.Resources != nil && s.capabilities.Resources.ListChanged
}

func (s *Server) tasksEnabled() bool {
	return s.capabilities != nil && s.capabilities.Tasks != nil
}

func (s *Server) tasksEnabledForToolsCall() bool {
	c := s.capabilities
	return c != nil && c.Tasks != nil && c.Tasks.Requests != nil && c.Tasks.Requests.Tools != nil && c.Tasks.Requests.Tools.Call != nil
}

// tasksEnabledForSampling mirrors tasksEnabledForToolsCall for
// sampling/createMessage.
func (s *Server) tasksEnabledForSampling() bool {
	c := s.capabilities
	return c != nil && c.Tasks != nil && c.Tasks.Requests != nil && c.Tasks.Requests.Sampling != nil
}

// tasksEnabledForElicitation mirrors tasksEnabledForToolsCall for
// elicitation/create.
func (s *Server) tasksEnabledForElicitation() bool {
	c := s.capabilities
	return c != nil && c.Tasks != nil && c.Tasks.Requests != nil && c.Tasks.Requests.Elicitation != nil
}

func (s *Server) tasksListEnabled() bool {
	return s.capabilities != nil && s.capabilities.Tasks != nil && s.capabilities.Tasks.List != nil
}

func (s *Server) tasksCancelEnabled() bool {
	return s.capabilities != nil && s.capabilities.Tasks != nil && s.capabilities.Tasks.Cancel != nil
}

// AddTool registers a tool and broadcasts tools/list_changed if the
// capability is advertised.
func (s *Server) AddTool(tool Tool, handler ToolHandler) error {
	if err := s.Tools.Register(tool, handler); err != nil {
		return err
	}
	s.broadcast(notificationToolsListChanged, s.capsToolsListChanged())
	return nil
}

// RemoveTool removes a tool and broadcasts tools/list_changed.
func (s *Server) RemoveTool(name string) {
	s.Tools.Remove(name)
	s.broadcast(notificationToolsListChanged, s.capsToolsListChanged())
}

// SetToolEnabled toggles a tool's visibility/invocability and broadcasts
// tools/list_changed.
func (s *Server) SetToolEnabled(name string, enabled bool) error {
	if err := s.Tools.SetEnabled(name, enabled); err != nil {
		return err
	}
	s.broadcast(notificationToolsListChanged, s.capsToolsListChanged())
	return nil
}

// AddPrompt registers a prompt and broadcasts prompts/list_changed.
func (s *Server) AddPrompt(p Prompt, handler PromptHandler) error {
	if err := s.Prompts.Register(p, handler); err != nil {
		return err
	}
	s.broadcast(notificationPromptsListChanged, s.capsPromptsListChanged())
	return nil
}

// RemovePrompt removes a prompt and broadcasts prompts/list_changed.
func (s *Server) RemovePrompt(name string) {
	s.Prompts.Remove(name)
	s.broadcast(notificationPromptsListChanged, s.capsPromptsListChanged())
}

// SetPromptEnabled toggles a prompt's visibility/invocability and
// broadcasts prompts/list_changed.
func (s *Server) SetPromptEnabled(name string, enabled bool) error {
	if err := s.Prompts.SetEnabled(name, enabled); err != nil {
		return err
	}
	s.broadcast(notificationPromptsListChanged, s.capsPromptsListChanged())
	return nil
}

// AddResource registers a resource or resource template and broadcasts
// resources/list_changed.
func (s *Server) AddResource(r Resource, handler ResourceHandler) error {
	if err := s.Resources.Register(r, handler); err != nil {
		return err
	}
	s.broadcast(notificationResourcesListChanged, s.capsResourcesListChanged())
	return nil
}

// RemoveResource removes a resource or resource template, keyed the same
// way as AddResource (URI or URITemplate), and broadcasts
// resources/list_changed.
func (s *Server) RemoveResource(key string) {
	s.Resources.Remove(key)
	s.broadcast(notificationResourcesListChanged, s.capsResourcesListChanged())
}

// SetResourceEnabled toggles a resource's visibility/readability and
// broadcasts resources/list_changed.
func (s *Server) SetResourceEnabled(key string, enabled bool) error {
	if err := s.Resources.SetEnabled(key, enabled); err != nil {
		return err
	}
	s.broadcast(notificationResourcesListChanged, s.capsResourcesListChanged())
	return nil
}

func (s *Server) broadcast(method string, enabled bool) {
	if !enabled {
		return
	}
	s.mu.Lock()
	sessions := make([]*ServerSession, 0, len(s.sessions))
	for ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()
	for _, ss := range sessions {
		if err := ss.dispatcher.SendNotification(context.Background(), method, nil); err != nil {
			s.logger.Warnf("mcp: broadcasting %s: %v", method, err)
		}
	}
}

// Connect accepts a connection from transport and returns a ServerSession
// that reacts to the client's handshake as it arrives; it does not block
// for the handshake to complete (call WaitInitialized for that).
func (s *Server) Connect(ctx context.Context, transport Transport) (*ServerSession, error) {
	conn, err := transport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: server connect: %w", err)
	}
	ss := &ServerSession{
		server:         s,
		dispatcher:     NewDispatcher(conn, s.logger),
		initializedCh:  make(chan struct{}),
		taskStore:      NewTaskStore(50, nil),
	}
	ss.taskStore.onUpdate = ss.onTaskUpdate
	ss.registerHandlers()

	s.mu.Lock()
	s.sessions[ss] = struct{}{}
	s.mu.Unlock()
	return ss, nil
}

// ServerSession is one client connection accepted on a [Server].
type ServerSession struct {
	server     *Server
	dispatcher *Dispatcher
	taskStore  *TaskStore

	state atomic.Int32

	mu                 sync.Mutex
	clientCapabilities *ClientCapabilities
	protocolVersion    string

	initializedOnce sync.Once
	initializedCh   chan struct{}
}

// WaitInitialized blocks until the client completes the initialize
// handshake, or ctx is done.
func (ss *ServerSession) WaitInitialized(ctx context.Context) error {
	select {
	case <-ss.initializedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the session's current lifecycle state.
func (ss *ServerSession) State() State { return State(ss.state.Load()) }

// Close closes the underlying dispatcher and removes the session from its
// server's broadcast set.
func (ss *ServerSession) Close() error {
	ss.state.Store(int32(StateClosed))
	ss.server.mu.Lock()
	delete(ss.server.sessions, ss)
	ss.server.mu.Unlock()
	return ss.dispatcher.Close()
}

// Elicit calls elicitation/create on the client, blocking for its reply.
func (ss *ServerSession) Elicit(ctx context.Context, params *ElicitParams) (*ElicitResult, error) {
	p, err := valueOf(params)
	if err != nil {
		return nil, err
	}
	fut, err := ss.dispatcher.SendRequest(ctx, methodElicit, p)
	if err != nil {
		return nil, err
	}
	val, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	var res ElicitResult
	if err := decodeInto(val, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ElicitAsTask is the task-augmented counterpart to Elicit: rather than
// blocking this call, it registers a task in ss's task store, runs the
// elicitation/create round trip in the background, and returns
// immediately with the task's initial snapshot. The task's eventual
// result and status transitions are reached the same way as a
// task-augmented tools/call: tasks/result, tasks/get, notifications/tasks/status.
func (ss *ServerSession) ElicitAsTask(params *ElicitParams, ttl *int64) (*CreateTaskResult, error) {
	if !ss.server.tasksEnabledForElicitation() {
		return nil, fmt.Errorf("mcp: %w: server does not advertise task-augmented elicitation", jsonrpc2.ErrInvalidRequest)
	}
	return ss.runAsTask(ttl, func(taskCtx context.Context) (*jsonrpc.Value, error) {
		res, err := ss.Elicit(taskCtx, params)
		if err != nil {
			return nil, err
		}
		return valueOf(res)
	})
}

// CreateMessage calls sampling/createMessage on the client, blocking for
// its reply.
func (ss *ServerSession) CreateMessage(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error) {
	p, err := valueOf(params)
	if err != nil {
		return nil, err
	}
	fut, err := ss.dispatcher.SendRequest(ctx, methodCreateMessage, p)
	if err != nil {
		return nil, err
	}
	val, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	var res CreateMessageResult
	if err := decodeInto(val, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateMessageAsTask is the task-augmented counterpart to CreateMessage,
// mirroring ElicitAsTask.
func (ss *ServerSession) CreateMessageAsTask(params *CreateMessageParams, ttl *int64) (*CreateTaskResult, error) {
	if !ss.server.tasksEnabledForSampling() {
		return nil, fmt.Errorf("mcp: %w: server does not advertise task-augmented sampling", jsonrpc2.ErrInvalidRequest)
	}
	return ss.runAsTask(ttl, func(taskCtx context.Context) (*jsonrpc.Value, error) {
		res, err := ss.CreateMessage(taskCtx, params)
		if err != nil {
			return nil, err
		}
		return valueOf(res)
	})
}

// runAsTask registers a new task in ss's task store and runs fn in the
// background, storing its result and transitioning the task to completed
// or failed when fn returns. It mirrors invokeToolAsTask's create/run/
// store/update sequence for server-initiated requests that don't already
// have a task of their own to attach to.
func (ss *ServerSession) runAsTask(ttl *int64, fn func(ctx context.Context) (*jsonrpc.Value, error)) (*CreateTaskResult, error) {
	taskCtx, cancel := context.WithCancel(context.Background())
	task, err := ss.taskStore.CreateTask("", ttl, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		resultVal, err := fn(taskCtx)
		status := TaskCompleted
		if err != nil {
			status = TaskFailed
		}
		_ = ss.taskStore.StoreResult(task.TaskID, resultVal, err)
		_, _ = ss.taskStore.UpdateTask(task.TaskID, status, "")
	}()

	return &CreateTaskResult{Task: &task}, nil
}

func (ss *ServerSession) notifyProgress(ctx context.Context, p *ProgressNotificationParams) error {
	val, err := valueOf(p)
	if err != nil {
		return err
	}
	return ss.dispatcher.SendNotification(ctx, notificationProgress, val)
}

func (ss *ServerSession) onTaskUpdate(t Task) {
	val, err := valueOf(&TaskStatusNotificationParams{Task: t})
	if err != nil {
		return
	}
	_ = ss.dispatcher.SendNotification(context.Background(), notificationTasksStatus, val)
}

func (ss *ServerSession) registerHandlers() {
	d := ss.dispatcher
	d.OnRequest(methodInitialize, ss.handleInitialize)
	d.OnNotification(notificationInitialized, ss.handleInitialized)
	d.OnRequest(methodPing, func(ctx context.Context, _ *jsonrpc.Value) (*jsonrpc.Value, error) {
		v := jsonrpc.Object()
		return &v, nil
	})
	d.OnRequest(methodListTools, ss.handleListTools)
	d.OnRequest(methodCallTool, ss.handleCallTool)
	d.OnRequest(methodListPrompts, ss.handleListPrompts)
	d.OnRequest(methodGetPrompt, ss.handleGetPrompt)
	d.OnRequest(methodListResources, ss.handleListResources)
	d.OnRequest(methodReadResource, ss.handleReadResource)
	d.OnRequest(methodTasksList, ss.handleTasksList)
	d.OnRequest(methodTasksGet, ss.handleTasksGet)
	d.OnRequest(methodTasksCancel, ss.handleTasksCancel)
	d.OnRequest(methodTasksResult, ss.handleTasksResult)
}

func (ss *ServerSession) requireInitialized() error {
	if ss.State() == StateClosed {
		return fmt.Errorf("mcp: %w", jsonrpc2.ErrConnectionClosed)
	}
	if ss.State() != StateInitialized {
		return fmt.Errorf("mcp: %w: session is not initialized", jsonrpc2.ErrInvalidRequest)
	}
	return nil
}

func (ss *ServerSession) handleInitialize(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	var params InitializeParams
	if err := decodeInto(raw, &params); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	ss.state.CompareAndSwap(int32(StateCreated), int32(StateInitializing))

	ss.mu.Lock()
	ss.clientCapabilities = params.Capabilities
	ss.protocolVersion = negotiateProtocolVersion(params.ProtocolVersion)
	ss.mu.Unlock()

	impl := ss.server.impl
	return valueOf(&InitializeResult{
		ProtocolVersion: ss.protocolVersion,
		Capabilities:    ss.server.capabilities,
		ServerInfo:      &impl,
	})
}

func (ss *ServerSession) handleInitialized(ctx context.Context, _ *jsonrpc.Value) {
	ss.state.Store(int32(StateInitialized))
	ss.initializedOnce.Do(func() { close(ss.initializedCh) })
}

func (ss *ServerSession) handleListTools(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	return valueOf(&ListToolsResult{Tools: ss.server.Tools.List()})
}

func (ss *ServerSession) handleCallTool(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	var params CallToolParams
	if err := decodeInto(raw, &params); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	tool, handler, ok := ss.server.Tools.Get(params.Name)
	if !ok {
		return nil, fmt.Errorf("mcp: %w: unknown tool %q", jsonrpc2.ErrInvalidParams, params.Name)
	}
	if err := ss.server.Tools.ValidateArguments(params.Name, params.Arguments); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}

	taskMeta, wantsTask := params.Meta[metaKeyTask]
	switch tool.Execution.TaskSupport {
	case TaskExecutionForbidden:
		if wantsTask {
			return nil, fmt.Errorf("mcp: %w: tool %q does not support task execution", jsonrpc2.ErrInvalidParams, params.Name)
		}
	case TaskExecutionRequired:
		if !wantsTask {
			return nil, fmt.Errorf("mcp: %w: tool %q requires task execution", jsonrpc2.ErrInvalidParams, params.Name)
		}
	}

	if !wantsTask {
		return ss.invokeToolBlocking(ctx, &params, tool, handler)
	}
	if !ss.server.tasksEnabledForToolsCall() {
		return nil, fmt.Errorf("mcp: %w: server does not advertise task-augmented tools/call", jsonrpc2.ErrInvalidRequest)
	}
	var meta TaskMetadata
	if err := remarshal(taskMeta, &meta); err != nil {
		return nil, fmt.Errorf("mcp: %w: invalid task metadata: %v", jsonrpc2.ErrInvalidParams, err)
	}
	return ss.invokeToolAsTask(ctx, &params, tool, handler, &meta)
}

func (ss *ServerSession) invokeToolBlocking(ctx context.Context, params *CallToolParams, tool Tool, handler ToolHandler) (*jsonrpc.Value, error) {
	tc := &ToolContext{Context: ctx, Session: ss, Params: params}
	result, err := handler(tc, params.Arguments)
	if err != nil {
		return nil, err
	}
	return valueOf(result)
}

func (ss *ServerSession) invokeToolAsTask(ctx context.Context, params *CallToolParams, tool Tool, handler ToolHandler, meta *TaskMetadata) (*jsonrpc.Value, error) {
	taskCtx, cancel := context.WithCancel(context.Background())
	task, err := ss.taskStore.CreateTask("", meta.TTL, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		tc := &ToolContext{Context: taskCtx, Session: ss, Params: params, taskID: task.TaskID}
		result, err := handler(tc, params.Arguments)

		var resultVal *jsonrpc.Value
		var status TaskStatus
		if err != nil {
			status = TaskFailed
			resultVal, _ = valueOf(&CallToolResult{
				Content: []Content{NewTextContent(err.Error())},
				IsError: true,
			})
		} else {
			status = TaskCompleted
			resultVal, err = valueOf(result)
			if err != nil {
				status = TaskFailed
			}
		}
		_ = ss.taskStore.StoreResult(task.TaskID, resultVal, err)
		_, _ = ss.taskStore.UpdateTask(task.TaskID, status, "")
	}()

	return valueOf(&CreateTaskResult{Task: &task})
}

func (ss *ServerSession) handleListPrompts(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	return valueOf(&ListPromptsResult{Prompts: ss.server.Prompts.List()})
}

func (ss *ServerSession) handleGetPrompt(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	var params GetPromptParams
	if err := decodeInto(raw, &params); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	_, handler, ok := ss.server.Prompts.Get(params.Name)
	if !ok {
		return nil, fmt.Errorf("mcp: %w: unknown prompt %q", jsonrpc2.ErrInvalidParams, params.Name)
	}
	tc := &ToolContext{Context: ctx, Session: ss}
	return handler(tc, params.Arguments)
}

func (ss *ServerSession) handleListResources(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	return valueOf(&ListResourcesResult{Resources: ss.server.Resources.List()})
}

func (ss *ServerSession) handleReadResource(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	var params ReadResourceParams
	if err := decodeInto(raw, &params); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	_, handler, vars, ok := ss.server.Resources.Match(params.URI)
	if !ok {
		return nil, fmt.Errorf("mcp: %w: no resource matches %q", jsonrpc2.ErrResourceNotFound, params.URI)
	}
	tc := &ToolContext{Context: ctx, Session: ss}
	return handler(tc, params.URI, vars)
}

func (ss *ServerSession) handleTasksList(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	if !ss.server.tasksListEnabled() {
		return nil, fmt.Errorf("mcp: %w: tasks/list is not enabled", jsonrpc2.ErrMethodNotFound)
	}
	var params ListTasksParams
	if err := decodeInto(raw, &params); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	page, next, err := ss.taskStore.ListTasks(params.Cursor)
	if err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	return valueOf(&ListTasksResult{Tasks: page, NextCursor: next})
}

func (ss *ServerSession) handleTasksGet(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	var params GetTaskParams
	if err := decodeInto(raw, &params); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	task, err := ss.taskStore.GetTask(params.TaskID)
	if err != nil {
		return nil, err
	}
	return valueOf(&task)
}

func (ss *ServerSession) handleTasksCancel(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	if !ss.server.tasksCancelEnabled() {
		return nil, fmt.Errorf("mcp: %w: tasks/cancel is not enabled", jsonrpc2.ErrMethodNotFound)
	}
	var params CancelTaskParams
	if err := decodeInto(raw, &params); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	task, err := ss.taskStore.CancelTask(params.TaskID)
	if err != nil {
		return nil, err
	}
	return valueOf(&task)
}

func (ss *ServerSession) handleTasksResult(ctx context.Context, raw *jsonrpc.Value) (*jsonrpc.Value, error) {
	if err := ss.requireInitialized(); err != nil {
		return nil, err
	}
	var params TaskResultParams
	if err := decodeInto(raw, &params); err != nil {
		return nil, fmt.Errorf("mcp: %w: %v", jsonrpc2.ErrInvalidParams, err)
	}
	result, resultErr, hasResult, err := ss.taskStore.GetResult(params.TaskID)
	if err != nil {
		return nil, err
	}
	if !hasResult {
		return nil, fmt.Errorf("mcp: %w: task %q has not completed", jsonrpc2.ErrInvalidRequest, params.TaskID)
	}
	if resultErr != nil {
		return nil, resultErr
	}
	related, err := valueOf(&RelatedTaskMeta{TaskID: params.TaskID})
	if err != nil {
		return nil, err
	}
	metaVal := jsonrpc.Object(jsonrpc.KV{Key: metaKeyRelatedTask, Value: *related})
	out := result.WithField("_meta", metaVal)
	return &out, nil
}
