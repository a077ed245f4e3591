// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcpcore/go-session/internal/jsonrpc2"
	"github.com/mcpcore/go-session/jsonrpc"
)

// TaskStatus is the lifecycle state of a managed task.
type TaskStatus string

const (
	TaskWorking       TaskStatus = "working"
	TaskInputRequired TaskStatus = "input_required"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
	TaskCancelled     TaskStatus = "cancelled"
)

// IsTerminal reports whether s is a status from which no further
// transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// TaskExecutionMode controls whether a tool/sampling/elicitation request
// may, or must, be executed as a task rather than a blocking call.
type TaskExecutionMode string

const (
	TaskExecutionForbidden TaskExecutionMode = "forbidden"
	TaskExecutionOptional  TaskExecutionMode = "optional"
	TaskExecutionRequired  TaskExecutionMode = "required"
)

// TaskMetadata is carried in the _meta of a tool-call/sampling/elicitation
// request to ask the server to run it as a task.
type TaskMetadata struct {
	TTL *int64 `json:"ttl"` // milliseconds; always serialized, null when absent
}

// Task is a snapshot of a managed task's state.
type Task struct {
	TaskID        string     `json:"taskId"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	TTL           *int64     `json:"ttl"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUpdatedAt time.Time  `json:"lastUpdatedAt"`
	PollInterval  *int64     `json:"pollInterval,omitempty"`
}

// CreateTaskResult is returned instead of a blocking result when a request
// is executed as a task.
type CreateTaskResult struct {
	Meta Meta  `json:"_meta,omitempty"`
	Task *Task `json:"task"`
}

// RelatedTaskMeta is carried in the _meta of a tasks/result response,
// naming the task the (flattened) result belongs to.
type RelatedTaskMeta struct {
	TaskID string `json:"taskId"`
}

var (
	errTaskNotFound             = fmt.Errorf("%w: task not found", jsonrpc2.ErrResourceNotFound)
	errTerminalStatusTransition = fmt.Errorf("mcp: task is in a terminal status")
	errDuplicateTask            = fmt.Errorf("mcp: duplicate task id")
	errQueueFull                = fmt.Errorf("mcp: task message queue is full")
)

// taskEntry is the task store's internal record: the public Task snapshot
// plus the bookkeeping needed to cancel, await updates, and retrieve a
// stored result.
type taskEntry struct {
	task      Task
	cancel    context.CancelFunc
	updates   chan struct{} // closed and replaced on every notifyUpdate
	result    *jsonrpc.Value
	resultErr error
	hasResult bool
}

// TaskStore tracks task lifecycle state. The default implementation is
// in-memory; callers needing durability implement the same surface.
type TaskStore struct {
	mu       sync.Mutex
	tasks    map[string]*taskEntry
	order    []string
	pageSize int
	onUpdate func(Task)
}

// NewTaskStore returns an in-memory TaskStore. pageSize bounds ListTasks
// pages; onUpdate, if non-nil, is called (outside the store's lock) on
// every status transition, used by a server session to emit
// notifications/tasks/status.
func NewTaskStore(pageSize int, onUpdate func(Task)) *TaskStore {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &TaskStore{
		tasks:    make(map[string]*taskEntry),
		pageSize: pageSize,
		onUpdate: onUpdate,
	}
}

// CreateTask registers a new task. If id is "", one is generated.
func (s *TaskStore) CreateTask(id string, ttl *int64, cancel context.CancelFunc) (Task, error) {
	if id == "" {
		id = randText()
	}
	now := time.Now()
	s.mu.Lock()
	if _, exists := s.tasks[id]; exists {
		s.mu.Unlock()
		return Task{}, errDuplicateTask
	}
	t := Task{TaskID: id, Status: TaskWorking, TTL: ttl, CreatedAt: now, LastUpdatedAt: now}
	s.tasks[id] = &taskEntry{task: t, cancel: cancel, updates: make(chan struct{})}
	s.order = append(s.order, id)
	s.mu.Unlock()
	return t, nil
}

// GetTask returns a task's current snapshot, evicting it first if its TTL
// has elapsed.
func (s *TaskStore) GetTask(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evictIfExpiredLocked(id)
	if !ok {
		return Task{}, errTaskNotFound
	}
	return e.task, nil
}

// UpdateTask transitions a task's status, rejecting the update if the
// task is missing or already in a terminal status.
func (s *TaskStore) UpdateTask(id string, status TaskStatus, statusMessage string) (Task, error) {
	s.mu.Lock()
	e, ok := s.evictIfExpiredLocked(id)
	if !ok {
		s.mu.Unlock()
		return Task{}, errTaskNotFound
	}
	if e.task.Status.IsTerminal() {
		s.mu.Unlock()
		return Task{}, errTerminalStatusTransition
	}
	e.task.Status = status
	e.task.StatusMessage = statusMessage
	e.task.LastUpdatedAt = time.Now()
	snapshot := e.task
	s.notifyUpdateLocked(e)
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(snapshot)
	}
	return snapshot, nil
}

// CancelTask cancels the task's context (if any) and marks it cancelled.
func (s *TaskStore) CancelTask(id string) (Task, error) {
	s.mu.Lock()
	e, ok := s.evictIfExpiredLocked(id)
	if !ok {
		s.mu.Unlock()
		return Task{}, errTaskNotFound
	}
	if e.task.Status.IsTerminal() {
		s.mu.Unlock()
		return Task{}, errTerminalStatusTransition
	}
	e.task.Status = TaskCancelled
	e.task.LastUpdatedAt = time.Now()
	snapshot := e.task
	cancel := e.cancel
	s.notifyUpdateLocked(e)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.onUpdate != nil {
		s.onUpdate(snapshot)
	}
	return snapshot, nil
}

// StoreResult records a task's final result value, reached once the task
// handler returns. It does not itself change the task's status.
func (s *TaskStore) StoreResult(id string, result *jsonrpc.Value, resultErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return errTaskNotFound
	}
	e.result, e.resultErr, e.hasResult = result, resultErr, true
	return nil
}

// GetResult returns a task's stored result, if any has been stored yet.
func (s *TaskStore) GetResult(id string) (*jsonrpc.Value, error, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, nil, false, errTaskNotFound
	}
	return e.result, e.resultErr, e.hasResult, nil
}

// DeleteTask removes a task permanently.
func (s *TaskStore) DeleteTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	s.order = removeString(s.order, id)
}

// ListTasks returns a page of tasks starting after cursor (the empty
// string starts at the beginning), plus the cursor for the next page, or
// "" if this was the last page.
func (s *TaskStore) ListTasks(cursor string) ([]Task, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if cursor != "" {
		idx := -1
		for i, id := range s.order {
			if id == cursor {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, "", fmt.Errorf("mcp: invalid task list cursor")
		}
		start = idx + 1
	}
	end := start + s.pageSize
	if end > len(s.order) {
		end = len(s.order)
	}
	page := make([]Task, 0, end-start)
	for _, id := range s.order[start:end] {
		page = append(page, s.tasks[id].task)
	}
	next := ""
	if end < len(s.order) {
		next = s.order[end-1]
	}
	return page, next, nil
}

// WaitForUpdate suspends until the next status transition on id, or until
// ctx is done.
func (s *TaskStore) WaitForUpdate(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return errTaskNotFound
	}
	ch := e.updates
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TaskStore) notifyUpdateLocked(e *taskEntry) {
	close(e.updates)
	e.updates = make(chan struct{})
}

// evictIfExpiredLocked returns the entry for id, evicting it first if its
// TTL has elapsed since creation. Caller holds s.mu.
func (s *TaskStore) evictIfExpiredLocked(id string) (*taskEntry, bool) {
	e, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	if e.task.TTL != nil {
		deadline := e.task.CreatedAt.Add(time.Duration(*e.task.TTL) * time.Millisecond)
		if time.Now().After(deadline) {
			delete(s.tasks, id)
			s.order = removeString(s.order, id)
			return nil, false
		}
	}
	return e, true
}

// taskMessageQueue is a per-task bounded FIFO of client->server requests
// queued while a task runs, e.g. elicitation responses routed back in.
type taskMessageQueue struct {
	mu        sync.Mutex
	maxSize   int
	messages  []queuedMessage
	resolvers map[string]*resolver
}

type queuedMessage struct {
	requestID string
	payload   *jsonrpc.Value
}

func newTaskMessageQueue(maxSize int) *taskMessageQueue {
	return &taskMessageQueue{maxSize: maxSize, resolvers: make(map[string]*resolver)}
}

// Enqueue appends a message, rejecting it once the queue is at maxSize.
func (q *taskMessageQueue) Enqueue(requestID string, payload *jsonrpc.Value) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxSize > 0 && len(q.messages) >= q.maxSize {
		return errQueueFull
	}
	q.messages = append(q.messages, queuedMessage{requestID: requestID, payload: payload})
	return nil
}

// Dequeue removes and returns the oldest message, if any.
func (q *taskMessageQueue) Dequeue() (queuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return queuedMessage{}, false
	}
	m := q.messages[0]
	q.messages = q.messages[1:]
	return m, true
}

// DequeueAll drains every queued message, oldest first.
func (q *taskMessageQueue) DequeueAll() []queuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.messages
	q.messages = nil
	return out
}

// IsEmpty reports whether the queue currently holds no messages.
func (q *taskMessageQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages) == 0
}

// addResolver registers the resolver a queued request's eventual response
// must be routed back to.
func (q *taskMessageQueue) addResolver(requestID string, r *resolver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resolvers[requestID] = r
}

// getResolver returns and removes the resolver for requestID, if any.
func (q *taskMessageQueue) getResolver(requestID string) (*resolver, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.resolvers[requestID]
	if ok {
		delete(q.resolvers, requestID)
	}
	return r, ok
}
