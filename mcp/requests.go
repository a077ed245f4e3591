// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file holds the request wrapper types and the method-specific
// params/result structs the session core routes through.

package mcp

import (
	"context"

	"github.com/mcpcore/go-session/jsonrpc"
)

// jsonValue is a terser local name for the dynamic wire value, used in
// handler signatures throughout this package.
type jsonValue = jsonrpc.Value

// ServerRequest wraps an inbound request as seen from the server side: the
// session it arrived on plus its decoded parameters. It is the receiver
// for request-scoped helpers such as Progress.
type ServerRequest[P any] struct {
	Context context.Context
	Session *ServerSession
	Params  P
	taskID  string // set when this call is executing as a task
}

// ClientRequest is the client-side analogue of ServerRequest, used for
// server-initiated calls such as sampling/createMessage and
// elicitation/create.
type ClientRequest[P any] struct {
	Context context.Context
	Session *ClientSession
	Params  P
}

// CallToolParams carries a tools/call request's arguments, left as a raw
// Value so callers can decode into whatever shape their tool expects.
type CallToolParams struct {
	Meta      Meta           `json:"_meta,omitempty"`
	Name      string         `json:"name"`
	Arguments *jsonrpc.Value `json:"arguments,omitempty"`
}

// GetMeta returns the request's _meta map, or nil.
func (p *CallToolParams) GetMeta() Meta { return p.Meta }

// ToolContext is the context a ToolHandler executes with.
type ToolContext = ServerRequest[*CallToolParams]

// TaskID returns the task id this call is executing under, or "" if it is
// running as an ordinary blocking call.
func (r *ServerRequest[P]) TaskID() string { return r.taskID }

// ListToolsParams carries tools/list's optional cursor. The server in this
// core returns every tool in one page and does not read it.
type ListToolsParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult answers tools/list.
type ListToolsResult struct {
	Meta       Meta   `json:"_meta,omitempty"`
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListPromptsParams is empty; prompts/list takes no arguments in this core.
type ListPromptsParams struct {
	Meta Meta `json:"_meta,omitempty"`
}

// ListPromptsResult answers prompts/list.
type ListPromptsResult struct {
	Meta    Meta     `json:"_meta,omitempty"`
	Prompts []Prompt `json:"prompts"`
}

// GetPromptParams requests a single prompt's rendered messages.
type GetPromptParams struct {
	Meta      Meta              `json:"_meta,omitempty"`
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// ListResourcesParams is empty; resources/list takes no arguments in this
// core.
type ListResourcesParams struct {
	Meta Meta `json:"_meta,omitempty"`
}

// ListResourcesResult answers resources/list.
type ListResourcesResult struct {
	Meta      Meta       `json:"_meta,omitempty"`
	Resources []Resource `json:"resources"`
}

// ReadResourceParams requests a resource by URI.
type ReadResourceParams struct {
	Meta Meta   `json:"_meta,omitempty"`
	URI  string `json:"uri"`
}

// SetLoggingLevelParams configures the minimum level the server forwards
// via notifications/message.
type SetLoggingLevelParams struct {
	Meta  Meta   `json:"_meta,omitempty"`
	Level string `json:"level"`
}

// progressTokenKey is the _meta key under which a request carries its
// progress token, a string or an integer identifying its progress stream.
const progressTokenKey = "progressToken"

// ProgressNotificationParams is the payload of notifications/progress.
type ProgressNotificationParams struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// ListTasksParams requests a page of tasks.
type ListTasksParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// ListTasksResult answers tasks/list. NextCursor is omitted, not null,
// when there is no further page.
type ListTasksResult struct {
	Meta       Meta   `json:"_meta,omitempty"`
	Tasks      []Task `json:"tasks"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// GetTaskParams requests a single task's snapshot.
type GetTaskParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	TaskID string `json:"taskId"`
}

// CancelTaskParams requests cancellation of a task.
type CancelTaskParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	TaskID string `json:"taskId"`
}

// TaskResultParams requests the flattened result of a completed task.
type TaskResultParams struct {
	Meta   Meta   `json:"_meta,omitempty"`
	TaskID string `json:"taskId"`
}

// TaskStatusNotificationParams is the payload of
// notifications/tasks/status: the current Task snapshot.
type TaskStatusNotificationParams struct {
	Task Task `json:"task"`
}

// SamplingMessage is one message in a sampling/createMessage conversation.
// Only text content is carried, matching this core's minimal wire catalog.
type SamplingMessage struct {
	Role    string       `json:"role"`
	Content *TextContent `json:"content"`
}

// CreateMessageParams requests that the client sample from its model on
// the server's behalf.
type CreateMessageParams struct {
	Meta         Meta              `json:"_meta,omitempty"`
	Messages     []SamplingMessage `json:"messages"`
	SystemPrompt string            `json:"systemPrompt,omitempty"`
	MaxTokens    int               `json:"maxTokens,omitempty"`
}

// GetMeta returns the request's _meta map, or nil.
func (p *CreateMessageParams) GetMeta() Meta { return p.Meta }

// CreateMessageResult is the client's reply to sampling/createMessage.
type CreateMessageResult struct {
	Role       string       `json:"role"`
	Content    *TextContent `json:"content"`
	Model      string       `json:"model,omitempty"`
	StopReason string       `json:"stopReason,omitempty"`
}
