// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package mcp implements the session core of a Model Context Protocol
// library: the dispatcher, transports, task subsystem, resilient client,
// and server-side registries described by the component design. The wire
// type catalog for specific methods (tools, prompts, resources, sampling,
// elicitation) is kept to the minimum the core must route through;
// method-specific business logic is the caller's responsibility.
package mcp

import "maps"

// Meta carries the protocol's reserved "_meta" field: arbitrary,
// implementation-defined metadata attached to any request, notification,
// or result. Known keys used by this core are declared as constants below.
type Meta map[string]any

func (m Meta) clone() Meta {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

const (
	// metaKeyTask carries TaskMetadata on a tool-call/sampling/elicitation
	// request, requesting task-augmented execution.
	metaKeyTask = "io.modelcontextprotocol/task"

	// metaKeyModelImmediateResponse is returned alongside a CreateTaskResult
	// to give the caller an immediate hint while the task runs.
	metaKeyModelImmediateResponse = "io.modelcontextprotocol/model-immediate-response"

	// metaKeyRelatedTask appears on a tasks/result response, identifying
	// which task the (flattened) result belongs to.
	metaKeyRelatedTask = "io.modelcontextprotocol/related-task"
)

// Implementation identifies an MCP client or server by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ListChangedCapability is the common shape of a "this list can change"
// capability leaf.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// TaskRequestsCapability declares which request types support task
// augmentation.
type TaskRequestsCapability struct {
	Tools       *TaskToolsCapability `json:"tools,omitempty"`
	Sampling    *struct{}            `json:"sampling,omitempty"`
	Elicitation *struct{}            `json:"elicitation,omitempty"`
}

// TaskToolsCapability declares task augmentation for tools/call.
type TaskToolsCapability struct {
	Call *struct{} `json:"call,omitempty"`
}

// TaskCapabilities describes support for the long-running task subsystem.
type TaskCapabilities struct {
	Requests *TaskRequestsCapability `json:"requests,omitempty"`
	List     *struct{}               `json:"list,omitempty"`
	Cancel   *struct{}               `json:"cancel,omitempty"`
}

// ClientCapabilities describes what a client advertises at initialize time.
type ClientCapabilities struct {
	Experimental map[string]any         `json:"experimental,omitempty"`
	Roots        *ListChangedCapability `json:"roots,omitempty"`
	Sampling     *struct{}              `json:"sampling,omitempty"`
	Elicitation  *struct{}              `json:"elicitation,omitempty"`
	Tasks        *TaskCapabilities      `json:"tasks,omitempty"`
}

func (c *ClientCapabilities) clone() *ClientCapabilities {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Experimental = maps.Clone(c.Experimental)
	return &cp
}

// ServerCapabilities describes what a server advertises at initialize time.
type ServerCapabilities struct {
	Experimental map[string]any         `json:"experimental,omitempty"`
	Logging      *struct{}              `json:"logging,omitempty"`
	Prompts      *ListChangedCapability `json:"prompts,omitempty"`
	Resources    *ResourceCapabilities  `json:"resources,omitempty"`
	Tools        *ListChangedCapability `json:"tools,omitempty"`
	Tasks        *TaskCapabilities      `json:"tasks,omitempty"`
}

// ResourceCapabilities describes the server's support for resources.
type ResourceCapabilities struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

func (c *ServerCapabilities) clone() *ServerCapabilities {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Experimental = maps.Clone(c.Experimental)
	return &cp
}

// InitializeParams is sent by the client to begin the handshake.
type InitializeParams struct {
	Meta            Meta                `json:"_meta,omitempty"`
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    *ClientCapabilities `json:"capabilities"`
	ClientInfo      *Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	Meta            Meta                `json:"_meta,omitempty"`
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    *ServerCapabilities `json:"capabilities"`
	ServerInfo      *Implementation     `json:"serverInfo"`
	Instructions    string              `json:"instructions,omitempty"`
}

// supportedProtocolVersions lists versions this core understands, newest
// first; the first entry is offered by default.
var supportedProtocolVersions = []string{"2025-06-18", "2025-03-26"}

// negotiateProtocolVersion picks the requested version if supported,
// otherwise the newest version this core supports, per §4.G: "the lower
// but supported version is chosen."
func negotiateProtocolVersion(requested string) string {
	for _, v := range supportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return supportedProtocolVersions[0]
}

// JSON-RPC method and notification names this core routes.
const (
	methodInitialize      = "initialize"
	methodPing            = "ping"
	methodListTools       = "tools/list"
	methodCallTool        = "tools/call"
	methodListPrompts     = "prompts/list"
	methodGetPrompt       = "prompts/get"
	methodListResources   = "resources/list"
	methodReadResource    = "resources/read"
	methodSetLoggingLevel = "logging/setLevel"
	methodCreateMessage   = "sampling/createMessage"
	methodElicit          = "elicitation/create"
	methodListRoots       = "roots/list"

	methodTasksList   = "tasks/list"
	methodTasksGet    = "tasks/get"
	methodTasksCancel = "tasks/cancel"
	methodTasksResult = "tasks/result"

	notificationInitialized          = "notifications/initialized"
	notificationCancelled            = "notifications/cancelled"
	notificationProgress             = "notifications/progress"
	notificationMessage              = "notifications/message"
	notificationToolsListChanged     = "notifications/tools/list_changed"
	notificationPromptsListChanged   = "notifications/prompts/list_changed"
	notificationResourcesListChanged = "notifications/resources/list_changed"
	notificationResourcesUpdated     = "notifications/resources/updated"
	notificationTasksStatus          = "notifications/tasks/status"
)
