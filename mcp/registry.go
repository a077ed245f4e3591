// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"fmt"
	"sync"

	"github.com/mcpcore/go-session/jsonrpc"
	"github.com/mcpcore/go-session/jsonschema"
	"github.com/yosida95/uritemplate/v3"
)

// ToolHandler implements a single tool's behavior.
type ToolHandler func(ctx *ToolContext, args *jsonValue) (*CallToolResult, error)

// jsonValue aliases jsonrpc.Value so tool handler signatures stay terse in
// this file; defined in requests.go.

// Tool describes a registered tool.
type Tool struct {
	Name        string
	Title       string
	Description string
	InputSchema *jsonschema.Schema // optional; resolved once on Register and validated against on each call
	Execution   ToolExecution
}

// ToolExecution describes how a tool interacts with the task subsystem.
type ToolExecution struct {
	TaskSupport TaskExecutionMode
}

type toolEntry struct {
	tool        Tool
	handler     ToolHandler
	enabled     bool
	inputSchema *jsonschema.Resolved
}

// ToolRegistry holds a server's registered tools, keyed by name.
type ToolRegistry struct {
	mu      sync.Mutex
	entries map[string]*toolEntry
	order   []string
}

// NewToolRegistry returns an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{entries: make(map[string]*toolEntry)}
}

// Register adds a tool, rejecting a duplicate name. If tool.InputSchema is
// set, it is resolved once here rather than on every call.
func (r *ToolRegistry) Register(tool Tool, handler ToolHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[tool.Name]; exists {
		return fmt.Errorf("mcp: tool %q is already registered", tool.Name)
	}
	e := &toolEntry{tool: tool, handler: handler, enabled: true}
	if tool.InputSchema != nil {
		resolved, err := tool.InputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return fmt.Errorf("mcp: tool %q: resolving input schema: %w", tool.Name, err)
		}
		e.inputSchema = resolved
	}
	r.entries[tool.Name] = e
	r.order = append(r.order, tool.Name)
	return nil
}

// ValidateArguments checks a tools/call request's raw arguments against
// name's resolved input schema, if one was registered. A tool registered
// without an input schema accepts any arguments.
func (r *ToolRegistry) ValidateArguments(name string, args *jsonrpc.Value) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok || e.inputSchema == nil {
		return nil
	}
	v := any(map[string]any{})
	if args != nil {
		if err := remarshal(args, &v); err != nil {
			return fmt.Errorf("decoding arguments: %w", err)
		}
	}
	return e.inputSchema.Validate(v)
}

// Remove deletes a tool, permitting later re-registration of the same name.
func (r *ToolRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return
	}
	delete(r.entries, name)
	r.order = removeString(r.order, name)
}

// SetEnabled toggles whether a tool appears in List and may be invoked.
func (r *ToolRegistry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("mcp: unknown tool %q", name)
	}
	e.enabled = enabled
	return nil
}

// List returns every enabled tool, in registration order.
func (r *ToolRegistry) List() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; e.enabled {
			out = append(out, e.tool)
		}
	}
	return out
}

// Get returns a tool's entry if it is registered and enabled.
func (r *ToolRegistry) Get(name string) (Tool, ToolHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || !e.enabled {
		return Tool{}, nil, false
	}
	return e.tool, e.handler, true
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Prompt describes a registered prompt.
type Prompt struct {
	Name        string
	Title       string
	Description string
}

// PromptHandler produces a prompt's messages.
type PromptHandler func(ctx *ToolContext, args map[string]string) (*jsonValue, error)

type promptEntry struct {
	prompt  Prompt
	handler PromptHandler
	enabled bool
}

// PromptRegistry holds a server's registered prompts, keyed by name.
type PromptRegistry struct {
	mu      sync.Mutex
	entries map[string]*promptEntry
	order   []string
}

// NewPromptRegistry returns an empty PromptRegistry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{entries: make(map[string]*promptEntry)}
}

func (r *PromptRegistry) Register(p Prompt, handler PromptHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[p.Name]; exists {
		return fmt.Errorf("mcp: prompt %q is already registered", p.Name)
	}
	r.entries[p.Name] = &promptEntry{prompt: p, handler: handler, enabled: true}
	r.order = append(r.order, p.Name)
	return nil
}

func (r *PromptRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
	r.order = removeString(r.order, name)
}

func (r *PromptRegistry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("mcp: unknown prompt %q", name)
	}
	e.enabled = enabled
	return nil
}

func (r *PromptRegistry) List() []Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Prompt, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; e.enabled {
			out = append(out, e.prompt)
		}
	}
	return out
}

func (r *PromptRegistry) Get(name string) (Prompt, PromptHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || !e.enabled {
		return Prompt{}, nil, false
	}
	return e.prompt, e.handler, true
}

// Resource describes a registered resource. Exactly one of URI or
// URITemplate is set; a template resource matches any URI conforming to
// its RFC-6570 level-1 pattern.
type Resource struct {
	URI         string
	URITemplate string
	Name        string
	Description string
	MIMEType    string
}

// ResourceHandler reads a resource given the concrete URI and any
// variables bound by a matched template.
type ResourceHandler func(ctx *ToolContext, uri string, vars map[string]string) (*jsonValue, error)

type resourceEntry struct {
	resource Resource
	tmpl     *uritemplate.Template
	handler  ResourceHandler
	enabled  bool
}

// ResourceRegistry holds a server's registered resources and resource
// templates.
type ResourceRegistry struct {
	mu      sync.Mutex
	entries map[string]*resourceEntry
	order   []string
}

// NewResourceRegistry returns an empty ResourceRegistry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{entries: make(map[string]*resourceEntry)}
}

// key is URI for concrete resources, URITemplate for templated ones.
func (res Resource) key() string {
	if res.URITemplate != "" {
		return res.URITemplate
	}
	return res.URI
}

// Register adds a resource or resource template, rejecting a duplicate
// URI/template.
func (r *ResourceRegistry) Register(res Resource, handler ResourceHandler) error {
	key := res.key()
	if key == "" {
		return fmt.Errorf("mcp: resource must set URI or URITemplate")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("mcp: resource %q is already registered", key)
	}
	e := &resourceEntry{resource: res, handler: handler, enabled: true}
	if res.URITemplate != "" {
		tmpl, err := uritemplate.New(res.URITemplate)
		if err != nil {
			return fmt.Errorf("mcp: invalid resource URI template %q: %w", res.URITemplate, err)
		}
		e.tmpl = tmpl
	}
	r.entries[key] = e
	r.order = append(r.order, key)
	return nil
}

func (r *ResourceRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	r.order = removeString(r.order, key)
}

func (r *ResourceRegistry) SetEnabled(key string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("mcp: unknown resource %q", key)
	}
	e.enabled = enabled
	return nil
}

func (r *ResourceRegistry) List() []Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Resource, 0, len(r.order))
	for _, key := range r.order {
		if e := r.entries[key]; e.enabled {
			out = append(out, e.resource)
		}
	}
	return out
}

// Match finds the resource (or resource template) that matches uri,
// returning its handler and any bound template variables.
func (r *ResourceRegistry) Match(uri string) (Resource, ResourceHandler, map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[uri]; ok && e.enabled && e.tmpl == nil {
		return e.resource, e.handler, nil, true
	}
	for _, key := range r.order {
		e := r.entries[key]
		if !e.enabled || e.tmpl == nil {
			continue
		}
		values := e.tmpl.Match(uri)
		if len(values) == 0 {
			continue
		}
		vars := make(map[string]string, len(values))
		for _, name := range e.tmpl.Varnames() {
			if v := values.Get(name); v.Valid() {
				vars[name] = v.String()
			}
		}
		return e.resource, e.handler, vars, true
	}
	return Resource{}, nil, nil, false
}
