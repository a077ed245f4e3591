// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import internaljson "github.com/mcpcore/go-session/internal/json"

// Content is a single piece of tool/prompt/sampling content. The core only
// needs enough of the wire catalog to route tool results and progress
// messages; richer content kinds are left to callers building on top of
// this package.
type Content interface {
	isContent()
}

// TextContent is plain-text content, the kind every example and test in
// this module exercises.
type TextContent struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

func (*TextContent) isContent() {}

// NewTextContent returns a TextContent with the "text" type discriminator
// set.
func NewTextContent(text string) *TextContent {
	return &TextContent{Text: text, Type: "text"}
}

// CallToolResult is the result of a tools/call request. Tool-level
// failures are reported here with IsError set, not as a JSON-RPC error:
// execution failures are data, protocol failures are errors.
type CallToolResult struct {
	Meta        Meta      `json:"_meta,omitempty"`
	Content     []Content `json:"content"`
	StructuredContent any  `json:"structuredContent,omitempty"`
	IsError     bool      `json:"isError,omitempty"`
}

// wireContent, used by CallToolResult's MarshalJSON and UnmarshalJSON, lets
// CallToolResult roundtrip through the JSON codec despite Content being an
// interface; only the "text" kind is implemented, matching what this core
// exercises.
type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (r *CallToolResult) MarshalJSON() ([]byte, error) {
	type alias struct {
		Meta              Meta          `json:"_meta,omitempty"`
		Content           []wireContent `json:"content"`
		StructuredContent any           `json:"structuredContent,omitempty"`
		IsError           bool          `json:"isError,omitempty"`
	}
	wired := make([]wireContent, 0, len(r.Content))
	for _, c := range r.Content {
		if tc, ok := c.(*TextContent); ok {
			wired = append(wired, wireContent{Type: "text", Text: tc.Text})
		}
	}
	return internaljson.Marshal(alias{
		Meta:              r.Meta,
		Content:           wired,
		StructuredContent: r.StructuredContent,
		IsError:           r.IsError,
	})
}

func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		Meta              Meta          `json:"_meta,omitempty"`
		Content           []wireContent `json:"content"`
		StructuredContent any           `json:"structuredContent,omitempty"`
		IsError           bool          `json:"isError,omitempty"`
	}
	if err := internaljson.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Meta = aux.Meta
	r.StructuredContent = aux.StructuredContent
	r.IsError = aux.IsError
	r.Content = make([]Content, 0, len(aux.Content))
	for _, wc := range aux.Content {
		if wc.Type == "text" {
			r.Content = append(r.Content, NewTextContent(wc.Text))
		}
	}
	return nil
}
