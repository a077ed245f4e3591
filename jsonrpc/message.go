// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"fmt"

	internaljson "github.com/mcpcore/go-session/internal/json"
)

const protocolVersion = "2.0"

// ID is a JSON-RPC request identifier: a string or an integer. The zero ID
// is invalid; use [StringID] or [IntID] to construct one.
type ID struct {
	str     string
	num     int64
	isStr   bool
	isValid bool
}

func StringID(s string) ID { return ID{str: s, isStr: true, isValid: true} }
func IntID(i int64) ID     { return ID{num: i, isValid: true} }

// IsValid reports whether id was actually set (as opposed to the zero ID,
// which appears on Notifications).
func (id ID) IsValid() bool { return id.isValid }

// IsString reports whether the id is a string id, as opposed to an int id.
func (id ID) IsString() bool { return id.isStr }

// Raw returns the id as a string or int64, matching [ID.IsString].
func (id ID) Raw() any {
	if id.isStr {
		return id.str
	}
	return id.num
}

// String renders the id for logs and map keys; string and int ids never
// collide because string ids are prefixed.
func (id ID) String() string {
	if !id.isValid {
		return "<invalid>"
	}
	if id.isStr {
		return "s:" + id.str
	}
	return fmt.Sprintf("i:%d", id.num)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.isValid {
		return []byte("null"), nil
	}
	if id.isStr {
		return internaljson.Marshal(id.str)
	}
	return internaljson.Marshal(id.num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	switch v.Kind() {
	case KindNull:
		*id = ID{}
	case KindString:
		*id = StringID(v.String())
	case KindInt:
		i, _ := v.Int()
		*id = IntID(i)
	case KindDouble:
		f, _ := v.Double()
		*id = IntID(int64(f))
	default:
		return fmt.Errorf("jsonrpc: request id must be a string or number, got %s", v.Kind())
	}
	return nil
}

// ErrorObject is the JSON-RPC error payload carried by an error Response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *Value `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is implemented by [Request], [Response], and [Notification].
type Message interface {
	isMessage()
}

// Request is a call that expects a Response with the same ID.
type Request struct {
	ID     ID     `json:"id"`
	Method string `json:"method"`
	Params *Value `json:"params,omitempty"`
}

func (*Request) isMessage() {}

// Notification is a fire-and-forget call; it carries no ID and never
// receives a Response.
type Notification struct {
	Method string `json:"method"`
	Params *Value `json:"params,omitempty"`
}

func (*Notification) isMessage() {}

// Response answers a Request with the same ID, carrying exactly one of
// Result or Error.
type Response struct {
	ID     ID           `json:"id"`
	Result *Value       `json:"result,omitempty"`
	Error  *ErrorObject `json:"error,omitempty"`
}

func (*Response) isMessage() {}

// IsError reports whether this is an error response.
func (r *Response) IsError() bool { return r.Error != nil }

// envelope is the wire shape every message decodes through, before
// classification into Request/Response/Notification.
type envelope struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      *ID          `json:"id,omitempty"`
	Method  string       `json:"method,omitempty"`
	Params  *Value       `json:"params,omitempty"`
	Result  *Value       `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// EncodeMessage marshals a Request, Notification, or Response into a single
// JSON-RPC 2.0 frame.
func EncodeMessage(msg Message) ([]byte, error) {
	var env envelope
	env.JSONRPC = protocolVersion
	switch m := msg.(type) {
	case *Request:
		env.ID = &m.ID
		env.Method = m.Method
		env.Params = m.Params
	case *Notification:
		env.Method = m.Method
		env.Params = m.Params
	case *Response:
		env.ID = &m.ID
		env.Result = m.Result
		env.Error = m.Error
	default:
		return nil, fmt.Errorf("jsonrpc: unknown message type %T", msg)
	}
	return internaljson.Marshal(env)
}

// DecodeMessage unmarshals a single JSON-RPC 2.0 frame into a Request,
// Notification, or Response, classified per §3 of the spec:
//   - id + method  -> Request
//   - method, no id -> Notification
//   - id + result or id + error -> Response
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := internaljson.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("jsonrpc: decoding message: %w", err)
	}
	switch {
	case env.Method != "" && env.ID != nil && env.ID.IsValid():
		return &Request{ID: *env.ID, Method: env.Method, Params: env.Params}, nil
	case env.Method != "":
		return &Notification{Method: env.Method, Params: env.Params}, nil
	case env.ID != nil && (env.Result != nil || env.Error != nil):
		return &Response{ID: *env.ID, Result: env.Result, Error: env.Error}, nil
	default:
		return nil, fmt.Errorf("jsonrpc: message is neither a request, notification, nor response")
	}
}

// DecodeBatch splits a JSON body into one or more frames: either a single
// object, or a JSON array of objects (a batch, as POSTed by the streamable
// HTTP transport when multiple messages are sent together).
func DecodeBatch(data []byte) ([]Message, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	if arr, ok := v.Array(); ok {
		msgs := make([]Message, 0, len(arr))
		for _, elem := range arr {
			raw, err := elem.MarshalJSON()
			if err != nil {
				return nil, err
			}
			msg, err := DecodeMessage(raw)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
		return msgs, nil
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}
