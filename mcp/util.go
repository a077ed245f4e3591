// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"crypto/rand"
	"errors"

	internaljson "github.com/mcpcore/go-session/internal/json"
	"github.com/mcpcore/go-session/internal/jsonrpc2"
	"github.com/mcpcore/go-session/jsonrpc"
)

func assert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}

func randText() string {
	return rand.Text()
}

func isErr(err, target error) bool {
	return errors.Is(err, target)
}

// remarshal marshals from to JSON and unmarshals into to, which must be a
// pointer type. Used to convert between a typed params/result struct and
// the dynamic jsonrpc.Value the dispatcher traffics in.
func remarshal(from, to any) error {
	data, err := internaljson.Marshal(from)
	if err != nil {
		return err
	}
	return internaljson.Unmarshal(data, to)
}

// valueOf marshals v into a *jsonrpc.Value, for handing a typed
// params/result struct to the dispatcher.
func valueOf(v any) (*jsonrpc.Value, error) {
	if v == nil {
		return nil, nil
	}
	data, err := internaljson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var val jsonrpc.Value
	if err := val.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &val, nil
}

// decodeInto unmarshals a *jsonrpc.Value into a typed struct. A nil value
// decodes into the zero value of to without error. Params and results
// crossing the wire are decoded strictly, rejecting unknown fields and
// case-variant key smuggling, since both directions originate from a peer
// process.
func decodeInto(v *jsonrpc.Value, to any) error {
	if v == nil {
		return nil
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return jsonrpc2.StrictUnmarshal(data, to)
}
