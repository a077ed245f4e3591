// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc2

import "errors"

// Sentinel errors that handlers and internal plumbing wrap with
// fmt.Errorf("%w: ...", ...) to classify a failure without constructing a
// full jsonrpc.ErrorObject by hand. The session engine maps these (via
// errors.Is) to the matching JSON-RPC error code when writing a response.
var (
	ErrParseError       = errors.New("parse error")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMethodNotFound   = errors.New("method not found")
	ErrInvalidParams    = errors.New("invalid params")
	ErrInternal         = errors.New("internal error")
	ErrResourceNotFound = errors.New("resource not found")
	ErrConnectionClosed = errors.New("connection closed")
	ErrTransportFatal   = errors.New("transport fatal error")
)
