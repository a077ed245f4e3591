// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package json centralizes the JSON codec used on the session core's hot
// path (message envelopes, Values, event payloads). It wraps
// segmentio/encoding/json, which is API-compatible with encoding/json but
// avoids most of its reflection overhead on repeated marshal/unmarshal of
// the same shapes.
package json

import (
	sjson "github.com/segmentio/encoding/json"
)

// RawMessage lets callers defer decoding without importing encoding/json
// directly.
type RawMessage = sjson.RawMessage

func Marshal(v any) ([]byte, error) {
	return sjson.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return sjson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v, matching JSON keys to struct fields
// case-sensitively: a key that differs from a field's name or tag only in
// case is ignored rather than filling that field.
func Unmarshal(data []byte, v any) error {
	_, err := sjson.Parse(data, v, sjson.DontMatchCaseInsensitiveStructFields)
	return err
}
