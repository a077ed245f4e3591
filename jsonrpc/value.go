// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc implements the JSON-RPC 2.0 envelope and the dynamic
// [Value] type that every protocol payload roundtrips through.
package jsonrpc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	internaljson "github.com/mcpcore/go-session/internal/json"
)

// Kind identifies which alternative of [Value]'s tagged sum is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindObject
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// member is one key/value pair of an Object, in declaration order.
type member struct {
	key   string
	value Value
}

// Value is a dynamic, tagged JSON value: null, bool, int, double, string, an
// array of Values, an ordered object of string-keyed Values, or a binary
// blob with an optional MIME type. Every protocol payload (params, results,
// arbitrary metadata) roundtrips through Value rather than map[string]any,
// so that integers and doubles stay distinct and object key order survives
// a decode/encode cycle.
//
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  []member
	bin  []byte
	mime string
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Double(f float64) Value     { return Value{kind: KindDouble, f: f} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Array(vs ...Value) Value    { return Value{kind: KindArray, arr: append([]Value(nil), vs...)} }
func Binary(b []byte, mime string) Value {
	return Value{kind: KindBinary, bin: append([]byte(nil), b...), mime: mime}
}

// Object builds an ordered-object Value from key/value pairs, preserving
// the order given.
func Object(pairs ...KV) Value {
	v := Value{kind: KindObject}
	for _, p := range pairs {
		v.obj = append(v.obj, member{key: p.Key, value: p.Value})
	}
	return v
}

// KV is one key/value pair passed to [Object].
type KV struct {
	Key   string
	Value Value
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) Int() (int64, bool)      { return v.i, v.kind == KindInt }
func (v Value) Double() (float64, bool) { return v.f, v.kind == KindDouble }
func (v Value) String() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}
func (v Value) Array() ([]Value, bool) { return v.arr, v.kind == KindArray }
func (v Value) Binary() ([]byte, string, bool) {
	return v.bin, v.mime, v.kind == KindBinary
}

// Get returns the value of key in an object Value, or (Null, false) if v is
// not an object or has no such key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	for _, m := range v.obj {
		if m.key == key {
			return m.value, true
		}
	}
	return Null(), false
}

// Keys returns the object's keys in declaration order. Returns nil if v is
// not an object.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, len(v.obj))
	for i, m := range v.obj {
		keys[i] = m.key
	}
	return keys
}

// WithField returns a copy of an object Value with key set to val, placing
// a brand-new key first (matching where "_meta" conventionally sits) and
// preserving every other key's position. If v is not an object, the
// result is a fresh single-key object.
func (v Value) WithField(key string, val Value) Value {
	if v.kind != KindObject {
		return Object(KV{Key: key, Value: val})
	}
	out := Value{kind: KindObject}
	replaced := false
	for _, m := range v.obj {
		if m.key == key {
			out.obj = append(out.obj, member{key: key, value: val})
			replaced = true
		} else {
			out.obj = append(out.obj, m)
		}
	}
	if !replaced {
		out.obj = append([]member{{key: key, value: val}}, out.obj...)
	}
	return out
}

// Len returns the number of elements for an array or object Value, else 0.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindDouble:
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		// Keep an integral double recognisable as a double on re-decode.
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		buf.WriteString(s)
	case KindString:
		data, err := internaljson.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindBinary:
		// The wire has no native binary type; encode as base64 text, the
		// same convention MCP content blocks use for raw bytes.
		data, err := internaljson.Marshal(base64.StdEncoding.EncodeToString(v.bin))
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.obj {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := internaljson.Marshal(m.key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := m.value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("jsonrpc: invalid Value kind %v", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Numbers without a fractional
// part or exponent decode as KindInt when they fit in an int64; all others
// decode as KindDouble.
// Object key order is preserved from the source bytes.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := newScanner(data)
	val, err := dec.value()
	if err != nil {
		return err
	}
	if err := dec.skipSpace(); err != nil {
		return err
	}
	if !dec.atEnd() {
		return fmt.Errorf("jsonrpc: trailing data after value")
	}
	*v = val
	return nil
}
