// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"testing"
)

func TestValueRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"null", `null`},
		{"bool true", `true`},
		{"bool false", `false`},
		{"int", `42`},
		{"negative int", `-7`},
		{"double", `3.5`},
		{"string", `"hello"`},
		{"empty array", `[]`},
		{"array", `[1,"two",3.0,null]`},
		{"empty object", `{}`},
		{"object", `{"a":1,"b":"two","c":null}`},
		{"nested", `{"outer":{"inner":[1,2,{"x":true}]}}`},
		{"explicit ttl null", `{"ttl":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Value
			if err := v.UnmarshalJSON([]byte(tt.json)); err != nil {
				t.Fatalf("UnmarshalJSON(%s): %v", tt.json, err)
			}
			data, err := v.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON: %v", err)
			}
			if got := string(data); got != tt.json {
				t.Errorf("roundtrip(%s) = %s, want %s", tt.json, got, tt.json)
			}
		})
	}
}

func TestValueIntVsDouble(t *testing.T) {
	var v Value
	if err := v.UnmarshalJSON([]byte(`3`)); err != nil {
		t.Fatal(err)
	}
	if v.Kind() != KindInt {
		t.Fatalf("Kind() = %v, want %v", v.Kind(), KindInt)
	}

	var v2 Value
	if err := v2.UnmarshalJSON([]byte(`3.0`)); err != nil {
		t.Fatal(err)
	}
	if v2.Kind() != KindDouble {
		t.Fatalf("Kind() = %v, want %v", v2.Kind(), KindDouble)
	}
}

func TestValueObjectKeyOrderPreserved(t *testing.T) {
	src := `{"zebra":1,"apple":2,"middle":3}`
	var v Value
	if err := v.UnmarshalJSON([]byte(src)); err != nil {
		t.Fatal(err)
	}
	want := []string{"zebra", "apple", "middle"}
	got := v.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != src {
		t.Errorf("MarshalJSON() = %s, want %s (key order not preserved)", data, src)
	}
}

func TestValueGet(t *testing.T) {
	v := Object(KV{Key: "name", Value: String("task")}, KV{Key: "count", Value: Int(5)})

	got, ok := v.Get("name")
	if !ok || got.String() != "task" {
		t.Errorf("Get(name) = %v, %v, want task, true", got, ok)
	}
	if _, ok := v.Get("missing"); ok {
		t.Error("Get(missing) reported found")
	}

	notObj := String("x")
	if _, ok := notObj.Get("name"); ok {
		t.Error("Get on a non-object reported found")
	}
}

func TestValueWithField(t *testing.T) {
	base := Object(KV{Key: "name", Value: String("x")}, KV{Key: "count", Value: Int(1)})

	withMeta := base.WithField("_meta", Object(KV{Key: "k", Value: Bool(true)}))
	if withMeta.Keys()[0] != "_meta" {
		t.Errorf("new key should be placed first, got order %v", withMeta.Keys())
	}
	if got, ok := withMeta.Get("name"); !ok || got.String() != "x" {
		t.Errorf("existing field lost after WithField: %v, %v", got, ok)
	}

	replaced := base.WithField("count", Int(99))
	if got, _ := replaced.Get("count"); func() int64 { i, _ := got.Int(); return i }() != 99 {
		t.Errorf("WithField did not replace existing key in place")
	}
	if replaced.Keys()[0] != "name" {
		t.Errorf("replacing an existing key should not move it, got order %v", replaced.Keys())
	}

	fresh := Null().WithField("a", Int(1))
	if fresh.Kind() != KindObject || fresh.Len() != 1 {
		t.Errorf("WithField on a non-object should yield a single-key object, got %v", fresh)
	}
}

func TestValueBinaryBase64(t *testing.T) {
	v := Binary([]byte("hello"), "application/octet-stream")
	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `"aGVsbG8="`
	if string(data) != want {
		t.Errorf("MarshalJSON() = %s, want %s", data, want)
	}
}

func TestValueTrailingData(t *testing.T) {
	var v Value
	if err := v.UnmarshalJSON([]byte(`1 2`)); err == nil {
		t.Error("expected error for trailing data after value")
	}
}
