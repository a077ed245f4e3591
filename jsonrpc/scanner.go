// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// scanner is a minimal recursive-descent JSON reader whose only job beyond
// encoding/json is preserving object key order and distinguishing integral
// from fractional numbers — neither of which any JSON library in the
// retrieval pack exposes, so this is written by hand rather than adopted.
type scanner struct {
	data []byte
	pos  int
}

func newScanner(data []byte) *scanner {
	return &scanner{data: data}
}

func (s *scanner) atEnd() bool { return s.pos >= len(s.data) }

func (s *scanner) skipSpace() error {
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return nil
		}
	}
	return nil
}

func (s *scanner) peek() (byte, error) {
	if err := s.skipSpace(); err != nil {
		return 0, err
	}
	if s.atEnd() {
		return 0, fmt.Errorf("jsonrpc: unexpected end of JSON input")
	}
	return s.data[s.pos], nil
}

func (s *scanner) expect(c byte) error {
	b, err := s.peek()
	if err != nil {
		return err
	}
	if b != c {
		return fmt.Errorf("jsonrpc: expected %q, got %q at byte %d", c, b, s.pos)
	}
	s.pos++
	return nil
}

func (s *scanner) value() (Value, error) {
	b, err := s.peek()
	if err != nil {
		return Value{}, err
	}
	switch {
	case b == '{':
		return s.object()
	case b == '[':
		return s.array()
	case b == '"':
		str, err := s.stringLit()
		if err != nil {
			return Value{}, err
		}
		return String(str), nil
	case b == 't':
		return s.literal("true", Bool(true))
	case b == 'f':
		return s.literal("false", Bool(false))
	case b == 'n':
		return s.literal("null", Null())
	case b == '-' || (b >= '0' && b <= '9'):
		return s.number()
	default:
		return Value{}, fmt.Errorf("jsonrpc: unexpected character %q", b)
	}
}

func (s *scanner) literal(lit string, v Value) (Value, error) {
	if s.pos+len(lit) > len(s.data) || string(s.data[s.pos:s.pos+len(lit)]) != lit {
		return Value{}, fmt.Errorf("jsonrpc: invalid literal at byte %d", s.pos)
	}
	s.pos += len(lit)
	return v, nil
}

func (s *scanner) number() (Value, error) {
	start := s.pos
	isDouble := false
	if s.data[s.pos] == '-' {
		s.pos++
	}
	for s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
		s.pos++
	}
	if s.pos < len(s.data) && s.data[s.pos] == '.' {
		isDouble = true
		s.pos++
		for s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
			s.pos++
		}
	}
	if s.pos < len(s.data) && (s.data[s.pos] == 'e' || s.data[s.pos] == 'E') {
		isDouble = true
		s.pos++
		if s.pos < len(s.data) && (s.data[s.pos] == '+' || s.data[s.pos] == '-') {
			s.pos++
		}
		for s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
			s.pos++
		}
	}
	lit := string(s.data[start:s.pos])
	if lit == "" || lit == "-" {
		return Value{}, fmt.Errorf("jsonrpc: invalid number at byte %d", start)
	}
	if !isDouble {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return Int(i), nil
		}
		// Overflows int64 (e.g. a huge literal): fall back to double rather
		// than fail outright.
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return Value{}, fmt.Errorf("jsonrpc: invalid number %q: %w", lit, err)
	}
	return Double(f), nil
}

func (s *scanner) stringLit() (string, error) {
	if err := s.expect('"'); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		if s.atEnd() {
			return "", fmt.Errorf("jsonrpc: unterminated string")
		}
		c := s.data[s.pos]
		switch {
		case c == '"':
			s.pos++
			return sb.String(), nil
		case c == '\\':
			s.pos++
			if s.atEnd() {
				return "", fmt.Errorf("jsonrpc: unterminated escape")
			}
			esc := s.data[s.pos]
			s.pos++
			switch esc {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case '/':
				sb.WriteByte('/')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'u':
				r, err := s.unicodeEscape()
				if err != nil {
					return "", err
				}
				sb.WriteRune(r)
			default:
				return "", fmt.Errorf("jsonrpc: invalid escape \\%c", esc)
			}
		default:
			r, size := utf8.DecodeRune(s.data[s.pos:])
			sb.WriteRune(r)
			s.pos += size
		}
	}
}

func (s *scanner) unicodeEscape() (rune, error) {
	if s.pos+4 > len(s.data) {
		return 0, fmt.Errorf("jsonrpc: short unicode escape")
	}
	hi, err := strconv.ParseUint(string(s.data[s.pos:s.pos+4]), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("jsonrpc: invalid unicode escape: %w", err)
	}
	s.pos += 4
	r := rune(hi)
	if utf16.IsSurrogate(r) {
		if s.pos+6 <= len(s.data) && s.data[s.pos] == '\\' && s.data[s.pos+1] == 'u' {
			lo, err := strconv.ParseUint(string(s.data[s.pos+2:s.pos+6]), 16, 32)
			if err == nil {
				if dec := utf16.DecodeRune(r, rune(lo)); dec != utf8.RuneError {
					s.pos += 6
					return dec, nil
				}
			}
		}
		return utf8.RuneError, nil
	}
	return r, nil
}

func (s *scanner) array() (Value, error) {
	if err := s.expect('['); err != nil {
		return Value{}, err
	}
	var elems []Value
	b, err := s.peek()
	if err != nil {
		return Value{}, err
	}
	if b == ']' {
		s.pos++
		return Array(elems...), nil
	}
	for {
		v, err := s.value()
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
		b, err := s.peek()
		if err != nil {
			return Value{}, err
		}
		if b == ',' {
			s.pos++
			continue
		}
		if b == ']' {
			s.pos++
			return Array(elems...), nil
		}
		return Value{}, fmt.Errorf("jsonrpc: expected ',' or ']' in array, got %q", b)
	}
}

func (s *scanner) object() (Value, error) {
	if err := s.expect('{'); err != nil {
		return Value{}, err
	}
	v := Value{kind: KindObject}
	b, err := s.peek()
	if err != nil {
		return Value{}, err
	}
	if b == '}' {
		s.pos++
		return v, nil
	}
	for {
		if _, err := s.peek(); err != nil {
			return Value{}, err
		}
		key, err := s.stringLit()
		if err != nil {
			return Value{}, err
		}
		if err := s.expect(':'); err != nil {
			return Value{}, err
		}
		val, err := s.value()
		if err != nil {
			return Value{}, err
		}
		v.obj = append(v.obj, member{key: key, value: val})
		b, err := s.peek()
		if err != nil {
			return Value{}, err
		}
		if b == ',' {
			s.pos++
			continue
		}
		if b == '}' {
			s.pos++
			return v, nil
		}
		return Value{}, fmt.Errorf("jsonrpc: expected ',' or '}' in object, got %q", b)
	}
}
