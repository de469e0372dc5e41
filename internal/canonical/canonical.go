// v1
// internal/canonical/canonical.go
// Package canonical produces a deterministic byte serialization of a
// structured payload. The same logical payload always encodes to the same
// bytes regardless of field insertion order, so a device and the gateway can
// independently compute the message that is signed and hashed.
//
// The output is compact JSON with object keys in lexicographic byte order,
// matching what constrained firmware produces with a sorted-key stringifier.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrEncoding reports a payload that has no canonical form.
var ErrEncoding = errors.New("canonical: unencodable value")

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a tagged variant holding one JSON-like node. Objects remember
// insertion order for callers that iterate, but encoding always sorts keys.
type Value struct {
	kind Kind
	b    bool
	num  string // decimal literal, validated
	str  string
	arr  []*Value
	obj  []Member
}

type Member struct {
	Key   string
	Value *Value
}

func Null() *Value            { return &Value{kind: KindNull} }
func Bool(v bool) *Value      { return &Value{kind: KindBool, b: v} }
func String(s string) *Value  { return &Value{kind: KindString, str: s} }
func Int(v int64) *Value      { return &Value{kind: KindNumber, num: strconv.FormatInt(v, 10)} }
func Array(vs ...*Value) *Value { return &Value{kind: KindArray, arr: vs} }

// Float builds a number node. NaN and infinities have no canonical form.
func Float(v float64) (*Value, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: non-finite number", ErrEncoding)
	}
	return &Value{kind: KindNumber, num: strconv.FormatFloat(v, 'g', -1, 64)}, nil
}

// Object builds an empty object node; populate with Set.
func Object() *Value { return &Value{kind: KindObject} }

// Set inserts or replaces a member, keeping first-insertion order.
func (v *Value) Set(key string, val *Value) *Value {
	for i := range v.obj {
		if v.obj[i].Key == key {
			v.obj[i].Value = val
			return v
		}
	}
	v.obj = append(v.obj, Member{Key: key, Value: val})
	return v
}

func (v *Value) Kind() Kind { return v.kind }

// Get returns the member value for key, or nil.
func (v *Value) Get(key string) *Value {
	if v == nil || v.kind != KindObject {
		return nil
	}
	for i := range v.obj {
		if v.obj[i].Key == key {
			return v.obj[i].Value
		}
	}
	return nil
}

// Int64 reports the node as an integer when it is a whole decimal number.
func (v *Value) Int64() (int64, bool) {
	if v == nil || v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(v.num, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FromJSON parses raw JSON into a Value. Number literals are preserved as
// written so re-encoding a client's own payload reproduces its bytes.
func FromJSON(raw []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	// Trailing garbage after the first value is malformed input.
	if _, err := dec.Token(); err == nil {
		return nil, fmt.Errorf("%w: trailing data", ErrEncoding)
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return &Value{kind: KindNumber, num: t.String()}, nil
	case json.Delim:
		switch t {
		case '{':
			obj := Object()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			arr := &Value{kind: KindArray}
			for dec.More() {
				el, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr.arr = append(arr.arr, el)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// Encode serializes v into its canonical byte string.
func Encode(v *Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", ErrEncoding)
	}
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func encode(b *strings.Builder, v *Value) error {
	if v == nil {
		b.WriteString("null")
		return nil
	}
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindNumber:
		if v.num == "" {
			return fmt.Errorf("%w: empty number literal", ErrEncoding)
		}
		b.WriteString(v.num)
	case KindString:
		return encodeString(b, v.str)
	case KindArray:
		b.WriteByte('[')
		for i, el := range v.arr {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encode(b, el); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case KindObject:
		members := make([]Member, len(v.obj))
		copy(members, v.obj)
		sort.Slice(members, func(i, j int) bool { return members[i].Key < members[j].Key })
		b.WriteByte('{')
		for i, m := range members {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeString(b, m.Key); err != nil {
				return err
			}
			b.WriteByte(':')
			if err := encode(b, m.Value); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrEncoding, v.kind)
	}
	return nil
}

// encodeString writes the minimal JSON escaping (quote, backslash, control
// chars), unlike encoding/json which also escapes HTML characters. Devices
// sign the unescaped-HTML form.
func encodeString(b *strings.Builder, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid UTF-8 in string", ErrEncoding)
	}
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return nil
}
