// Package intakevalue models patient-supplied form responses as a closed
// tagged union over null, bool, number, string, ordered list and ordered
// key-value map. The scanner and prompt builder are total functions over this
// shape, which keeps arbitrary client JSON from leaking an open "any" type
// through the pipeline. Object member order is preserved so prompts and
// scans are deterministic for identical submissions.
package intakevalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the union.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Member is a single ordered key-value pair of a map value.
type Member struct {
	Key   string
	Value Value
}

// Value is one node of a response document.
type Value struct {
	kind    Kind
	boolVal bool
	numRaw  string
	strVal  string
	list    []Value
	members []Member
}

// Constructors, mostly for tests and fixtures.

func Null() Value          { return Value{kind: KindNull} }
func Bool(b bool) Value    { return Value{kind: KindBool, boolVal: b} }
func String(s string) Value {
	return Value{kind: KindString, strVal: s}
}

func Number(f float64) Value {
	return Value{kind: KindNumber, numRaw: strconv.FormatFloat(f, 'g', -1, 64)}
}

func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

func Map(members ...Member) Value {
	return Value{kind: KindMap, members: members}
}

// Kind reports which arm of the union this value is.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload; empty for non-strings.
func (v Value) Str() string {
	if v.kind != KindString {
		return ""
	}
	return v.strVal
}

// BoolVal returns the boolean payload; false for non-bools.
func (v Value) BoolVal() bool {
	return v.kind == KindBool && v.boolVal
}

// Num returns the numeric payload; 0 for non-numbers.
func (v Value) Num() float64 {
	if v.kind != KindNumber {
		return 0
	}
	f, _ := strconv.ParseFloat(v.numRaw, 64)
	return f
}

// Items returns list elements in order.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Members returns map members in document order.
func (v Value) Members() []Member {
	if v.kind != KindMap {
		return nil
	}
	return v.members
}

// Get looks up a map key.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// StringAt returns the string value at the given key, tolerating absence.
func (v Value) StringAt(key string) string {
	child, ok := v.Get(key)
	if !ok {
		return ""
	}
	return child.Str()
}

// StringsAt flattens the value at key into a list of strings: a string leaf
// yields one entry, a list yields its string elements, and a list of maps
// yields each map's "name" member. Everything else is skipped.
func (v Value) StringsAt(key string) []string {
	child, ok := v.Get(key)
	if !ok {
		return nil
	}

	switch child.kind {
	case KindString:
		if child.strVal == "" {
			return nil
		}
		return []string{child.strVal}
	case KindList:
		var out []string
		for _, item := range child.list {
			switch item.kind {
			case KindString:
				if item.strVal != "" {
					out = append(out, item.strVal)
				}
			case KindMap:
				if name := item.StringAt("name"); name != "" {
					out = append(out, name)
				}
			}
		}
		return out
	default:
		return nil
	}
}

// TextLeaves collects every string leaf of the document in order. The scanner
// matches danger phrases against each of these.
func (v Value) TextLeaves() []string {
	var out []string
	v.walkText(&out)
	return out
}

func (v Value) walkText(out *[]string) {
	switch v.kind {
	case KindString:
		if v.strVal != "" {
			*out = append(*out, v.strVal)
		}
	case KindList:
		for _, item := range v.list {
			item.walkText(out)
		}
	case KindMap:
		for _, m := range v.members {
			m.Value.walkText(out)
		}
	}
}

// Parse decodes a JSON document into the union, rejecting trailing content.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	value, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}

	if dec.More() {
		return Value{}, errors.New("intakevalue: trailing data after document")
	}
	return value, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Value{kind: KindNumber, numRaw: t.String()}, nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return Value{}, err
			}
			return Value{kind: KindList, list: items}, nil
		case '{':
			var members []Member
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("intakevalue: non-string object key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				members = append(members, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // closing '}'
				return Value{}, err
			}
			return Value{kind: KindMap, members: members}, nil
		default:
			return Value{}, fmt.Errorf("intakevalue: unexpected delimiter %q", t)
		}
	default:
		return Value{}, fmt.Errorf("intakevalue: unsupported token %T", tok)
	}
}

// MarshalJSON re-encodes the value preserving member order.
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
		buf.WriteString(strconv.FormatBool(v.boolVal))
	case KindNumber:
		if v.numRaw == "" {
			buf.WriteByte('0')
		} else {
			buf.WriteString(v.numRaw)
		}
	case KindString:
		encoded, err := json.Marshal(v.strVal)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("intakevalue: unknown kind %d", v.kind)
	}
	return nil
}

// Render produces a compact human-readable form used by the prompt builder.
func (v Value) Render() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.boolVal)
	case KindNumber:
		return v.numRaw
	case KindString:
		return v.strVal
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			if s := item.Render(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case KindMap:
		parts := make([]string, 0, len(v.members))
		for _, m := range v.members {
			if s := m.Value.Render(); s != "" {
				parts = append(parts, m.Key+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
