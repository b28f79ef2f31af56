// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the shape of data held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a self-describing payload carried by decisions, stage outputs,
// and evidence blocks. It covers the JSON scalar and container shapes so
// the trace document stays readable without resorting to untyped blobs.
//
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int returns a numeric Value from an integer.
func Int(i int) Value { return Value{kind: KindNumber, num: float64(i)} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list Value holding the given elements.
func List(elems ...Value) Value { return Value{kind: KindList, list: elems} }

// Map returns a map Value holding a copy of the given entries.
func Map(entries map[string]Value) Value {
	m := make(map[string]Value, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Value{kind: KindMap, m: m}
}

// ValueOf converts an arbitrary Go value into a Value. Unrecognized types
// fall back to their fmt representation as a string; conversion never fails,
// since recording must never fail the caller.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Int(x)
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case float32:
		return Number(float64(x))
	case float64:
		return Number(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Number(f)
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = ValueOf(e)
		}
		return List(elems...)
	case []string:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = String(e)
		}
		return List(elems...)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = ValueOf(e)
		}
		return Value{kind: KindMap, m: m}
	case map[string]Value:
		return Map(x)
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

// Kind returns the shape of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload and whether the value is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Float returns the numeric payload and whether the value is a number.
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// Boolean returns the bool payload and whether the value is a bool.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Elems returns the list payload and whether the value is a list.
func (v Value) Elems() ([]Value, bool) { return v.list, v.kind == KindList }

// Entries returns the map payload and whether the value is a map.
func (v Value) Entries() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Get returns the entry for key if the value is a map.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	e, ok := v.m[key]
	return e, ok
}

// String renders the value for human-readable output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Interface returns the value as plain Go data (string, float64, bool,
// []any, map[string]any, or nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes the value as the plain JSON it describes.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		// Deterministic key order keeps document writes idempotent.
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(v.m[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON decodes plain JSON into the matching value shape.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}
