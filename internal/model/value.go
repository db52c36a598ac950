// Package model defines the fact values, records, entities and table layout
// shared by the expansion, snapshot and storage layers.
package model

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is one attribute value inside a fact. It is a closed union:
// String, Int, Float, Bool, Null, List or Map.
type Value interface {
	isValue()
}

// String is a text scalar.
type String string

// Int is an integral scalar.
type Int int64

// Float is a non-integral numeric scalar.
type Float float64

// Bool is a boolean scalar.
type Bool bool

// Null is an explicit null. It is distinct from an absent attribute.
type Null struct{}

// List is an ordered list of values.
type List []Value

// Map is a mapping from attribute name to value. Facts and entities are Maps.
type Map map[string]Value

func (String) isValue() {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (Bool) isValue()   {}
func (Null) isValue()   {}
func (List) isValue()   {}
func (Map) isValue()    {}

// IsNull reports whether v carries no value at all.
func IsNull(v Value) bool {
	switch v.(type) {
	case nil, Null:
		return true
	default:
		return false
	}
}

// IsBlank reports whether v is null or an empty string. Numbers and booleans
// are never blank, so a zero judgment survives a merge.
func IsBlank(v Value) bool {
	switch x := v.(type) {
	case nil, Null:
		return true
	case String:
		return x == ""
	default:
		return false
	}
}

// IsScalar reports whether v is a scalar (including Null).
func IsScalar(v Value) bool {
	switch v.(type) {
	case List, Map:
		return false
	default:
		return true
	}
}

// Text returns the value as text, and whether it was a String.
func Text(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch x := v.(type) {
	case List:
		out := make(List, len(x))
		for i, e := range x {
			out[i] = Clone(e)
		}
		return out
	case Map:
		return x.Clone()
	default:
		return v
	}
}

// Equal reports whether a and b hold the same value.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil, Null:
		return IsNull(b)
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y, ok := b.(Map)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Clone returns a deep copy of m.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Has reports whether the attribute is present, even if null or blank.
func (m Map) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Str returns the attribute as text. Absent and non-string values yield "".
func (m Map) Str(key string) string {
	s, _ := Text(m[key])
	return s
}

// Keys returns the attribute names in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Native converts m into plain Go values (string, int64, float64, bool, nil,
// []any, map[string]any).
func (m Map) Native() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = ToNative(v)
	}
	return out
}

// String renders m as compact JSON with sorted keys, for logs and errors.
func (m Map) String() string {
	b, err := json.Marshal(m.Native())
	if err != nil {
		return "{}"
	}
	return string(b)
}

// MarshalJSON implements json.Marshaler.
func (m Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Native())
}

// UnmarshalJSON implements json.Unmarshaler. Numbers keep their integer-ness.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	v, err := FromNative(raw)
	if err != nil {
		return err
	}
	*m = v.(Map)
	return nil
}

// ToNative converts a single value into a plain Go value.
func ToNative(v Value) any {
	switch x := v.(type) {
	case String:
		return string(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case Bool:
		return bool(x)
	case List:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToNative(e)
		}
		return out
	case Map:
		return x.Native()
	default:
		return nil
	}
}

// ParseNumber converts numeric text into Int or Float.
func ParseNumber(s string) (Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return numberFromFloat(f), true
}

// numberFromFloat keeps integral floats as Int so 1.0 and 1 compare equal.
func numberFromFloat(f float64) Value {
	if f == float64(int64(f)) && f < 1<<53 && f > -(1<<53) {
		return Int(int64(f))
	}
	return Float(f)
}
