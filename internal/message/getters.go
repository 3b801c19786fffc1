package message

import (
	"strconv"
	"strings"
)

type numberLike interface {
	Float64() (float64, error)
	String() string
}

func (m *Message) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetBool accepts real booleans and the strings "true"/"false" in any case.
func (m *Message) GetBool(key string) (bool, bool) {
	v, ok := m.Get(key)
	if !ok {
		return false, false
	}
	return asBool(v)
}

// GetFloat64 accepts any numeric value and strings that parse as numbers.
func (m *Message) GetFloat64(key string) (float64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

func (m *Message) GetInt64(key string) (int64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	return ToInt64(v)
}

// ToInt64 converts a decoded document value to an integer. Fractions are
// truncated; anything non-numeric fails.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case numberLike:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func (m *Message) GetInt(key string) (int, bool) {
	i, ok := m.GetInt64(key)
	return int(i), ok
}

func (m *Message) OptInt64(key string, fallback int64) int64 {
	if i, ok := m.GetInt64(key); ok {
		return i
	}
	return fallback
}

func (m *Message) GetObject(key string) (*Message, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	switch o := v.(type) {
	case *Message:
		return o, true
	case map[string]any:
		return FromMap(o), true
	}
	return nil, false
}

// ValuesEqual compares two document values the way trigger rules do:
// case-insensitive string equality first, then boolean, then numeric.
// Values with no common representation never match.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok && strings.EqualFold(as, bs) {
		return true
	}
	if ab, ok := asBool(a); ok {
		if bb, ok := asBool(b); ok && ab == bb {
			return true
		}
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok && af == bf {
			return true
		}
	}
	return false
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case numberLike:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// FromMap builds a record from a plain map. Keys are taken in map order, so
// callers that care about ordering should Put keys themselves.
func FromMap(values map[string]any) *Message {
	m := New()
	for k, v := range values {
		if nested, ok := v.(map[string]any); ok {
			v = FromMap(nested)
		}
		m.Put(k, v)
	}
	return m
}

// ToMap flattens the record back into maps, recursing into nested records.
func (m *Message) ToMap() map[string]any {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		v := m.values[k]
		if nested, ok := v.(*Message); ok {
			v = nested.ToMap()
		}
		out[k] = v
	}
	return out
}
