package message

import (
	"bytes"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// Message is one analytics record: an ordered key/value document. It is not
// safe for concurrent mutation; once submitted to the queue only the worker
// touches it.
type Message struct {
	keys   []string
	values map[string]any
}

func New() *Message {
	return &Message{values: make(map[string]any)}
}

// Put sets key to value. Re-setting an existing key keeps its position.
func (m *Message) Put(key string, value any) *Message {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

func (m *Message) Get(key string) (any, bool) {
	if m == nil || m.values == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

func (m *Message) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *Message) Remove(key string) {
	if !m.Has(key) {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *Message) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Message) Len() int {
	return len(m.keys)
}

func (m *Message) Type() Type {
	s, _ := m.GetString(KeyType)
	return Type(s)
}

func (m *Message) ID() string {
	s, _ := m.GetString(KeyID)
	return s
}

// SessionID returns NoSessionID when the record has no owning session.
func (m *Message) SessionID() string {
	if s, ok := m.GetString(KeySessionID); ok && s != "" {
		return s
	}
	return NoSessionID
}

func (m *Message) Timestamp() int64 {
	ts, _ := m.GetInt64(KeyTimestamp)
	return ts
}

func (m *Message) Name() string {
	s, _ := m.GetString(KeyName)
	return s
}

// Clone copies the document one level deep; nested records are cloned too.
func (m *Message) Clone() *Message {
	c := New()
	for _, k := range m.keys {
		v := m.values[k]
		if nested, ok := v.(*Message); ok {
			v = nested.Clone()
		}
		c.Put(k, v)
	}
	return c
}

func (m *Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("could not encode key %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(normalize(m.values[k]))
		if err != nil {
			return nil, fmt.Errorf("could not encode value of %q: %w", k, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Message) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: document is not an object", ErrMalformedMessage)
	}
	decoded, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// Parse decodes a serialized record.
func Parse(data []byte) (*Message, error) {
	m := New()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes the record; failures surface as ErrMalformedMessage.
func (m *Message) Encode() (string, error) {
	b, err := m.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return string(b), nil
}

func decodeObject(dec *json.Decoder) (*Message, error) {
	m := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: object key is not a string", ErrMalformedMessage)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		m.Put(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		return decodeObject(dec)
	case '[':
		arr := make([]any, 0)
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("%w: unexpected delimiter %v", ErrMalformedMessage, d)
	}
}

// normalize keeps NaN and Inf out of the encoder, which rejects them.
func normalize(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
	}
	return v
}
