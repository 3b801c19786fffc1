package message

import (
	"sync"

	"github.com/google/uuid"
)

type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Factory creates records and remembers the last known device location.
// It is safe for concurrent use.
type Factory struct {
	mu       sync.RWMutex
	location *Location
	newID    func() string
}

func NewFactory() *Factory {
	return &Factory{newID: func() string { return uuid.New().String() }}
}

// SetLocation replaces the known location; nil clears it.
func (f *Factory) SetLocation(loc *Location) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if loc == nil {
		f.location = nil
		return
	}
	cp := *loc
	f.location = &cp
}

func (f *Factory) Location() *Location {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.location == nil {
		return nil
	}
	cp := *f.location
	return &cp
}

// New builds a record of type t. Session-start records take the session id
// as their own id and carry neither sid, name, attributes nor sct. Every
// other record gets a fresh id.
func (f *Factory) New(
	t Type,
	sessionID string,
	sessionStart, timestamp int64,
	name string,
	attributes map[string]any,
	includeLocation bool) *Message {

	m := New()
	m.Put(KeyType, string(t))

	if t == TypeSessionStart {
		m.Put(KeyID, sessionID)
	} else {
		m.Put(KeyID, f.newID())
		if sessionID != "" && sessionID != NoSessionID {
			m.Put(KeySessionID, sessionID)
		}
		if sessionStart > 0 {
			m.Put(KeySessionStartTimestamp, sessionStart)
		}
	}

	m.Put(KeyTimestamp, timestamp)

	if t != TypeSessionStart {
		if name != "" {
			m.Put(KeyName, name)
		}
		if len(attributes) > 0 {
			m.Put(KeyAttributes, attributesDocument(attributes))
		}
	}

	if includeLocation && t.RequestsLocation() {
		if loc := f.Location(); loc != nil {
			m.Put(KeyLocation, New().
				Put(KeyLatitude, loc.Latitude).
				Put(KeyLongitude, loc.Longitude).
				Put(KeyAccuracy, loc.Accuracy))
		}
	}

	return m
}

// NewSessionEnd builds the record that closes a session.
func (f *Factory) NewSessionEnd(sessionID string, start, end, foregroundLength int64, attributes map[string]any) *Message {
	m := f.New(TypeSessionEnd, sessionID, start, end, "", attributes, true)
	m.Put(KeySessionLength, foregroundLength)
	m.Put(KeySessionLengthTotal, end-start)
	return m
}

// NewID hands out a record id in the same format the factory uses.
func (f *Factory) NewID() string {
	return f.newID()
}

func attributesDocument(attributes map[string]any) *Message {
	doc := New()
	for _, k := range sortedKeys(attributes) {
		doc.Put(k, attributes[k])
	}
	return doc
}
