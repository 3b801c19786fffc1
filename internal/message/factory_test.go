package message

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	sessionID    string
	msgTime      int64
	sessionStart int64
}

func newFixture() fixture {
	now := time.Now().UnixMilli()
	return fixture{
		sessionID:    uuid.New().String(),
		msgTime:      now,
		sessionStart: now - 10*1000,
	}
}

func TestSessionStartRecord(t *testing.T) {
	fx := newFixture()
	m := NewFactory().New(TypeSessionStart, fx.sessionID, fx.sessionStart, fx.sessionStart, "ignored", map[string]any{"a": 1}, true)

	assert.Equal(t, TypeSessionStart, m.Type())
	assert.Equal(t, fx.sessionID, m.ID())
	assert.Equal(t, fx.sessionStart, m.Timestamp())
	assert.False(t, m.Has(KeySessionID))
	assert.False(t, m.Has(KeyName))
	assert.False(t, m.Has(KeyAttributes))
	assert.False(t, m.Has(KeySessionStartTimestamp))
}

func TestSessionEndRecord(t *testing.T) {
	fx := newFixture()
	length := fx.msgTime - fx.sessionStart
	m := NewFactory().NewSessionEnd(fx.sessionID, fx.sessionStart, fx.msgTime, length, nil)

	assert.Equal(t, TypeSessionEnd, m.Type())
	assert.True(t, m.Has(KeyID))
	assert.NotEqual(t, fx.sessionID, m.ID())
	assert.Equal(t, fx.msgTime, m.Timestamp())
	assert.Equal(t, fx.sessionStart, m.OptInt64(KeySessionStartTimestamp, 0))
	assert.Equal(t, length, m.OptInt64(KeySessionLength, 0))
	assert.Equal(t, fx.sessionID, m.SessionID())
	assert.False(t, m.Has(KeyName))
	assert.False(t, m.Has(KeyAttributes))
}

func TestCustomEventRecord(t *testing.T) {
	fx := newFixture()
	m := NewFactory().New(TypeEvent, fx.sessionID, fx.sessionStart, fx.sessionStart+10000, "event1", nil, true)

	assert.Equal(t, TypeEvent, m.Type())
	assert.NotEqual(t, fx.sessionID, m.ID())
	assert.Equal(t, fx.sessionStart+10000, m.Timestamp())
	assert.Equal(t, fx.sessionID, m.SessionID())
	assert.Equal(t, fx.sessionStart, m.OptInt64(KeySessionStartTimestamp, 0))
	assert.Equal(t, "event1", m.Name())
	assert.False(t, m.Has(KeyAttributes))
}

func TestCustomEventWithAttributes(t *testing.T) {
	fx := newFixture()
	m := NewFactory().New(TypeEvent, fx.sessionID, fx.sessionStart, fx.msgTime, "event2", map[string]any{"key1": "value1"}, true)

	attrs, ok := m.GetObject(KeyAttributes)
	require.True(t, ok)
	v, ok := attrs.GetString("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", v)
}

func TestOptOutRecord(t *testing.T) {
	fx := newFixture()
	m := NewFactory().New(TypeOptOut, "", 0, fx.msgTime, "", nil, false)

	assert.Equal(t, TypeOptOut, m.Type())
	assert.True(t, m.Has(KeyID))
	assert.Equal(t, fx.msgTime, m.Timestamp())
	assert.False(t, m.Has(KeySessionStartTimestamp))
	assert.False(t, m.Has(KeySessionID))
	assert.Equal(t, NoSessionID, m.SessionID())
	assert.False(t, m.Has(KeyName))
	assert.False(t, m.Has(KeyAttributes))
}

func TestLocationAttachedWhenRequested(t *testing.T) {
	fx := newFixture()
	f := NewFactory()
	lat := 360.0*rand.Float64() - 180.0
	lng := 360.0*rand.Float64() - 180.0
	f.SetLocation(&Location{Latitude: lat, Longitude: lng})

	m := f.New(TypeSessionStart, fx.sessionID, fx.sessionStart, fx.sessionStart, "", nil, true)
	loc, ok := m.GetObject(KeyLocation)
	require.True(t, ok)
	got, ok := loc.GetFloat64(KeyLatitude)
	require.True(t, ok)
	assert.Equal(t, lat, got)
	got, ok = loc.GetFloat64(KeyLongitude)
	require.True(t, ok)
	assert.Equal(t, lng, got)
}

func TestLocationIgnoredForOptOut(t *testing.T) {
	fx := newFixture()
	f := NewFactory()
	f.SetLocation(&Location{Latitude: 1, Longitude: 2})

	for _, include := range []bool{true, false} {
		m := f.New(TypeOptOut, fx.sessionID, 0, fx.msgTime, "", nil, include)
		assert.False(t, m.Has(KeyLocation))
		assert.False(t, m.Has(KeyLatitude))
		assert.False(t, m.Has(KeyLongitude))
	}
}

func TestLocationMissing(t *testing.T) {
	fx := newFixture()
	m := NewFactory().New(TypeSessionStart, fx.sessionID, fx.sessionStart, fx.sessionStart, "", nil, true)
	assert.False(t, m.Has(KeyLocation))
}

func TestNonSessionStartRecordsNeverReuseSessionID(t *testing.T) {
	fx := newFixture()
	f := NewFactory()
	for _, typ := range []Type{TypeEvent, TypeScreenView, TypeCommerceEvent, TypeError, TypeBreadcrumb, TypePushReceived} {
		m := f.New(typ, fx.sessionID, fx.sessionStart, fx.msgTime, "x", nil, true)
		assert.NotEqual(t, fx.sessionID, m.ID(), typ)
		assert.Equal(t, fx.sessionID, m.SessionID(), typ)
	}
}

func TestSetLocationCopies(t *testing.T) {
	f := NewFactory()
	loc := &Location{Latitude: 1}
	f.SetLocation(loc)
	loc.Latitude = 50
	assert.Equal(t, 1.0, f.Location().Latitude)

	f.SetLocation(nil)
	assert.Nil(t, f.Location())
}
