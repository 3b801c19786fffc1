package manager

import (
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/queue"
	"github.com/Wuchinator/analytics-sdk-core/internal/session"
	"go.uber.org/zap"
)

// sessionRef is what producers need to tag records. Timing state lives on
// the queue worker.
type sessionRef struct {
	id         string
	start      int64
	attributes map[string]any
}

// StartSession opens a new session, ending the current one first.
func (m *Manager) StartSession() string {
	ts := m.now().UnixMilli()

	m.mu.Lock()
	prev := m.current
	id := m.factory.NewID()
	m.current = &sessionRef{id: id, start: ts, attributes: map[string]any{}}
	m.mu.Unlock()

	if prev != nil {
		m.endSession(prev, false, ts)
	}

	m.submit(queue.StoreMessage{Message: m.factory.New(message.TypeSessionStart, id, ts, ts, "", nil, true)})
	m.logger.Debug("Session started", zap.String("session_id", id))
	return id
}

// EndSession closes the current session. terminatedByUser also stops the
// upload loop once the session end is stored.
func (m *Manager) EndSession(terminatedByUser bool) error {
	m.mu.Lock()
	ref := m.current
	m.current = nil
	m.mu.Unlock()

	if ref == nil {
		return ErrNoSession
	}
	m.endSession(ref, terminatedByUser, m.now().UnixMilli())
	return nil
}

func (m *Manager) endSession(ref *sessionRef, terminatedByUser bool, ts int64) {
	var foreground int64
	if snap := m.processor.Session(); snap.ID == ref.id {
		foreground = snap.ForegroundLength
		if snap.LastEventTime > ref.start {
			ts = snap.LastEventTime
		}
	}
	m.submit(queue.UpdateSessionEnd{SessionID: ref.id, EndTime: ts, ForegroundLength: foreground})
	m.submit(queue.CreateSessionEndMessage{SessionID: ref.id, TerminatedByUser: terminatedByUser})
	m.logger.Debug("Session ended", zap.String("session_id", ref.id), zap.Bool("by_user", terminatedByUser))
}

// EndSessionIfIdle ends the current session when no record arrived within
// the configured session timeout. It reports whether a session was ended.
func (m *Manager) EndSessionIfIdle(now time.Time) bool {
	m.mu.Lock()
	ref := m.current
	m.mu.Unlock()
	if ref == nil {
		return false
	}

	snap := m.processor.Session()
	if snap.ID != ref.id || !snap.TimedOut(now, m.sessionTimeout()) {
		return false
	}

	m.mu.Lock()
	if m.current != ref {
		m.mu.Unlock()
		return false
	}
	m.current = nil
	m.mu.Unlock()

	m.endSession(ref, false, now.UnixMilli())
	return true
}

func (m *Manager) sessionTimeout() time.Duration {
	if m.policy == nil {
		return 60 * time.Second
	}
	return m.policy.SessionTimeout()
}

// SessionID is the id of the current session, if any.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// Session returns the worker's view of the open session.
func (m *Manager) Session() session.Snapshot {
	return m.processor.Session()
}

// SetSessionAttribute stores key on the current session. The full attribute
// set is rewritten on every change.
func (m *Manager) SetSessionAttribute(key string, value any) error {
	m.mu.Lock()
	ref := m.current
	if ref == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	ref.attributes[key] = value
	attrs := make(map[string]any, len(ref.attributes))
	for k, v := range ref.attributes {
		attrs[k] = v
	}
	m.mu.Unlock()

	m.submit(queue.UpdateSessionAttributes{SessionID: ref.id, Attributes: attrs})
	return nil
}

// SetInstallReferrer records the referrer and refreshes the app info stored
// with the current session.
func (m *Manager) SetInstallReferrer(referrer string) {
	if d, ok := m.device.(*Device); ok {
		d.SetInstallReferrer(referrer)
	}
	if id := m.SessionID(); id != "" {
		m.submit(queue.UpdateInstallReferrer{SessionID: id})
	}
}

// record builds a record tagged with the current session. Records created
// outside of a session carry the NO-SESSION sentinel.
func (m *Manager) record(t message.Type, name string, attrs map[string]any, includeLocation bool, ts int64) *message.Message {
	m.mu.Lock()
	ref := m.current
	m.mu.Unlock()

	if ref == nil {
		rec := m.factory.New(t, "", 0, ts, name, attrs, includeLocation)
		rec.Put(message.KeySessionID, message.NoSessionID)
		return rec
	}
	return m.factory.New(t, ref.id, ref.start, ts, name, attrs, includeLocation)
}

func (m *Manager) store(rec *message.Message) {
	if !m.enabled() {
		m.logger.Debug("Record dropped while disabled", zap.String("type", string(rec.Type())))
		return
	}
	m.submit(queue.StoreMessage{Message: rec})
}
