package manager

import (
	"context"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/push"
	"github.com/Wuchinator/analytics-sdk-core/internal/queue"
	"go.uber.org/zap"
)

// The methods below are invoked by the queue worker.

var _ queue.Callbacks = (*Manager)(nil)

func (m *Manager) CheckForTrigger(msg *message.Message) {
	if m.policy == nil || !m.policy.ShouldTrigger(msg) {
		return
	}
	select {
	case m.triggers <- struct{}{}:
	default:
	}
}

type attributeRemover interface {
	RemoveUserAttribute(key string)
}

func (m *Manager) AttributeRemoved(key string) {
	if r, ok := m.kits.(attributeRemover); ok {
		r.RemoveUserAttribute(key)
	}
}

func (m *Manager) LogUserAttributeChange(key string, newValue, oldValue any, deleted, isNew bool, ts int64) {
	rec := m.record(message.TypeUserAttributeChange, key, nil, false, ts)
	rec.Put(message.KeyNewAttributeValue, newValue)
	rec.Put(message.KeyOldAttributeValue, oldValue)
	rec.Put(message.KeyAttributeDeleted, deleted)
	rec.Put(message.KeyIsNewAttribute, isNew)
	m.followUp(rec)
}

// LogNotification records a push-received record carrying behavior. The
// queue merges it with what is already stored for contentID.
func (m *Manager) LogNotification(contentID int32, payload, appState string, behavior push.Behavior) {
	m.followUp(m.notificationRecord(contentID, payload, appState, behavior))
}

func (m *Manager) notificationRecord(contentID int32, payload, appState string, behavior push.Behavior) *message.Message {
	rec := m.record(message.TypePushReceived, "", nil, false, m.now().UnixMilli())
	rec.Put(message.KeyContentID, int64(contentID))
	rec.Put(message.KeyPushBehavior, int(behavior))
	if payload != "" {
		rec.Put(message.KeyPayload, payload)
	}
	if appState != "" {
		rec.Put(message.KeyAppState, appState)
	}
	return rec
}

// followUp stores a record produced while the worker runs a command. It goes
// through the worker's own queue so it survives a Close that is draining.
func (m *Manager) followUp(rec *message.Message) {
	if !m.enabled() {
		return
	}
	m.processor.Enqueue(queue.StoreMessage{Message: rec})
}

func (m *Manager) APIKey() (string, error) {
	if m.apiKey == "" || m.apiSecret == "" {
		return "", queue.ErrNoCredentials
	}
	return m.apiKey, nil
}

func (m *Manager) DeviceAttributes() queue.DeviceAttributes {
	return m.device
}

// EndUploadLoop stops the upload loop. It is safe to call more than once.
func (m *Manager) EndUploadLoop() {
	m.stopOnce.Do(func() { close(m.stopUpload) })
}

// DelayedStart restores persisted configuration the first time the store
// becomes available.
func (m *Manager) DelayedStart() {
	m.delayedStart.Do(func() {
		if m.policy == nil {
			return
		}
		if err := m.policy.Restore(context.Background()); err != nil {
			m.logger.Warn("Failed to restore configuration", zap.Error(err))
		}
	})
}

func (m *Manager) StateInfo() *message.Message {
	if m.stateInfo == nil {
		return nil
	}
	return m.stateInfo()
}

func (m *Manager) CreateSessionEndMessage(sessionID string, start, end, foregroundLength int64, attributes map[string]any) (*message.Message, error) {
	return m.factory.NewSessionEnd(sessionID, start, end, foregroundLength, attributes), nil
}
