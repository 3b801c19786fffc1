package manager

import (
	"context"
	"fmt"

	"github.com/Wuchinator/analytics-sdk-core/internal/push"
	"github.com/Wuchinator/analytics-sdk-core/internal/queue"
	"go.uber.org/zap"
)

// HandlePush processes an inbound push: it is parsed, rendered when it asks
// to be shown, stored, and a received record is logged.
func (m *Manager) HandlePush(ctx context.Context, extras map[string]string, appState string) (*push.Message, error) {
	now := m.now()

	var (
		msg *push.Message
		err error
	)
	if push.IsFirstParty(extras) {
		msg, err = push.ParseFirstParty(extras, now)
		if err != nil {
			return nil, err
		}
	} else {
		var keys []string
		if m.policy != nil {
			keys = m.policy.PushKeys()
		}
		msg = push.NewProvider(extras, keys)
	}

	behavior := push.BehaviorReceived
	if msg.ShouldDisplay() && m.renderer != nil {
		if err := m.renderer.Render(ctx, msg); err != nil {
			m.logger.Warn("Push not rendered", zap.Int32("id", msg.ID()), zap.Error(err))
		} else {
			msg.SetDeliveredAt(now.UnixMilli())
			behavior |= push.BehaviorDisplayed
		}
	}

	m.submit(queue.StoreCloudMessage{Push: msg, AppState: appState})

	payload, err := msg.RedactedPayloadJSON()
	if err != nil {
		return msg, fmt.Errorf("push stored without received record: %w", err)
	}
	m.store(m.notificationRecord(msg.ContentID(), payload, appState, behavior))
	return msg, nil
}

// OpenedPush records that the user tapped the notification.
func (m *Manager) OpenedPush(msg *push.Message, appState string) error {
	payload, err := msg.RedactedPayloadJSON()
	if err != nil {
		return err
	}
	m.store(m.notificationRecord(msg.ContentID(), payload, appState, push.BehaviorDirectOpen))
	return nil
}

// ClearProviderPushes forgets every stored third-party push.
func (m *Manager) ClearProviderPushes() {
	m.submit(queue.ClearProviderPush{})
}
