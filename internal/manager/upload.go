package manager

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Upload reasons.
const (
	ReasonTrigger  = "trigger"
	ReasonInterval = "interval"
)

type UploadRequest struct {
	APIKey      string
	SessionID   string
	Reason      string
	RequestedAt time.Time
}

// Uploader hands an upload request to whatever performs the network batch.
type Uploader interface {
	RequestUpload(ctx context.Context, req UploadRequest) error
}

func (m *Manager) uploadLoop(ctx context.Context) {
	defer close(m.uploadDone)

	ticker := time.NewTicker(m.uploadInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopUpload:
			return
		case <-m.triggers:
			m.requestUpload(ctx, ReasonTrigger)
		case <-ticker.C:
			m.requestUpload(ctx, ReasonInterval)
			ticker.Reset(m.uploadInterval())
		}
	}
}

func (m *Manager) uploadInterval() time.Duration {
	if m.policy == nil {
		return 600 * time.Second
	}
	if d := m.policy.UploadInterval(); d > 0 {
		return d
	}
	return 600 * time.Second
}

func (m *Manager) requestUpload(ctx context.Context, reason string) {
	if m.uploader == nil || !m.enabled() {
		return
	}
	key, err := m.APIKey()
	if err != nil {
		m.logger.Debug("Upload skipped", zap.Error(err))
		return
	}
	req := UploadRequest{
		APIKey:      key,
		SessionID:   m.SessionID(),
		Reason:      reason,
		RequestedAt: m.now(),
	}
	if err := m.uploader.RequestUpload(ctx, req); err != nil {
		m.logger.Error("Upload request failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	m.logger.Debug("Upload requested", zap.String("reason", reason))
}
