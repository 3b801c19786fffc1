package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/manager"
	"github.com/Wuchinator/analytics-sdk-core/internal/policy"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

type uploadTrigger struct {
	APIKey      string `json:"api_key"`
	SessionID   string `json:"session_id,omitempty"`
	Reason      string `json:"reason"`
	RequestedAt string `json:"requested_at"`
}

// triggerPublisher sends upload requests to the trigger topic, keyed by api
// key.
type triggerPublisher struct {
	producer publisher
}

func (t *triggerPublisher) RequestUpload(ctx context.Context, req manager.UploadRequest) error {
	return t.producer.Publish(ctx, req.APIKey, uploadTrigger{
		APIKey:      req.APIKey,
		SessionID:   req.SessionID,
		Reason:      req.Reason,
		RequestedAt: req.RequestedAt.UTC().Format(time.RFC3339Nano),
	})
}

// configHandler applies every configuration document read from the config
// topic as a newly fetched config.
func configHandler(engine *policy.Engine) func(ctx context.Context, key, value []byte) error {
	return func(ctx context.Context, _, value []byte) error {
		if err := engine.Update(ctx, value, true); err != nil {
			return fmt.Errorf("config rejected: %w", err)
		}
		return nil
	}
}

// kitLogger stands in for kit integrations; it records what would be
// forwarded.
type kitLogger struct {
	log *zap.Logger
}

func (k kitLogger) UpdateKits(_ context.Context, kits []any) {
	k.log.Info("Kit configuration received", zap.Int("kits", len(kits)))
}
