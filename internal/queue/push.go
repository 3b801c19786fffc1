package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/push"
	"github.com/Wuchinator/analytics-sdk-core/internal/store"
	"go.uber.org/zap"
)

// validateBehavior merges the behavior carried by a push-received record into
// the stored bitmask. It reports whether the record should still be inserted.
// Records for pushes that were never stored are inserted unchanged.
func (p *Processor) validateBehavior(ctx context.Context, m *message.Message) (bool, error) {
	contentID, ok := m.GetInt64(message.KeyContentID)
	if !ok {
		return true, nil
	}
	raw, _ := m.GetInt64(message.KeyPushBehavior)
	incoming := push.Behavior(raw)

	insert := true
	err := p.repo.InTx(ctx, func(tx store.Repository) error {
		stored, err := tx.GetPushMessage(ctx, int32(contentID))
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if _, err := push.Resolve(0, incoming); err != nil {
				insert = false
				return fmt.Errorf("content %d incoming %s: %w", contentID, incoming, err)
			}
			return nil
		}

		res, err := push.Resolve(push.Behavior(stored.Behavior), incoming)
		if err != nil {
			insert = false
			return fmt.Errorf("content %d stored %s incoming %s: %w",
				contentID, push.Behavior(stored.Behavior), incoming, err)
		}
		if !res.Changed {
			insert = false
			return nil
		}

		var displayedAt int64
		if res.NewlyDisplayed {
			displayedAt = m.Timestamp()
		}
		if err := tx.UpdatePushBehavior(ctx, int32(contentID), int(res.Merged), displayedAt); err != nil {
			return err
		}
		m.Put(message.KeyPushBehavior, int(res.Incoming))
		return nil
	})
	if err != nil {
		if errors.Is(err, push.ErrDuplicateBehavior) {
			return false, err
		}
		p.logger.Warn("Push behavior not merged, storing record as is",
			zap.Int64("content_id", contentID), zap.Error(err))
		return true, nil
	}
	if !insert {
		p.logger.Debug("Push behavior unchanged", zap.Int64("content_id", contentID))
	}
	return insert, nil
}

func (p *Processor) storeCloudMessage(ctx context.Context, cmd StoreCloudMessage) error {
	msg := cmd.Push
	if msg == nil {
		return fmt.Errorf("%w: nil push", ErrInvalidCommand)
	}
	payload, err := msg.RedactedPayloadJSON()
	if err != nil {
		return err
	}

	now := p.now()
	row := &store.PushMessage{
		ContentID:  msg.ContentID(),
		CampaignID: msg.CampaignID(),
		Expiration: msg.Expiration(now),
		Payload:    payload,
		CreatedAt:  now.UnixMilli(),
	}
	if msg.Kind == push.Provider {
		row.DisplayedAt = now.UnixMilli()
	} else {
		row.DisplayedAt = msg.DeliveredAt()
	}
	if cmd.AppState != "" {
		row.AppState = sql.NullString{String: cmd.AppState, Valid: true}
	}
	return p.repo.ReplacePushMessage(ctx, row)
}

func (p *Processor) markInfluenceOpen(ctx context.Context, cmd MarkInfluenceOpenCandidates) error {
	displayedAfter := cmd.Timestamp - cmd.Timeout.Milliseconds()
	rows, err := p.repo.ListInfluenceOpenCandidates(ctx, displayedAfter)
	if err != nil {
		return err
	}
	for _, row := range rows {
		p.callbacks.LogNotification(row.ContentID, row.Payload, row.AppState.String, push.BehaviorInfluenceOpen)
	}
	return nil
}

func (p *Processor) clearProviderPush(ctx context.Context) error {
	n, err := p.repo.DeleteProviderPushMessages(ctx)
	if err != nil {
		return err
	}
	p.logger.Debug("Provider pushes cleared", zap.Int64("rows", n))
	return nil
}
