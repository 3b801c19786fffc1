package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wuchinator/analytics-sdk-core/internal/push"
)

// ReplacePushMessage inserts p, replacing any row with the same content id.
func (r *repository) ReplacePushMessage(ctx context.Context, p *PushMessage) error {
	query := `
		INSERT OR REPLACE INTO push_messages
			(content_id, campaign_id, expiration, displayed_at, behavior, payload, app_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.exec(ctx, query,
		p.ContentID,
		p.CampaignID,
		p.Expiration,
		p.DisplayedAt,
		p.Behavior,
		p.Payload,
		p.AppState,
		p.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to store push message: %w", err)
	}
	return nil
}

func (r *repository) GetPushMessage(ctx context.Context, contentID int32) (*PushMessage, error) {
	query := `
		SELECT content_id, campaign_id, expiration, displayed_at, behavior, payload, app_state, created_at
		FROM push_messages
		WHERE content_id = ?
	`
	var p PushMessage
	if err := r.get(ctx, &p, query, contentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get push message: %w", err)
	}
	return &p, nil
}

// UpdatePushBehavior writes behavior and, when displayedAt is positive, the
// display timestamp.
func (r *repository) UpdatePushBehavior(ctx context.Context, contentID int32, behavior int, displayedAt int64) error {
	var (
		n   int64
		err error
	)
	if displayedAt > 0 {
		n, err = r.exec(ctx, `UPDATE push_messages SET behavior = ?, displayed_at = ? WHERE content_id = ?`,
			behavior, displayedAt, contentID)
	} else {
		n, err = r.exec(ctx, `UPDATE push_messages SET behavior = ? WHERE content_id = ?`, behavior, contentID)
	}
	if err != nil {
		return fmt.Errorf("failed to update push behavior: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) LatestDisplayedPushPayload(ctx context.Context) (string, error) {
	var payload string
	err := r.get(ctx, &payload, `
		SELECT payload
		FROM push_messages
		WHERE displayed_at > 0
		ORDER BY displayed_at DESC
		LIMIT 1
	`)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get latest push payload: %w", err)
	}
	return payload, nil
}

// ListInfluenceOpenCandidates returns first-party pushes displayed after
// displayedAfter that are not yet attributed as influence opens.
func (r *repository) ListInfluenceOpenCandidates(ctx context.Context, displayedAfter int64) ([]PushMessage, error) {
	query := `
		SELECT content_id, campaign_id, expiration, displayed_at, behavior, payload, app_state, created_at
		FROM push_messages
		WHERE content_id != ?
			AND displayed_at > 0
			AND displayed_at > ?
			AND (behavior & ?) != ?
		ORDER BY displayed_at ASC
	`
	flag := int(push.BehaviorInfluenceOpen)
	var rows []PushMessage
	if err := r.selectRows(ctx, &rows, query, push.ProviderContentID, displayedAfter, flag, flag); err != nil {
		return nil, fmt.Errorf("failed to list influence open candidates: %w", err)
	}
	return rows, nil
}

func (r *repository) DeleteProviderPushMessages(ctx context.Context) (int64, error) {
	n, err := r.exec(ctx, `DELETE FROM push_messages WHERE content_id = ?`, push.ProviderContentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provider push messages: %w", err)
	}
	return n, nil
}
