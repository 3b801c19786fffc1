package store

import (
	"context"
	"fmt"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"go.uber.org/zap"
)

func (r *repository) InsertMessage(ctx context.Context, row *MessageRow) error {
	if len(row.Message) > message.MaxMessageSize {
		r.logger.Error("Message exceeds maximum safe size",
			zap.Int("size", len(row.Message)),
			zap.Int("limit", message.MaxMessageSize),
		)
		return ErrMessageTooLarge
	}
	if row.Status == 0 {
		row.Status = StatusReady
	}

	query := `
		INSERT INTO messages (api_key, created_at, session_id, message, status)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := r.q.ExecContext(ctx, query, row.APIKey, row.CreatedAt, row.SessionID, row.Message, row.Status)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		row.ID = id
	}
	return nil
}

func (r *repository) ListMessages(ctx context.Context, status int, limit int) ([]MessageRow, error) {
	query := `
		SELECT id, api_key, created_at, session_id, message, status
		FROM messages
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?
	`
	var rows []MessageRow
	if err := r.selectRows(ctx, &rows, query, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rows, nil
}
