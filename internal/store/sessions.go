package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

func (r *repository) InsertSession(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO sessions (api_key, session_id, start_time, end_time, session_length,
			attributes, app_info, device_info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.q.ExecContext(ctx, query,
		s.APIKey,
		s.SessionID,
		s.StartTime,
		s.EndTime,
		s.ForegroundLength,
		s.Attributes,
		s.AppInfo,
		s.DeviceInfo,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			r.logger.Warn("Session already open", zap.String("session_id", s.SessionID))
			return ErrDuplicateSession
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		s.ID = id
	}

	r.logger.Debug("Session created",
		zap.String("session_id", s.SessionID),
		zap.Int64("start_time", s.StartTime),
	)
	return nil
}

// UpdateSessionEndTime never moves the end time backwards. The foreground
// length is only written when positive.
func (r *repository) UpdateSessionEndTime(ctx context.Context, sessionID string, endTime, foregroundLength int64) error {
	var err error
	if foregroundLength > 0 {
		_, err = r.exec(ctx, `
			UPDATE sessions
			SET end_time = MAX(end_time, ?), session_length = ?
			WHERE session_id = ?
		`, endTime, foregroundLength, sessionID)
	} else {
		_, err = r.exec(ctx, `
			UPDATE sessions
			SET end_time = MAX(end_time, ?)
			WHERE session_id = ?
		`, endTime, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to update session end time: %w", err)
	}
	return nil
}

func (r *repository) UpdateSessionAttributes(ctx context.Context, sessionID, attributes string) error {
	if _, err := r.exec(ctx, `UPDATE sessions SET attributes = ? WHERE session_id = ?`, attributes, sessionID); err != nil {
		return fmt.Errorf("failed to update session attributes: %w", err)
	}
	return nil
}

func (r *repository) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	if _, err := r.exec(ctx, `UPDATE sessions SET status = ? WHERE session_id = ?`, status, sessionID); err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

func (r *repository) UpdateSessionAppInfo(ctx context.Context, sessionID, appInfo string) error {
	if _, err := r.exec(ctx, `UPDATE sessions SET app_info = ? WHERE session_id = ?`, appInfo, sessionID); err != nil {
		return fmt.Errorf("failed to update session app info: %w", err)
	}
	return nil
}

func (r *repository) GetOpenSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT id, api_key, session_id, start_time, end_time, session_length,
			attributes, status, app_info, device_info
		FROM sessions
		WHERE session_id = ? AND status IS NULL
		ORDER BY id DESC
		LIMIT 1
	`
	var s Session
	if err := r.get(ctx, &s, query, sessionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (r *repository) ListOpenSessionIDs(ctx context.Context, apiKey string) ([]string, error) {
	query := `
		SELECT session_id
		FROM sessions
		WHERE api_key = ? AND status IS NULL
		ORDER BY id ASC
	`
	var ids []string
	if err := r.selectRows(ctx, &ids, query, apiKey); err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	return ids, nil
}
