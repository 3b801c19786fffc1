package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/session"
	"github.com/Wuchinator/analytics-sdk-core/internal/store"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// startSession records the session row for a session-start record and makes
// it the live session. A failed insert still switches the live session so
// later records are attributed to it.
func (p *Processor) startSession(ctx context.Context, m *message.Message) {
	id := m.ID()
	ts := m.Timestamp()

	p.session = session.New(id, ts)
	p.publishSession()

	apiKey, err := p.apiKey()
	if err != nil {
		p.logger.Warn("Session row not created", zap.String("session_id", id), zap.Error(err))
		return
	}

	row := &store.Session{
		APIKey:    apiKey,
		SessionID: id,
		StartTime: ts,
		EndTime:   ts,
	}
	if attrs := p.callbacks.DeviceAttributes(); attrs != nil {
		row.AppInfo = encodeNullable(attrs.AppInfo(false))
		row.DeviceInfo = encodeNullable(attrs.DeviceInfo())
	}

	if err := p.repo.InsertSession(ctx, row); err != nil && !errors.Is(err, store.ErrDuplicateSession) {
		p.logger.Error("Failed to create session", zap.String("session_id", id), zap.Error(err))
	}
}

// advanceSession moves the end time of the record's session forward and keeps
// the in-memory foreground accounting in step with app state transitions.
func (p *Processor) advanceSession(ctx context.Context, m *message.Message) {
	sid := m.SessionID()
	ts := m.Timestamp()
	if sid == "" || sid == message.NoSessionID {
		return
	}

	if err := p.repo.UpdateSessionEndTime(ctx, sid, ts, 0); err != nil {
		p.logger.Warn("Failed to advance session end time", zap.String("session_id", sid), zap.Error(err))
	}

	if p.session == nil || p.session.ID() != sid {
		return
	}
	kind, _ := m.GetString(message.KeyStateTransitionType)
	switch {
	case m.Type() == message.TypeAppStateTransition && kind == message.StateTransitionBackground:
		p.session.Background(ts)
	case m.Type() == message.TypeAppStateTransition && kind == message.StateTransitionForeground:
		p.session.Foreground(ts)
	default:
		p.session.Touch(ts)
	}
	p.publishSession()
}

func (p *Processor) updateSessionAttributes(ctx context.Context, cmd UpdateSessionAttributes) error {
	if cmd.SessionID == "" {
		return fmt.Errorf("%w: session id required", ErrInvalidCommand)
	}
	encoded, err := json.Marshal(cmd.Attributes)
	if err != nil {
		return fmt.Errorf("%w: session attributes: %v", message.ErrMalformedMessage, err)
	}
	return p.repo.UpdateSessionAttributes(ctx, cmd.SessionID, string(encoded))
}

func (p *Processor) updateSessionEnd(ctx context.Context, cmd UpdateSessionEnd) error {
	if err := p.repo.UpdateSessionEndTime(ctx, cmd.SessionID, cmd.EndTime, cmd.ForegroundLength); err != nil {
		return err
	}
	if p.session != nil && p.session.ID() == cmd.SessionID {
		p.session.Touch(cmd.EndTime)
		p.session.SetForegroundLength(cmd.ForegroundLength)
		p.publishSession()
	}
	return nil
}

// createSessionEnd closes the session even when no open row is found, so a
// session can never be ended twice.
func (p *Processor) createSessionEnd(ctx context.Context, cmd CreateSessionEndMessage) error {
	defer func() {
		if p.session != nil && p.session.ID() == cmd.SessionID {
			p.session = nil
			p.publishSession()
		}
		if cmd.TerminatedByUser {
			p.callbacks.EndUploadLoop()
		}
	}()

	row, err := p.repo.GetOpenSession(ctx, cmd.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.closeSession(ctx, cmd.SessionID)
			return fmt.Errorf("%w: %s", ErrSessionNotFound, cmd.SessionID)
		}
		return err
	}

	attrs, err := decodeAttributes(row.Attributes)
	if err != nil {
		p.logger.Warn("Dropping malformed session attributes", zap.String("session_id", cmd.SessionID), zap.Error(err))
	}

	end, err := p.callbacks.CreateSessionEndMessage(row.SessionID, row.StartTime, row.EndTime, row.ForegroundLength, attrs)
	if err != nil {
		p.closeSession(ctx, cmd.SessionID)
		return fmt.Errorf("failed to build session end: %w", err)
	}
	if end != nil {
		end.Put(message.KeyID, p.newID())
		if err := p.insertMessage(ctx, end); err != nil {
			p.logger.Error("Failed to store session end", zap.String("session_id", cmd.SessionID), zap.Error(err))
		}
	}

	p.closeSession(ctx, cmd.SessionID)
	return nil
}

func (p *Processor) closeSession(ctx context.Context, sessionID string) {
	if err := p.repo.UpdateSessionStatus(ctx, sessionID, store.SessionStatusClosed); err != nil {
		p.logger.Error("Failed to close session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// endOrphanSessions schedules a session end for every open session left over
// from a previous run. The live session is not an orphan.
func (p *Processor) endOrphanSessions(ctx context.Context) error {
	apiKey, err := p.apiKey()
	if err != nil {
		return err
	}
	ids, err := p.repo.ListOpenSessionIDs(ctx, apiKey)
	if err != nil {
		return err
	}
	live := p.session.ID()
	for _, id := range ids {
		if id == live {
			continue
		}
		p.Enqueue(CreateSessionEndMessage{SessionID: id})
	}
	if len(ids) > 0 {
		p.logger.Info("Ending orphan sessions", zap.Int("count", len(ids)))
	}
	return nil
}

func (p *Processor) updateInstallReferrer(ctx context.Context, cmd UpdateInstallReferrer) error {
	attrs := p.callbacks.DeviceAttributes()
	if attrs == nil {
		return nil
	}
	info := encodeNullable(attrs.AppInfo(true))
	if !info.Valid {
		return nil
	}
	return p.repo.UpdateSessionAppInfo(ctx, cmd.SessionID, info.String)
}

func encodeNullable(m *message.Message) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	encoded, err := m.Encode()
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encoded, Valid: true}
}

func decodeAttributes(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	doc, err := message.Parse([]byte(raw.String))
	if err != nil {
		return nil, err
	}
	return doc.ToMap(), nil
}
