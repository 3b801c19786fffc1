package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/store"
	"go.uber.org/zap"
)

func (p *Processor) storeMessage(ctx context.Context, cmd StoreMessage) error {
	m := cmd.Message
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidCommand)
	}

	if info := p.callbacks.StateInfo(); info != nil {
		m.Put(message.KeyStateInfo, info)
	}

	t := m.Type()
	if t == message.TypeSessionStart {
		p.startSession(ctx, m)
	} else {
		p.advanceSession(ctx, m)
		m.Put(message.KeyID, p.newID())
	}

	switch t {
	case message.TypeError:
		p.appendBreadcrumbs(ctx, m)
	case message.TypeAppStateTransition:
		p.appendLatestPush(ctx, m)
	case message.TypePushReceived:
		if m.Has(message.KeyPushBehavior) {
			insert, err := p.validateBehavior(ctx, m)
			if err != nil {
				return err
			}
			if !insert {
				return nil
			}
		}
	}

	if err := p.insertMessage(ctx, m); err != nil {
		return err
	}
	p.callbacks.CheckForTrigger(m)
	return nil
}

func (p *Processor) insertMessage(ctx context.Context, m *message.Message) error {
	apiKey, err := p.apiKey()
	if err != nil {
		return fmt.Errorf("message not stored: %w", err)
	}

	sessionID := m.SessionID()
	if sessionID == message.NoSessionID {
		m.Remove(message.KeySessionID)
	}

	encoded, err := m.Encode()
	if err != nil {
		return err
	}

	row := &store.MessageRow{
		APIKey:    apiKey,
		CreatedAt: m.Timestamp(),
		SessionID: sessionID,
		Message:   encoded,
		Status:    store.StatusFor(m.Type()),
	}
	if err := p.repo.InsertMessage(ctx, row); err != nil {
		return err
	}

	p.logger.Debug("Message stored",
		zap.String("type", string(m.Type())),
		zap.String("session_id", sessionID),
		zap.Int64("row_id", row.ID),
	)
	return nil
}

// appendBreadcrumbs attaches the most recent breadcrumbs to an error record.
// Failures leave the record without breadcrumbs.
func (p *Processor) appendBreadcrumbs(ctx context.Context, m *message.Message) {
	crumbs, err := p.repo.RecentBreadcrumbs(ctx, p.breadcrumbLimit())
	if err != nil {
		p.logger.Debug("Failed to read breadcrumbs", zap.Error(err))
		return
	}
	if len(crumbs) == 0 {
		return
	}
	list := make([]any, 0, len(crumbs))
	for _, c := range crumbs {
		doc, err := message.Parse([]byte(c.Message))
		if err != nil {
			p.logger.Debug("Skipping malformed breadcrumb", zap.Int64("id", c.ID), zap.Error(err))
			continue
		}
		list = append(list, doc)
	}
	m.Put(message.KeyBreadcrumbs, list)
}

func (p *Processor) appendLatestPush(ctx context.Context, m *message.Message) {
	payload, err := p.repo.LatestDisplayedPushPayload(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Debug("Failed to read latest push payload", zap.Error(err))
		}
		return
	}
	m.Put(message.KeyPayload, payload)
}

func (p *Processor) storeBreadcrumb(ctx context.Context, cmd StoreBreadcrumb) error {
	m := cmd.Message
	if m == nil {
		return fmt.Errorf("%w: nil breadcrumb", ErrInvalidCommand)
	}
	apiKey, err := p.apiKey()
	if err != nil {
		return fmt.Errorf("breadcrumb not stored: %w", err)
	}

	m.Put(message.KeyID, p.newID())
	encoded, err := m.Encode()
	if err != nil {
		return err
	}
	return p.repo.InsertBreadcrumb(ctx, &store.Breadcrumb{
		APIKey:    apiKey,
		CreatedAt: m.Timestamp(),
		SessionID: m.SessionID(),
		Message:   encoded,
	}, p.breadcrumbLimit())
}

// storeReporting drops the whole batch when any payload cannot be encoded.
func (p *Processor) storeReporting(ctx context.Context, cmd StoreReportingBatch) error {
	records := make([]store.ReportingRecord, 0, len(cmd.Messages))
	for _, rm := range cmd.Messages {
		if rm.Payload == nil {
			return fmt.Errorf("%w: reporting message without payload", ErrInvalidCommand)
		}
		encoded, err := rm.Payload.Encode()
		if err != nil {
			return err
		}
		rec := store.ReportingRecord{
			CreatedAt: rm.Timestamp,
			ModuleID:  rm.ModuleID,
			Message:   encoded,
		}
		if rm.SessionID != "" {
			rec.SessionID.String = rm.SessionID
			rec.SessionID.Valid = true
		}
		records = append(records, rec)
	}
	return p.repo.InsertReportingBatch(ctx, records)
}
