package manager

import (
	"context"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/queue"
	"go.uber.org/zap"
)

func (m *Manager) LogEvent(name string, attrs map[string]any) {
	m.store(m.record(message.TypeEvent, name, attrs, false, m.now().UnixMilli()))
}

func (m *Manager) LogScreen(name string, attrs map[string]any) {
	m.store(m.record(message.TypeScreenView, name, attrs, false, m.now().UnixMilli()))
}

func (m *Manager) LogCommerceEvent(name string, attrs map[string]any) {
	m.store(m.record(message.TypeCommerceEvent, name, attrs, false, m.now().UnixMilli()))
}

// LogError stores an error record. The queue attaches the recent breadcrumbs.
func (m *Manager) LogError(msg string, attrs map[string]any) {
	rec := m.record(message.TypeError, "", attrs, true, m.now().UnixMilli())
	rec.Put(message.KeyErrorMessage, msg)
	m.store(rec)
}

func (m *Manager) LogBreadcrumb(name string) {
	if !m.enabled() {
		return
	}
	m.submit(queue.StoreBreadcrumb{Message: m.record(message.TypeBreadcrumb, name, nil, false, m.now().UnixMilli())})
}

// LogStateTransition stores an app state transition. Coming to the
// foreground also checks recent pushes for influence opens.
func (m *Manager) LogStateTransition(kind string) {
	ts := m.now().UnixMilli()
	rec := m.record(message.TypeAppStateTransition, "", nil, false, ts)
	rec.Put(message.KeyStateTransitionType, kind)
	m.store(rec)

	if kind == message.StateTransitionForeground && m.policy != nil && m.enabled() {
		m.submit(queue.MarkInfluenceOpenCandidates{Timestamp: ts, Timeout: m.policy.InfluenceOpenTimeout()})
	}
}

func (m *Manager) LogFirstRun() {
	m.store(m.record(message.TypeFirstRun, "", nil, false, m.now().UnixMilli()))
}

// SetOptOut persists the opt-out state. The opt-out record itself is always
// stored.
func (m *Manager) SetOptOut(ctx context.Context, optOut bool) error {
	if m.policy != nil {
		if err := m.policy.SetOptOut(ctx, optOut); err != nil {
			return err
		}
	}
	rec := m.record(message.TypeOptOut, "", nil, true, m.now().UnixMilli())
	rec.Put(message.KeyOptOutStatus, optOut)
	m.submit(queue.StoreMessage{Message: rec})
	m.logger.Info("Opt-out changed", zap.Bool("opt_out", optOut))
	return nil
}

// LogReporting appends audit records in one batch.
func (m *Manager) LogReporting(moduleID int, payloads ...*message.Message) {
	if len(payloads) == 0 {
		return
	}
	sid := m.SessionID()
	ts := m.now().UnixMilli()
	msgs := make([]queue.ReportingMessage, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, queue.ReportingMessage{Timestamp: ts, ModuleID: moduleID, Payload: p, SessionID: sid})
	}
	m.submit(queue.StoreReportingBatch{Messages: msgs})
}
