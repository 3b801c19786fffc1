package policy

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"go.uber.org/zap"
)

// Preference keys persisted through the PreferenceStore.
const (
	PrefConfigJSON      = "json"
	PrefOptOut          = "mp::optout"
	PrefBreadcrumbLimit = "mp::breadcrumbs::limit"
)

const developmentUploadInterval = 10 * time.Second

// PreferenceStore persists small values across restarts.
type PreferenceStore interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
}

// Kits receives the kit configuration of every newly fetched config.
type Kits interface {
	UpdateKits(ctx context.Context, kits []any)
}

// Defaults are the locally configured values the server may override.
type Defaults struct {
	SessionTimeout       time.Duration
	UploadInterval       time.Duration
	BreadcrumbLimit      int
	InfluenceOpenTimeout time.Duration
	ReportUncaughtErrors bool
	Development          bool
}

// Engine owns the configuration state and is shared by reference with every
// component that needs it. It is safe for concurrent use.
type Engine struct {
	mu              sync.RWMutex
	defaults        Defaults
	current         *Config
	optedOut        bool
	breadcrumbLimit int

	prefs  PreferenceStore
	kits   Kits
	logger *zap.Logger
}

func NewEngine(defaults Defaults, prefs PreferenceStore, kits Kits, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		defaults:        defaults,
		breadcrumbLimit: defaults.BreadcrumbLimit,
		prefs:           prefs,
		kits:            kits,
		logger:          logger,
	}
}

// Restore applies whatever was persisted by a previous run. A missing or
// unreadable saved config is not an error.
func (e *Engine) Restore(ctx context.Context) error {
	if e.prefs == nil {
		return nil
	}

	if v, ok, err := e.prefs.GetPreference(ctx, PrefOptOut); err != nil {
		return fmt.Errorf("failed to read opt-out preference: %w", err)
	} else if ok {
		optedOut, _ := strconv.ParseBool(v)
		e.mu.Lock()
		e.optedOut = optedOut
		e.mu.Unlock()
	}

	if v, ok, err := e.prefs.GetPreference(ctx, PrefBreadcrumbLimit); err != nil {
		return fmt.Errorf("failed to read breadcrumb limit: %w", err)
	} else if ok {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			e.mu.Lock()
			e.breadcrumbLimit = limit
			e.mu.Unlock()
		}
	}

	raw, ok, err := e.prefs.GetPreference(ctx, PrefConfigJSON)
	if err != nil {
		return fmt.Errorf("failed to read saved config: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := e.Update(ctx, []byte(raw), false); err != nil {
		e.logger.Warn("Saved config could not be restored", zap.Error(err))
	}
	return nil
}

// Update applies a configuration document. A new document is persisted and
// its kit configuration forwarded; a restored one is only applied.
func (e *Engine) Update(ctx context.Context, raw []byte, isNew bool) error {
	cfg, err := Parse(raw)
	if err != nil {
		return err
	}

	if isNew && e.prefs != nil {
		if err := e.prefs.SetPreference(ctx, PrefConfigJSON, string(raw)); err != nil {
			e.logger.Error("Failed to persist config", zap.Error(err))
		}
	}

	e.mu.Lock()
	e.current = cfg
	e.mu.Unlock()

	e.logger.Info("Configuration applied",
		zap.Bool("new", isNew),
		zap.Int("match_rules", len(cfg.MessageMatches)),
		zap.Int("trigger_hashes", len(cfg.TriggerHashes)),
		zap.Duration("influence_open_timeout", cfg.InfluenceOpenTimeout),
	)

	if isNew && e.kits != nil {
		e.kits.UpdateKits(ctx, cfg.Kits)
	}
	return nil
}

func (e *Engine) config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

func (e *Engine) ShouldTrigger(m *message.Message) bool {
	return e.config().ShouldTrigger(m)
}

func (e *Engine) BreadcrumbLimit() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.breadcrumbLimit
}

func (e *Engine) SetBreadcrumbLimit(ctx context.Context, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("breadcrumb limit must be positive, got %d", limit)
	}
	e.mu.Lock()
	e.breadcrumbLimit = limit
	e.mu.Unlock()
	return e.persist(ctx, PrefBreadcrumbLimit, strconv.Itoa(limit))
}

func (e *Engine) InfluenceOpenTimeout() time.Duration {
	if cfg := e.config(); cfg != nil {
		return cfg.InfluenceOpenTimeout
	}
	return e.defaults.InfluenceOpenTimeout
}

func (e *Engine) SessionTimeout() time.Duration {
	if cfg := e.config(); cfg != nil && cfg.SessionTimeout > 0 {
		return cfg.SessionTimeout
	}
	return e.defaults.SessionTimeout
}

// UploadInterval is pinned to ten seconds in development.
func (e *Engine) UploadInterval() time.Duration {
	if e.defaults.Development {
		return developmentUploadInterval
	}
	if cfg := e.config(); cfg != nil && cfg.UploadInterval > 0 {
		return cfg.UploadInterval
	}
	return e.defaults.UploadInterval
}

func (e *Engine) OptedOut() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.optedOut
}

func (e *Engine) SetOptOut(ctx context.Context, optOut bool) error {
	e.mu.Lock()
	e.optedOut = optOut
	e.mu.Unlock()
	return e.persist(ctx, PrefOptOut, strconv.FormatBool(optOut))
}

// IsEnabled reports whether records should be captured: either the user has
// not opted out, or the server asks for events even when opted out.
func (e *Engine) IsEnabled() bool {
	if !e.OptedOut() {
		return true
	}
	cfg := e.config()
	return cfg != nil && cfg.SendOptOutEvents
}

func (e *Engine) LogUnhandledExceptions() bool {
	cfg := e.config()
	if cfg == nil || cfg.UnhandledExceptions == ExceptionsAppDefined {
		return e.defaults.ReportUncaughtErrors
	}
	return cfg.UnhandledExceptions == ExceptionsForceCatch
}

func (e *Engine) PushKeys() []string {
	cfg := e.config()
	if cfg == nil {
		return nil
	}
	out := make([]string, len(cfg.PushKeys))
	copy(out, cfg.PushKeys)
	return out
}

func (e *Engine) IncludeSessionHistory() bool {
	cfg := e.config()
	return cfg == nil || cfg.IncludeSessionHistory
}

func (e *Engine) RampValue() int {
	if cfg := e.config(); cfg != nil {
		return cfg.Ramp
	}
	return -1
}

func (e *Engine) persist(ctx context.Context, key, value string) error {
	if e.prefs == nil {
		return nil
	}
	if err := e.prefs.SetPreference(ctx, key, value); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}
