package store

import (
	"context"
	"sync"

	"github.com/Wuchinator/analytics-sdk-core/pkg/sqlite"
	"go.uber.org/zap"
)

// Lazy opens the database on first use and retries on every call until an
// open succeeds.
type Lazy struct {
	cfg    sqlite.Config
	logger *zap.Logger

	mu    sync.Mutex
	store *Store
}

func NewLazy(cfg sqlite.Config, logger *zap.Logger) *Lazy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lazy{cfg: cfg, logger: logger}
}

// Repository returns the opened store, opening it if needed.
func (l *Lazy) Repository(ctx context.Context) (Repository, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		return l.store, nil
	}
	s, err := Open(ctx, l.cfg, l.logger)
	if err != nil {
		l.logger.Debug("Store open failed", zap.String("path", l.cfg.Path), zap.Error(err))
		return nil, err
	}
	l.store = s
	return s, nil
}

func (l *Lazy) GetPreference(ctx context.Context, key string) (string, bool, error) {
	repo, err := l.Repository(ctx)
	if err != nil {
		return "", false, err
	}
	return repo.GetPreference(ctx, key)
}

func (l *Lazy) SetPreference(ctx context.Context, key, value string) error {
	repo, err := l.Repository(ctx)
	if err != nil {
		return err
	}
	return repo.SetPreference(ctx, key, value)
}

func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
