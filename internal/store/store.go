package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Wuchinator/analytics-sdk-core/pkg/sqlite"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Repository is the table-level API of the local database. Implementations
// obtained through InTx run every call on the same transaction.
type Repository interface {
	// InTx runs fn in a transaction that commits only when fn returns nil.
	// Calls on a repository that is already transactional join it.
	InTx(ctx context.Context, fn func(Repository) error) error

	InsertMessage(ctx context.Context, row *MessageRow) error
	ListMessages(ctx context.Context, status int, limit int) ([]MessageRow, error)

	InsertSession(ctx context.Context, s *Session) error
	UpdateSessionEndTime(ctx context.Context, sessionID string, endTime, foregroundLength int64) error
	UpdateSessionAttributes(ctx context.Context, sessionID, attributes string) error
	UpdateSessionStatus(ctx context.Context, sessionID, status string) error
	UpdateSessionAppInfo(ctx context.Context, sessionID, appInfo string) error
	GetOpenSession(ctx context.Context, sessionID string) (*Session, error)
	ListOpenSessionIDs(ctx context.Context, apiKey string) ([]string, error)

	InsertBreadcrumb(ctx context.Context, b *Breadcrumb, limit int) error
	RecentBreadcrumbs(ctx context.Context, limit int) ([]Breadcrumb, error)
	CountBreadcrumbs(ctx context.Context) (int, error)

	ReplacePushMessage(ctx context.Context, p *PushMessage) error
	GetPushMessage(ctx context.Context, contentID int32) (*PushMessage, error)
	UpdatePushBehavior(ctx context.Context, contentID int32, behavior int, displayedAt int64) error
	LatestDisplayedPushPayload(ctx context.Context) (string, error)
	ListInfluenceOpenCandidates(ctx context.Context, displayedAfter int64) ([]PushMessage, error)
	DeleteProviderPushMessages(ctx context.Context) (int64, error)

	InsertReportingBatch(ctx context.Context, records []ReportingRecord) error
	ListReporting(ctx context.Context) ([]ReportingRecord, error)

	UserAttributeSingles(ctx context.Context) (map[string]string, error)
	UserAttributeLists(ctx context.Context) (map[string][]string, error)
	DeleteUserAttribute(ctx context.Context, key string) (int64, error)
	InsertUserAttribute(ctx context.Context, key, value string, isList bool, createdAt int64) error

	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error

	Ping(ctx context.Context) error
}

// Store owns the database handle and hands out the Repository bound to it.
type Store struct {
	Repository
	db     *sqlite.DB
	logger *zap.Logger
}

// Open opens the database file and creates missing tables.
func Open(ctx context.Context, cfg sqlite.Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlite.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sqlite.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		Repository: &repository{db: db.DB, q: db.DB, logger: logger},
		db:         db,
		logger:     logger,
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.logger.Debug("Schema ready", zap.Int("statements", len(schema)))
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type repository struct {
	db     *sqlx.DB
	q      sqlx.ExtContext
	tx     *sqlx.Tx
	logger *zap.Logger
}

func (r *repository) InTx(ctx context.Context, fn func(Repository) error) (err error) {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	return fn(&repository{db: r.db, q: tx, tx: tx, logger: r.logger})
}

func (r *repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *repository) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, r.q, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repository) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.q, dest, query, args...)
}

func (r *repository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
