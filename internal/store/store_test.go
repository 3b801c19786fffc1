package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/push"
	"github.com/Wuchinator/analytics-sdk-core/pkg/sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdk.db")
	s, err := Open(context.Background(), sqlite.Config{Path: path}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestInsertMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := &MessageRow{APIKey: "key", CreatedAt: 10, SessionID: "s1", Message: `{"dt":"e"}`, Status: StatusFor(message.TypeEvent)}
	require.NoError(t, s.InsertMessage(ctx, row))
	assert.NotZero(t, row.ID)

	first := &MessageRow{APIKey: "key", CreatedAt: 11, SessionID: message.NoSessionID, Message: `{"dt":"fr"}`, Status: StatusFor(message.TypeFirstRun)}
	require.NoError(t, s.InsertMessage(ctx, first))

	ready, err := s.ListMessages(ctx, StatusReady, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "s1", ready[0].SessionID)

	batch, err := s.ListMessages(ctx, StatusBatchReady, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, message.NoSessionID, batch[0].SessionID)
}

func TestInsertMessageTooLarge(t *testing.T) {
	s := openTestStore(t)
	row := &MessageRow{APIKey: "key", SessionID: "s", Message: strings.Repeat("x", message.MaxMessageSize+1)}
	assert.ErrorIs(t, s.InsertMessage(context.Background(), row), ErrMessageTooLarge)

	rows, err := s.ListMessages(context.Background(), StatusReady, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := &Session{APIKey: "key", SessionID: "s1", StartTime: 1000, EndTime: 1000}
	require.NoError(t, s.InsertSession(ctx, sess))
	assert.ErrorIs(t, s.InsertSession(ctx, &Session{APIKey: "key", SessionID: "s1", StartTime: 1, EndTime: 1}), ErrDuplicateSession)

	require.NoError(t, s.UpdateSessionEndTime(ctx, "s1", 5000, 0))
	require.NoError(t, s.UpdateSessionEndTime(ctx, "s1", 3000, 1500))
	require.NoError(t, s.UpdateSessionAttributes(ctx, "s1", `{"a":"b"}`))
	require.NoError(t, s.UpdateSessionAppInfo(ctx, "s1", `{"ir":"ref"}`))

	got, err := s.GetOpenSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Open())
	assert.Equal(t, int64(5000), got.EndTime)
	assert.Equal(t, int64(1500), got.ForegroundLength)
	assert.Equal(t, `{"a":"b"}`, got.Attributes.String)
	assert.Equal(t, `{"ir":"ref"}`, got.AppInfo.String)

	ids, err := s.ListOpenSessionIDs(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	require.NoError(t, s.UpdateSessionStatus(ctx, "s1", SessionStatusClosed))
	_, err = s.GetOpenSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err = s.ListOpenSessionIDs(ctx, "key")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListOpenSessionIDsScopedByAPIKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, &Session{APIKey: "k1", SessionID: "a", StartTime: 1, EndTime: 1}))
	require.NoError(t, s.InsertSession(ctx, &Session{APIKey: "k2", SessionID: "b", StartTime: 1, EndTime: 1}))

	ids, err := s.ListOpenSessionIDs(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestBreadcrumbTrim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	const limit = 3

	for i := 0; i < 5; i++ {
		b := &Breadcrumb{APIKey: "key", CreatedAt: int64(i), SessionID: "s", Message: `{"n":"` + string(rune('a'+i)) + `"}`}
		require.NoError(t, s.InsertBreadcrumb(ctx, b, limit))
	}

	n, err := s.CountBreadcrumbs(ctx)
	require.NoError(t, err)
	assert.Equal(t, limit, n)

	crumbs, err := s.RecentBreadcrumbs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, crumbs, limit)
	assert.Equal(t, `{"n":"e"}`, crumbs[0].Message)
	assert.Equal(t, `{"n":"c"}`, crumbs[2].Message)
}

func TestPushMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplacePushMessage(ctx, &PushMessage{ContentID: 7, CampaignID: 1, DisplayedAt: 1000, Payload: `{"p":1}`, CreatedAt: 1}))
	require.NoError(t, s.ReplacePushMessage(ctx, &PushMessage{ContentID: 8, CampaignID: 1, DisplayedAt: 2000, Payload: `{"p":2}`, CreatedAt: 1}))
	require.NoError(t, s.ReplacePushMessage(ctx, &PushMessage{ContentID: push.ProviderContentID, DisplayedAt: 3000, Payload: `{"p":3}`, CreatedAt: 1}))
	// replacing collapses onto the same row
	require.NoError(t, s.ReplacePushMessage(ctx, &PushMessage{ContentID: push.ProviderContentID, DisplayedAt: 3500, Payload: `{"p":4}`, CreatedAt: 2}))

	payload, err := s.LatestDisplayedPushPayload(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"p":4}`, payload)

	require.NoError(t, s.UpdatePushBehavior(ctx, 7, int(push.BehaviorReceived|push.BehaviorInfluenceOpen), 0))
	assert.ErrorIs(t, s.UpdatePushBehavior(ctx, 99, 1, 0), ErrNotFound)

	candidates, err := s.ListInfluenceOpenCandidates(ctx, 500)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int32(8), candidates[0].ContentID)

	candidates, err = s.ListInfluenceOpenCandidates(ctx, 2500)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	n, err := s.DeleteProviderPushMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetPushMessage(ctx, push.ProviderContentID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetPushMessage(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int(push.BehaviorReceived|push.BehaviorInfluenceOpen), got.Behavior)
	assert.Equal(t, int64(1000), got.DisplayedAt)
}

func TestUserAttributes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertUserAttribute(ctx, "Color", "red", false, 1))
	require.NoError(t, s.InsertUserAttribute(ctx, "color", "blue", false, 2))
	require.NoError(t, s.InsertUserAttribute(ctx, "tags", "a", true, 5))
	require.NoError(t, s.InsertUserAttribute(ctx, "tags", "b", true, 5))
	require.NoError(t, s.InsertUserAttribute(ctx, "tags", "old", true, 1))

	singles, err := s.UserAttributeSingles(ctx)
	require.NoError(t, err)
	require.Len(t, singles, 1)
	for _, v := range singles {
		assert.Equal(t, "blue", v)
	}

	lists, err := s.UserAttributeLists(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"tags": {"a", "b"}}, lists)

	n, err := s.DeleteUserAttribute(ctx, "COLOR")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	singles, err = s.UserAttributeSingles(ctx)
	require.NoError(t, err)
	assert.Empty(t, singles)
}

func TestReportingBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []ReportingRecord{
		{CreatedAt: 1, ModuleID: 28, Message: `{"a":1}`},
		{CreatedAt: 2, ModuleID: 28, Message: `{"a":2}`},
	}
	require.NoError(t, s.InsertReportingBatch(ctx, records))
	assert.NotZero(t, records[1].ID)

	got, err := s.ListReporting(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPreferences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetPreference(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetPreference(ctx, "k", "v1"))
	require.NoError(t, s.SetPreference(ctx, "k", "v2"))
	v, ok, err := s.GetPreference(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Repository) error {
		require.NoError(t, tx.InsertUserAttribute(ctx, "k", "v", false, 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	singles, err := s.UserAttributeSingles(ctx)
	require.NoError(t, err)
	assert.Empty(t, singles)
}

func TestInTxRollsBackOnPanic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.InTx(ctx, func(tx Repository) error {
			_ = tx.InsertUserAttribute(ctx, "k", "v", false, 1)
			panic("worker bug")
		})
	})

	singles, err := s.UserAttributeSingles(ctx)
	require.NoError(t, err)
	assert.Empty(t, singles)
}

func TestInTxNestedJoinsOuter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx Repository) error {
		require.NoError(t, tx.InsertBreadcrumb(ctx, &Breadcrumb{APIKey: "k", SessionID: "s", Message: "{}"}, 10))
		return errors.New("abort")
	})
	assert.Error(t, err)

	n, err := s.CountBreadcrumbs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReportingBatchRollbackWithSQLMock(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mockDB.Close()

	s := New(sqlite.Wrap(sqlx.NewDb(mockDB, "sqlite3"), zap.NewNop()), zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reporting").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO reporting").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.InsertReportingBatch(context.Background(), []ReportingRecord{
		{CreatedAt: 1, ModuleID: 1, Message: "{}"},
		{CreatedAt: 2, ModuleID: 1, Message: "{}"},
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLazyRetriesUntilOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	l := NewLazy(sqlite.Config{Path: filepath.Join(dir, "sdk.db")}, zap.NewNop())
	t.Cleanup(func() { _ = l.Close() })
	ctx := context.Background()

	_, err := l.Repository(ctx)
	require.Error(t, err)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	repo, err := l.Repository(ctx)
	require.NoError(t, err)

	again, err := l.Repository(ctx)
	require.NoError(t, err)
	assert.Same(t, repo, again)

	require.NoError(t, l.SetPreference(ctx, "k", "v"))
	v, ok, err := l.GetPreference(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
