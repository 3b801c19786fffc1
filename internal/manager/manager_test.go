package manager

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/policy"
	"github.com/Wuchinator/analytics-sdk-core/internal/push"
	"github.com/Wuchinator/analytics-sdk-core/internal/store"
	"github.com/Wuchinator/analytics-sdk-core/pkg/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUploader struct {
	mu       sync.Mutex
	requests []UploadRequest
}

func (u *fakeUploader) RequestUpload(_ context.Context, req UploadRequest) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, req)
	return nil
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

type fakeRenderer struct {
	mu       sync.Mutex
	rendered []int32
}

func (r *fakeRenderer) Render(_ context.Context, msg *push.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, msg.ID())
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	m        *Manager
	store    *store.Store
	engine   *policy.Engine
	uploader *fakeUploader
	renderer *fakeRenderer
	clock    *clock
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	s, err := store.Open(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "sdk.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return newFixtureWithStore(t, s, mutate...)
}

func newFixtureWithStore(t *testing.T, s *store.Store, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:    s,
		uploader: &fakeUploader{},
		renderer: &fakeRenderer{},
		clock:    &clock{now: time.UnixMilli(1_700_000_000_000)},
	}
	f.engine = policy.NewEngine(policy.Defaults{
		SessionTimeout:       time.Minute,
		UploadInterval:       time.Hour,
		BreadcrumbLimit:      50,
		InfluenceOpenTimeout: 30 * time.Minute,
	}, s, nil, zap.NewNop())

	opts := Options{
		APIKey:    "key",
		APISecret: "secret",
		Open:      func(context.Context) (store.Repository, error) { return s, nil },
		Policy:    f.engine,
		Device:    NewDevice(AppInfo{Package: "com.example", Version: "1.0"}, DeviceInfo{Model: "pixel", OSVersion: "14"}),
		Uploader:  f.uploader,
		Renderer:  f.renderer,
		Clock:     f.clock.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	f.m = New(opts)
	f.m.Start(context.Background())
	t.Cleanup(func() { _ = f.m.Close(context.Background()) })
	return f
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.m.Sync(ctx))
}

func (f *fixture) stored(t *testing.T) []*message.Message {
	t.Helper()
	rows, err := f.store.ListMessages(context.Background(), store.StatusReady, 100)
	require.NoError(t, err)
	out := make([]*message.Message, 0, len(rows))
	for _, row := range rows {
		m, err := message.Parse([]byte(row.Message))
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func types(msgs []*message.Message) []message.Type {
	out := make([]message.Type, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type())
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	id := f.m.StartSession()
	f.clock.Advance(10 * time.Second)
	f.m.LogEvent("event1", nil)
	f.sync(t)
	assert.Equal(t, id, f.m.Session().ID)

	require.NoError(t, f.m.EndSession(true))
	f.sync(t)

	msgs := f.stored(t)
	assert.Equal(t, []message.Type{message.TypeSessionStart, message.TypeEvent, message.TypeSessionEnd}, types(msgs))
	assert.Equal(t, id, msgs[1].SessionID())
	assert.Equal(t, int64(1_700_000_010_000), msgs[1].Timestamp())

	_, err := f.store.GetOpenSession(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.m.SessionID())
	assert.ErrorIs(t, f.m.EndSession(false), ErrNoSession)

	select {
	case <-f.m.uploadDone:
	case <-time.After(5 * time.Second):
		t.Fatal("upload loop still running after user terminated session")
	}
}

func TestStartSessionEndsPrevious(t *testing.T) {
	f := newFixture(t)

	first := f.m.StartSession()
	second := f.m.StartSession()
	f.sync(t)

	ids, err := f.store.ListOpenSessionIDs(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, []string{second}, ids)
	assert.NotEqual(t, first, second)
}

func TestEndSessionIfIdle(t *testing.T) {
	f := newFixture(t)

	f.m.StartSession()
	f.sync(t)
	assert.False(t, f.m.EndSessionIfIdle(f.clock.Now().Add(30*time.Second)))
	assert.True(t, f.m.EndSessionIfIdle(f.clock.Now().Add(2*time.Minute)))
	f.sync(t)

	ids, err := f.store.ListOpenSessionIDs(context.Background(), "key")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRecordsOutsideSession(t *testing.T) {
	f := newFixture(t)

	f.m.LogScreen("home", map[string]any{"from": "push"})
	f.sync(t)

	rows, err := f.store.ListMessages(context.Background(), store.StatusReady, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, message.NoSessionID, rows[0].SessionID)
	assert.NotContains(t, rows[0].Message, `"sid"`)
}

func TestTriggeringRecordRequestsUpload(t *testing.T) {
	f := newFixture(t)

	f.m.StartSession()
	f.m.LogCommerceEvent("purchase", map[string]any{"total": 12.5})
	f.sync(t)

	assert.Eventually(t, func() bool { return f.uploader.count() > 0 }, 5*time.Second, 10*time.Millisecond)
	f.uploader.mu.Lock()
	defer f.uploader.mu.Unlock()
	assert.Equal(t, ReasonTrigger, f.uploader.requests[0].Reason)
	assert.Equal(t, "key", f.uploader.requests[0].APIKey)
}

func TestMissingSecretStoresNothing(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.APISecret = "" })

	f.m.LogEvent("e", nil)
	f.sync(t)
	assert.Empty(t, f.stored(t))
}

func TestOptOutDisablesCapture(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.m.SetOptOut(context.Background(), true))
	f.m.LogEvent("ignored", nil)
	assert.ErrorIs(t, f.m.SetUserAttribute("a", "b"), ErrDisabled)
	f.sync(t)

	msgs := f.stored(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, message.TypeOptOut, msgs[0].Type())
	status, _ := msgs[0].GetBool(message.KeyOptOutStatus)
	assert.True(t, status)
}

func TestDelayedStartRestoresConfig(t *testing.T) {
	s, err := store.Open(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "sdk.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SetPreference(context.Background(), policy.PrefConfigJSON, `{"stl":120,"pmk":["alert"]}`))

	f := newFixtureWithStore(t, s)
	f.m.LogEvent("wake", nil)
	f.sync(t)

	assert.Equal(t, 2*time.Minute, f.engine.SessionTimeout())
	assert.Equal(t, []string{"alert"}, f.engine.PushKeys())
}

func TestHandleFirstPartyPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	extras := map[string]string{
		push.KeyCampaignID:     "4",
		push.KeyContentID:      "21",
		push.KeyExpiration:     strconv.FormatInt(f.clock.Now().Add(time.Hour).UnixMilli(), 10),
		push.KeyCommand:        strconv.Itoa(push.CommandAlertNow),
		push.KeyPrimaryMessage: "hello",
	}

	msg, err := f.m.HandlePush(ctx, extras, "background")
	require.NoError(t, err)
	f.sync(t)

	assert.Equal(t, []int32{21}, f.renderer.rendered)
	row, err := f.store.GetPushMessage(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, int(push.BehaviorReceived|push.BehaviorDisplayed), row.Behavior)
	assert.Equal(t, f.clock.Now().UnixMilli(), row.DisplayedAt)

	require.NoError(t, f.m.OpenedPush(msg, "foreground"))
	f.sync(t)

	row, err = f.store.GetPushMessage(ctx, 21)
	require.NoError(t, err)
	assert.True(t, push.Behavior(row.Behavior).Has(push.BehaviorDirectOpen))
	assert.Equal(t, []message.Type{message.TypePushReceived, message.TypePushReceived}, types(f.stored(t)))
}

func TestHandleExpiredPush(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.HandlePush(context.Background(), map[string]string{
		push.KeyCampaignID: "4",
		push.KeyContentID:  "21",
		push.KeyExpiration: strconv.FormatInt(f.clock.Now().Add(-time.Minute).UnixMilli(), 10),
	}, "")
	assert.ErrorIs(t, err, push.ErrExpired)
	assert.Empty(t, f.renderer.rendered)
}

func TestForegroundMarksInfluenceOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ReplacePushMessage(ctx, &store.PushMessage{
		ContentID:   8,
		DisplayedAt: f.clock.Now().Add(-time.Minute).UnixMilli(),
		Behavior:    int(push.BehaviorReceived | push.BehaviorDisplayed),
		Payload:     `{"data":{"m_cid":1,"m_cntid":8}}`,
	}))

	f.m.LogStateTransition(message.StateTransitionForeground)
	f.sync(t)
	// The influence-open record is submitted by the worker behind the barrier.
	f.sync(t)

	row, err := f.store.GetPushMessage(ctx, 8)
	require.NoError(t, err)
	assert.True(t, push.Behavior(row.Behavior).Has(push.BehaviorInfluenceOpen))
}

func TestUserAttributes(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.m.SetUserAttribute("plan", "pro"))
	require.NoError(t, f.m.SetUserAttributeList("tags", []string{"a", "b"}))
	require.NoError(t, f.m.IncrementUserAttribute("visits", 2))
	require.NoError(t, f.m.RemoveUserAttribute("plan"))
	f.sync(t)
	// Change records are queued by the worker.
	f.sync(t)

	attrs, err := f.m.UserAttributes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tags": []string{"a", "b"}, "visits": "2"}, attrs)

	var changes int
	for _, m := range f.stored(t) {
		if m.Type() == message.TypeUserAttributeChange {
			changes++
		}
	}
	assert.Equal(t, 4, changes)
}

func TestCloseKeepsAttributeChangeRecords(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.m.SetUserAttribute("plan", "gold"))
	require.NoError(t, f.m.RemoveUserAttribute("old"))
	require.NoError(t, f.m.Close(context.Background()))

	singles, err := f.store.UserAttributeSingles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plan": "gold"}, singles)

	var changes []string
	for _, m := range f.stored(t) {
		if m.Type() == message.TypeUserAttributeChange {
			changes = append(changes, m.Name())
		}
	}
	assert.Equal(t, []string{"plan"}, changes)
}

func TestInstallReferrerRefreshesAppInfo(t *testing.T) {
	f := newFixture(t)

	id := f.m.StartSession()
	f.m.SetInstallReferrer("utm_source=ads")
	f.sync(t)

	row, err := f.store.GetOpenSession(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, row.AppInfo.String, "utm_source=ads")
}
