package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/push"
	"github.com/Wuchinator/analytics-sdk-core/internal/store"
	"github.com/Wuchinator/analytics-sdk-core/pkg/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAPIKey = "test-key"

var testNow = time.UnixMilli(1_700_000_000_000)

type attributeChangeCall struct {
	Key      string
	NewValue any
	OldValue any
	Deleted  bool
	IsNew    bool
	Time     int64
}

type notificationCall struct {
	ContentID int32
	Payload   string
	AppState  string
	Behavior  push.Behavior
}

type fakeDevice struct {
	mu        sync.Mutex
	refreshes int
}

func (d *fakeDevice) AppInfo(refresh bool) *message.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	if refresh {
		d.refreshes++
		return message.New().Put("bid", "com.example").Put("ir", "referrer")
	}
	return message.New().Put("bid", "com.example")
}

func (d *fakeDevice) DeviceInfo() *message.Message {
	return message.New().Put("dma", "generic")
}

type fakeCallbacks struct {
	mu             sync.Mutex
	apiKey         string
	factory        *message.Factory
	device         *fakeDevice
	triggers       []*message.Message
	removed        []string
	changes        []attributeChangeCall
	notifications  []notificationCall
	endUploadLoops int
	delayedStarts  int
	panicOnTrigger bool
	sessionEnds    []map[string]any
}

func newFakeCallbacks() *fakeCallbacks {
	return &fakeCallbacks{
		apiKey:  testAPIKey,
		factory: message.NewFactory(),
		device:  &fakeDevice{},
	}
}

func (f *fakeCallbacks) CheckForTrigger(m *message.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnTrigger {
		f.panicOnTrigger = false
		panic("trigger check exploded")
	}
	f.triggers = append(f.triggers, m)
}

func (f *fakeCallbacks) AttributeRemoved(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
}

func (f *fakeCallbacks) LogUserAttributeChange(key string, newValue, oldValue any, deleted, isNew bool, ts int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, attributeChangeCall{key, newValue, oldValue, deleted, isNew, ts})
}

func (f *fakeCallbacks) LogNotification(contentID int32, payload, appState string, behavior push.Behavior) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, notificationCall{contentID, payload, appState, behavior})
}

func (f *fakeCallbacks) APIKey() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apiKey, nil
}

func (f *fakeCallbacks) DeviceAttributes() DeviceAttributes {
	return f.device
}

func (f *fakeCallbacks) EndUploadLoop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endUploadLoops++
}

func (f *fakeCallbacks) DelayedStart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayedStarts++
}

func (f *fakeCallbacks) StateInfo() *message.Message {
	return nil
}

func (f *fakeCallbacks) CreateSessionEndMessage(sessionID string, start, end, fg int64, attrs map[string]any) (*message.Message, error) {
	f.mu.Lock()
	f.sessionEnds = append(f.sessionEnds, attrs)
	f.mu.Unlock()
	return f.factory.NewSessionEnd(sessionID, start, end, fg, attrs), nil
}

func (f *fakeCallbacks) snapshotChanges() []attributeChangeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]attributeChangeCall(nil), f.changes...)
}

type fakeKits struct {
	mu    sync.Mutex
	calls map[string]string
}

func (k *fakeKits) SetUserAttribute(key, value string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.calls == nil {
		k.calls = make(map[string]string)
	}
	k.calls[key] = value
}

type dispatched struct {
	Command Command
	Err     error
}

type recorder struct {
	mu    sync.Mutex
	calls []dispatched
}

func (r *recorder) observe(cmd Command, err error) {
	if _, ok := cmd.(barrier); ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dispatched{cmd, err})
}

func (r *recorder) all() []dispatched {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatched(nil), r.calls...)
}

func (r *recorder) last() dispatched {
	calls := r.all()
	if len(calls) == 0 {
		return dispatched{}
	}
	return calls[len(calls)-1]
}

type harness struct {
	p     *Processor
	store *store.Store
	cb    *fakeCallbacks
	kits  *fakeKits
	rec   *recorder
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "sdk.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := openStore(t)
	h := &harness{store: s, cb: newFakeCallbacks(), kits: &fakeKits{}, rec: &recorder{}}
	h.p = New(
		func(context.Context) (store.Repository, error) { return s, nil },
		h.cb,
		WithKits(h.kits),
		WithObserver(h.rec.observe),
		WithClock(func() time.Time { return testNow }),
	)
	h.p.Start()
	t.Cleanup(func() { _ = h.p.Stop(context.Background()) })
	return h
}

func (h *harness) run(t *testing.T, cmds ...Command) {
	t.Helper()
	for _, cmd := range cmds {
		h.p.Submit(cmd)
	}
	h.sync(t)
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.p.Sync(ctx))
}

func (h *harness) messages(t *testing.T, status int) []*message.Message {
	t.Helper()
	rows, err := h.store.ListMessages(context.Background(), status, 100)
	require.NoError(t, err)
	out := make([]*message.Message, 0, len(rows))
	for _, row := range rows {
		m, err := message.Parse([]byte(row.Message))
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func TestCommandsRunInSubmissionOrder(t *testing.T) {
	h := newHarness(t)
	f := message.NewFactory()

	var wg sync.WaitGroup
	cmds := make([]Command, 0, 20)
	for i := 0; i < 20; i++ {
		cmds = append(cmds, StoreMessage{Message: f.New(message.TypeEvent, "s", 0, int64(i+1), "e", nil, false)})
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, cmd := range cmds {
			h.p.Submit(cmd)
		}
	}()
	wg.Wait()
	h.sync(t)

	stored := h.messages(t, store.StatusReady)
	require.Len(t, stored, 20)
	for i, m := range stored {
		assert.Equal(t, int64(i+1), m.Timestamp())
	}
}

func TestStoreUnavailableSkipsCommands(t *testing.T) {
	s := openStore(t)
	cb := newFakeCallbacks()
	rec := &recorder{}

	var mu sync.Mutex
	available := false
	p := New(func(context.Context) (store.Repository, error) {
		mu.Lock()
		defer mu.Unlock()
		if !available {
			return nil, errors.New("disk missing")
		}
		return s, nil
	}, cb, WithObserver(rec.observe))
	p.Start()
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	f := message.NewFactory()
	p.Submit(StoreMessage{Message: f.New(message.TypeEvent, "s", 0, 1, "dropped", nil, false)})
	require.NoError(t, p.Sync(context.Background()))
	assert.ErrorIs(t, rec.last().Err, ErrStoreUnavailable)
	assert.Zero(t, cb.delayedStarts)

	mu.Lock()
	available = true
	mu.Unlock()

	p.Submit(StoreMessage{Message: f.New(message.TypeEvent, "s", 0, 2, "kept", nil, false)})
	require.NoError(t, p.Sync(context.Background()))
	assert.NoError(t, rec.last().Err)
	assert.Equal(t, 1, cb.delayedStarts)

	rows, err := s.ListMessages(context.Background(), store.StatusReady, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Message, "kept")
}

func TestPanicDoesNotStopWorker(t *testing.T) {
	h := newHarness(t)
	h.cb.panicOnTrigger = true
	f := message.NewFactory()

	h.run(t,
		StoreMessage{Message: f.New(message.TypeEvent, "s", 0, 1, "first", nil, false)},
		StoreMessage{Message: f.New(message.TypeEvent, "s", 0, 2, "second", nil, false)},
	)

	calls := h.rec.all()
	require.Len(t, calls, 2)
	require.Error(t, calls[0].Err)
	assert.Contains(t, calls[0].Err.Error(), "panicked")
	assert.NoError(t, calls[1].Err)
	assert.Len(t, h.messages(t, store.StatusReady), 2)
}

func TestInvalidCommandIsReported(t *testing.T) {
	h := newHarness(t)
	h.run(t, StoreMessage{}, StoreBreadcrumb{}, StoreCloudMessage{})

	for _, call := range h.rec.all() {
		assert.ErrorIs(t, call.Err, ErrInvalidCommand)
	}
}

func TestStopDrainsAndRejects(t *testing.T) {
	s := openStore(t)
	cb := newFakeCallbacks()
	p := New(func(context.Context) (store.Repository, error) { return s, nil }, cb)
	p.Start()

	f := message.NewFactory()
	for i := 0; i < 10; i++ {
		p.Submit(StoreMessage{Message: f.New(message.TypeEvent, "s", 0, int64(i), "e", nil, false)})
	}
	require.NoError(t, p.Stop(context.Background()))

	rows, err := s.ListMessages(context.Background(), store.StatusReady, 100)
	require.NoError(t, err)
	assert.Len(t, rows, 10)

	p.Submit(StoreMessage{Message: f.New(message.TypeEvent, "s", 0, 99, "late", nil, false)})
	assert.Zero(t, p.Len())
	assert.ErrorIs(t, p.Sync(context.Background()), ErrStopped)
}

func TestStopBeforeStart(t *testing.T) {
	p := New(func(context.Context) (store.Repository, error) { return nil, errors.New("unused") }, newFakeCallbacks())
	assert.NoError(t, p.Stop(context.Background()))
}

func TestSyncBeforeStart(t *testing.T) {
	p := New(func(context.Context) (store.Repository, error) { return nil, errors.New("unused") }, newFakeCallbacks())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, p.Sync(ctx), ErrNotStarted)
}

func TestStopRunsFollowUpCommands(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, &store.Session{APIKey: testAPIKey, SessionID: "orphan", StartTime: 10, EndTime: 20}))

	p := New(func(context.Context) (store.Repository, error) { return s, nil }, newFakeCallbacks())
	p.Start()
	p.Submit(EndOrphanSessions{})
	require.NoError(t, p.Stop(ctx))

	ids, err := s.ListOpenSessionIDs(ctx, testAPIKey)
	require.NoError(t, err)
	assert.Empty(t, ids)

	p.Enqueue(EndOrphanSessions{})
	assert.Zero(t, p.Len())
}
