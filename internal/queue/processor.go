package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/push"
	"github.com/Wuchinator/analytics-sdk-core/internal/session"
	"github.com/Wuchinator/analytics-sdk-core/internal/store"
	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Opener acquires the store. It is retried before every command until it
// succeeds.
type Opener func(ctx context.Context) (store.Repository, error)

// Observer is told about every dispatched command and its outcome.
type Observer func(cmd Command, err error)

type Option func(*Processor)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithKits(kits Kits) Option {
	return func(p *Processor) { p.kits = kits }
}

func WithLimits(limits Limits) Option {
	return func(p *Processor) { p.limits = limits }
}

func WithObserver(observer Observer) Option {
	return func(p *Processor) { p.observer = observer }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

const defaultBreadcrumbLimit = 50

// Processor is the single writer of the local store. Commands are executed
// one at a time in submission order on one goroutine.
type Processor struct {
	open      Opener
	repo      store.Repository
	callbacks Callbacks
	kits      Kits
	limits    Limits
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	pending *queue.Queue
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	started atomic.Bool

	// worker-owned
	session  *session.State
	snapshot atomic.Pointer[session.Snapshot]
}

func New(open Opener, callbacks Callbacks, opts ...Option) *Processor {
	p := &Processor{
		open:      open,
		callbacks: callbacks,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		pending:   queue.New(),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker. Calling it more than once has no effect.
func (p *Processor) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run()
	p.logger.Info("Queue processor started")
}

// Submit enqueues cmd and returns immediately.
func (p *Processor) Submit(cmd Command) {
	if cmd == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("Command submitted after stop", zap.String("command", commandName(cmd)))
		return
	}
	p.pending.Add(cmd)
	p.mu.Unlock()
	p.wake()
}

// Len is the number of commands waiting to run.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Length()
}

// Sync blocks until every command submitted before the call has run.
// It fails with ErrNotStarted before Start.
func (p *Processor) Sync(ctx context.Context) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	b := barrier{done: make(chan struct{})}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrStopped
	}
	p.pending.Add(b)
	p.mu.Unlock()
	p.wake()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new commands and waits for the queued ones to drain.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wake()

	if !p.started.Load() {
		return nil
	}

	select {
	case <-p.done:
		p.logger.Info("Queue processor stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Queue processor stop timed out", zap.Int("pending", p.Len()))
		return ctx.Err()
	}
}

// Session returns the last published view of the open session.
func (p *Processor) Session() session.Snapshot {
	if snap := p.snapshot.Load(); snap != nil {
		return *snap
	}
	return session.Snapshot{}
}

func (p *Processor) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Processor) run() {
	defer close(p.done)
	for {
		cmd, ok := p.next()
		if !ok {
			return
		}
		p.dispatch(context.Background(), cmd)
	}
}

func (p *Processor) next() (Command, bool) {
	for {
		p.mu.Lock()
		if p.pending.Length() > 0 {
			cmd := p.pending.Remove().(Command)
			p.mu.Unlock()
			return cmd, true
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, false
		}
		<-p.notify
	}
}

// Enqueue schedules a follow-up command behind everything already queued. It
// is meant for code running on the worker, such as Callbacks methods, and is
// still accepted while Stop drains the queue. Once the worker has exited the
// command is dropped.
func (p *Processor) Enqueue(cmd Command) {
	if cmd == nil {
		return
	}
	select {
	case <-p.done:
		p.logger.Warn("Follow-up command after worker exit", zap.String("command", commandName(cmd)))
		return
	default:
	}
	p.mu.Lock()
	p.pending.Add(cmd)
	p.mu.Unlock()
	p.wake()
}

func (p *Processor) dispatch(ctx context.Context, cmd Command) {
	name := commandName(cmd)
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", name, r)
			p.logger.Error("Command panicked", zap.String("command", name), zap.Any("panic", r))
		}
		if p.observer != nil {
			p.observer(cmd, err)
		}
	}()

	if b, ok := cmd.(barrier); ok {
		close(b.done)
		return
	}

	if !p.prepare(ctx) {
		err = ErrStoreUnavailable
		return
	}
	p.callbacks.DelayedStart()

	err = p.handle(ctx, cmd)
	switch {
	case err == nil:
	case errors.Is(err, push.ErrDuplicateBehavior):
		p.logger.Debug("Push behavior rejected", zap.String("command", name), zap.Error(err))
	default:
		p.logger.Error("Command failed", zap.String("command", name), zap.Error(err))
	}
}

func (p *Processor) prepare(ctx context.Context) bool {
	if p.repo != nil {
		return true
	}
	repo, err := p.open(ctx)
	if err != nil || repo == nil {
		p.logger.Debug("Store unavailable, command skipped", zap.Error(err))
		return false
	}
	p.repo = repo
	return true
}

func (p *Processor) handle(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case StoreMessage:
		return p.storeMessage(ctx, c)
	case UpdateSessionAttributes:
		return p.updateSessionAttributes(ctx, c)
	case UpdateSessionEnd:
		return p.updateSessionEnd(ctx, c)
	case CreateSessionEndMessage:
		return p.createSessionEnd(ctx, c)
	case EndOrphanSessions:
		return p.endOrphanSessions(ctx)
	case StoreBreadcrumb:
		return p.storeBreadcrumb(ctx, c)
	case StoreCloudMessage:
		return p.storeCloudMessage(ctx, c)
	case MarkInfluenceOpenCandidates:
		return p.markInfluenceOpen(ctx, c)
	case ClearProviderPush:
		return p.clearProviderPush(ctx)
	case StoreReportingBatch:
		return p.storeReporting(ctx, c)
	case RemoveUserAttribute:
		return p.removeUserAttribute(ctx, c)
	case SetUserAttribute:
		return p.setUserAttribute(ctx, c)
	case IncrementUserAttribute:
		return p.incrementUserAttribute(ctx, c)
	case UpdateInstallReferrer:
		return p.updateInstallReferrer(ctx, c)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidCommand, cmd)
	}
}

func (p *Processor) breadcrumbLimit() int {
	if p.limits != nil {
		if n := p.limits.BreadcrumbLimit(); n > 0 {
			return n
		}
	}
	return defaultBreadcrumbLimit
}

func (p *Processor) publishSession() {
	snap := p.session.Snapshot()
	p.snapshot.Store(&snap)
}

func (p *Processor) apiKey() (string, error) {
	key, err := p.callbacks.APIKey()
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrNoCredentials
	}
	return key, nil
}
