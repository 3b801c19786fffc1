package manager

import (
	"context"
	"sync"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/policy"
	"github.com/Wuchinator/analytics-sdk-core/internal/push"
	"github.com/Wuchinator/analytics-sdk-core/internal/queue"
	"go.uber.org/zap"
)

type Options struct {
	APIKey    string
	APISecret string

	Open     queue.Opener
	Policy   *policy.Engine
	Device   queue.DeviceAttributes
	Kits     queue.Kits
	Uploader Uploader
	Renderer push.Renderer
	// StateInfo, when set, is attached to every stored record.
	StateInfo func() *message.Message

	// EndOrphanSessions closes sessions left open by a previous run on Start.
	EndOrphanSessions bool

	Logger *zap.Logger
	Clock  func() time.Time
}

// Manager is the application-facing entry point. Every public method only
// builds records and submits commands, so callers never wait for the store.
type Manager struct {
	apiKey    string
	apiSecret string

	open      queue.Opener
	policy    *policy.Engine
	device    queue.DeviceAttributes
	kits      queue.Kits
	uploader  Uploader
	renderer  push.Renderer
	stateInfo func() *message.Message
	orphans   bool

	factory   *message.Factory
	processor *queue.Processor
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *sessionRef

	delayedStart sync.Once
	triggers     chan struct{}
	stopUpload   chan struct{}
	stopOnce     sync.Once
	uploadDone   chan struct{}
	cancel       context.CancelFunc
	started      bool
}

func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		open:       opts.Open,
		policy:     opts.Policy,
		device:     opts.Device,
		kits:       opts.Kits,
		uploader:   opts.Uploader,
		renderer:   opts.Renderer,
		stateInfo:  opts.StateInfo,
		orphans:    opts.EndOrphanSessions,
		factory:    message.NewFactory(),
		logger:     logger,
		now:        now,
		triggers:   make(chan struct{}, 1),
		stopUpload: make(chan struct{}),
		uploadDone: make(chan struct{}),
	}

	procOpts := []queue.Option{
		queue.WithLogger(logger.With(zap.String("component", "queue"))),
		queue.WithClock(now),
	}
	if opts.Kits != nil {
		procOpts = append(procOpts, queue.WithKits(opts.Kits))
	}
	if opts.Policy != nil {
		procOpts = append(procOpts, queue.WithLimits(opts.Policy))
	}
	m.processor = queue.New(opts.Open, m, procOpts...)
	return m
}

// Start launches the queue worker and the upload loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.mu.Unlock()

	m.processor.Start()
	go m.uploadLoop(loopCtx)

	if m.orphans {
		m.processor.Submit(queue.EndOrphanSessions{})
	}
	m.logger.Info("SDK manager started")
}

// Close drains the queue and stops the upload loop.
func (m *Manager) Close(ctx context.Context) error {
	err := m.processor.Stop(ctx)
	m.EndUploadLoop()

	m.mu.Lock()
	started := m.started
	cancel := m.cancel
	m.mu.Unlock()
	if !started {
		return err
	}

	select {
	case <-m.uploadDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info("SDK manager stopped")
	return err
}

// Sync waits until every command submitted so far has been executed.
func (m *Manager) Sync(ctx context.Context) error {
	return m.processor.Sync(ctx)
}

func (m *Manager) Factory() *message.Factory {
	return m.factory
}

// SetLocation sets the location attached to location-aware records.
func (m *Manager) SetLocation(loc *message.Location) {
	m.factory.SetLocation(loc)
}

func (m *Manager) enabled() bool {
	return m.policy == nil || m.policy.IsEnabled()
}

func (m *Manager) submit(cmd queue.Command) {
	m.processor.Submit(cmd)
}
