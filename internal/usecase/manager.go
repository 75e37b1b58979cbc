package usecase

import (
	"casequeue/internal/domain"
	"casequeue/internal/monitor"
	"casequeue/internal/ports"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultWaitTimeout = 300 * time.Second

// interruptedMessage is recorded on tasks found processing at start, whose
// worker died with the previous process.
const interruptedMessage = "interrupted by restart"

// Manager coordinates admission, one worker loop per service type and
// result polling over a single store. Construct one per process with
// NewManager and share it by reference.
type Manager struct {
	store    ports.Store
	monitor  *monitor.Monitor
	admitter Admitter
	limits   domain.Limits
	handlers map[domain.ServiceType]Handler
	timing   Timing
	poll     time.Duration
	freeMem  bool
	logger   zerolog.Logger

	inFlight map[domain.ServiceType]*atomic.Int64

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	cancelTask context.CancelFunc
	loops      *errgroup.Group
	tasks      sync.WaitGroup
}

type Option func(*Manager)

// WithLimits replaces the compiled-in limits table.
func WithLimits(l domain.Limits) Option {
	return func(m *Manager) { m.limits = l }
}

func WithHandler(st domain.ServiceType, h Handler) Option {
	return func(m *Manager) { m.handlers[st] = h }
}

func WithTiming(t Timing) Option {
	return func(m *Manager) { m.timing = t }
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.poll = d }
}

func WithFreeOSMemory(enabled bool) Option {
	return func(m *Manager) { m.freeMem = enabled }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(store ports.Store, mon *monitor.Monitor, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		monitor:  mon,
		limits:   domain.DefaultLimits,
		handlers: make(map[domain.ServiceType]Handler),
		timing:   DefaultTiming,
		poll:     DefaultPollInterval,
		logger:   zerolog.Nop(),
	}
	if mon != nil {
		m.admitter = mon
	}
	for _, opt := range opts {
		opt(m)
	}
	m.inFlight = make(map[domain.ServiceType]*atomic.Int64, len(m.limits))
	for st := range m.limits {
		m.inFlight[st] = new(atomic.Int64)
	}
	return m
}

// Start fails tasks left processing by a previous process and launches the
// worker loops. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	n, err := m.store.FailProcessing(ctx, interruptedMessage)
	if err != nil {
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}
	if n > 0 {
		m.logger.Warn().Int64("tasks", n).Msg("failed tasks interrupted by restart")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	taskCtx, cancelTask := context.WithCancel(context.WithoutCancel(ctx))
	g := new(errgroup.Group)

	for _, st := range m.limits.Types() {
		c := Consumer{
			Q:            m.store,
			ServiceType:  st,
			Limits:       m.limits[st],
			Handler:      m.handlers[st],
			Monitor:      m.admitter,
			Timing:       m.timing,
			Logger:       m.logger,
			FreeOSMemory: m.freeMem,
			InFlight:     m.inFlight[st],
			Tasks:        &m.tasks,
		}
		g.Go(func() error {
			c.Run(loopCtx, taskCtx)
			return nil
		})
	}

	m.running = true
	m.cancel = cancel
	m.cancelTask = cancelTask
	m.loops = g
	m.logger.Info().Int("service_types", len(m.limits)).Msg("queue manager started")
	return nil
}

// Stop cancels the worker loops and waits for running tasks until ctx is
// done. Tasks still running then are interrupted and recorded as failed.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, cancelTask, loops := m.cancel, m.cancelTask, m.loops
	m.mu.Unlock()

	m.logger.Info().Msg("stopping queue manager")
	cancel()
	_ = loops.Wait()

	done := make(chan struct{})
	go func() {
		m.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn().Msg("shutdown deadline reached, interrupting running tasks")
		cancelTask()
		<-done
	}
	cancelTask()

	m.logger.Info().Msg("queue manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) Limits() domain.Limits { return m.limits }

func (m *Manager) Store() ports.Store { return m.store }

func (m *Manager) enqueuer() Enqueuer {
	return Enqueuer{Q: m.store, Limits: m.limits, Monitor: m.admitter, Logger: m.logger}
}

// Submit admits a task for asynchronous execution and returns its id.
func (m *Manager) Submit(ctx context.Context, st domain.ServiceType, payload domain.Payload, owner string, priority *int) (int64, error) {
	if !m.IsRunning() {
		return 0, domain.ErrNotRunning
	}
	return m.enqueuer().Submit(ctx, st, payload, owner, priority)
}

// SubmitAndWait submits a task and blocks until it finishes or timeout
// elapses. A zero timeout selects DefaultWaitTimeout.
func (m *Manager) SubmitAndWait(ctx context.Context, st domain.ServiceType, payload domain.Payload, owner string, priority *int, timeout time.Duration) (json.RawMessage, error) {
	id, err := m.Submit(ctx, st, payload, owner, priority)
	if err != nil {
		return nil, err
	}
	return m.Wait(ctx, id, timeout)
}

func (m *Manager) Wait(ctx context.Context, id int64, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return Waiter{Q: m.store, PollInterval: m.poll}.Wait(ctx, id, timeout)
}

// Task returns the polling view of one task.
func (m *Manager) Task(ctx context.Context, id int64) (*domain.TaskState, error) {
	return m.store.GetStatus(ctx, id)
}

// ProcessingCount returns the executing task count per service type.
func (m *Manager) ProcessingCount() map[domain.ServiceType]int {
	out := make(map[domain.ServiceType]int, len(m.inFlight))
	for st, n := range m.inFlight {
		out[st] = int(n.Load())
	}
	return out
}
