package usecase

import (
	"casequeue/internal/domain"
	"casequeue/internal/infra/sqliteq"
	"casequeue/internal/monitor"
	"casequeue/internal/ports"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var fastTiming = Timing{
	ResourceCooldown: 5 * time.Millisecond,
	CapacityBackoff:  2 * time.Millisecond,
	IdleBackoff:      2 * time.Millisecond,
	ErrorCooldown:    5 * time.Millisecond,
	MaxErrorCooldown: 20 * time.Millisecond,
}

type staticSampler struct {
	usage ports.Usage
	err   error
}

func (s staticSampler) Sample(context.Context) (ports.Usage, error) { return s.usage, s.err }

type fixedAdmitter bool

func (a fixedAdmitter) ShouldAdmit(context.Context, domain.ServiceType) bool { return bool(a) }

func newStore(t *testing.T) *sqliteq.Store {
	t.Helper()
	s, err := sqliteq.Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func healthyMonitor() *monitor.Monitor {
	return monitor.New(monitor.Config{}, staticSampler{usage: ports.Usage{CPUPercent: 10, MemoryPercent: 20}}, zerolog.Nop())
}

func limitsFor(st domain.ServiceType, l domain.ServiceLimits) domain.Limits {
	return domain.Limits{st: l}
}

// startManager runs a manager for the duration of the test.
func startManager(t *testing.T, store ports.Store, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithTiming(fastTiming), WithPollInterval(5 * time.Millisecond)}, opts...)
	m := NewManager(store, healthyMonitor(), opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m
}

func intPtr(v int) *int { return &v }
