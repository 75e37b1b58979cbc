// Package monitor decides whether the host has headroom for new work.
package monitor

import (
	"casequeue/internal/domain"
	"casequeue/internal/ports"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultThreshold      = 95.0
	DefaultSampleInterval = 5 * time.Second
)

type Config struct {
	CPUThreshold    float64
	MemoryThreshold float64
	SampleInterval  time.Duration
}

// Monitor caches its admission verdict for SampleInterval so that
// frequent callers do not pay for host sampling.
type Monitor struct {
	cfg     Config
	sampler ports.Sampler
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	sampledAt time.Time
	admit     bool
}

func New(cfg Config, sampler ports.Sampler, logger zerolog.Logger) *Monitor {
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = DefaultThreshold
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = DefaultThreshold
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	return &Monitor{
		cfg:     cfg,
		sampler: sampler,
		logger:  logger,
		now:     time.Now,
		admit:   true,
	}
}

func (m *Monitor) Config() Config { return m.cfg }

// ShouldAdmit reports whether new work may start. A failed sample admits.
func (m *Monitor) ShouldAdmit(ctx context.Context, st domain.ServiceType) bool {
	m.mu.Lock()
	if !m.sampledAt.IsZero() && m.now().Sub(m.sampledAt) < m.cfg.SampleInterval {
		admit := m.admit
		m.mu.Unlock()
		return admit
	}
	m.mu.Unlock()

	usage, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("service_type", string(st)).Msg("resource sampling failed, admitting")
		return true
	}

	admit := true
	switch {
	case usage.MemoryPercent > m.cfg.MemoryThreshold:
		m.logger.Warn().Float64("memory_percent", usage.MemoryPercent).Msg("memory usage too high")
		admit = false
	case usage.CPUPercent > m.cfg.CPUThreshold:
		m.logger.Warn().Float64("cpu_percent", usage.CPUPercent).Msg("cpu usage too high")
		admit = false
	}

	m.mu.Lock()
	m.sampledAt = m.now()
	m.admit = admit
	m.mu.Unlock()
	return admit
}

// Sample takes a fresh reading without touching the cached verdict.
func (m *Monitor) Sample(ctx context.Context) (ports.Usage, error) {
	return m.sampler.Sample(ctx)
}
