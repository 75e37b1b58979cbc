package usecase

import (
	"casequeue/internal/domain"
	"context"
	"time"
)

type ResourceUsage struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	CPUThreshold    float64 `json:"cpu_threshold"`
	MemoryThreshold float64 `json:"memory_threshold"`
}

// Status is the operational snapshot served to dashboards and health checks.
type Status struct {
	QueueStats      domain.QueueStats          `json:"queue_stats"`
	ProcessingCount map[domain.ServiceType]int `json:"processing_count"`
	ResourceUsage   ResourceUsage              `json:"resource_usage"`
	Limits          domain.Limits              `json:"limits"`
	IsRunning       bool                       `json:"is_running"`
	Timestamp       time.Time                  `json:"timestamp"`
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}

	s := Status{
		QueueStats:      stats,
		ProcessingCount: m.ProcessingCount(),
		Limits:          m.limits,
		IsRunning:       m.IsRunning(),
		Timestamp:       time.Now(),
	}

	if m.monitor != nil {
		cfg := m.monitor.Config()
		s.ResourceUsage.CPUThreshold = cfg.CPUThreshold
		s.ResourceUsage.MemoryThreshold = cfg.MemoryThreshold

		usage, err := m.monitor.Sample(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("resource sampling failed")
		} else {
			s.ResourceUsage.CPUPercent = usage.CPUPercent
			s.ResourceUsage.MemoryPercent = usage.MemoryPercent
		}
	}
	return s, nil
}
