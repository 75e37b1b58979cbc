package usecase

import (
	"casequeue/internal/ports"
	"context"
	"time"

	"github.com/rs/zerolog"
)

var _ ports.Janitor = (*Janitor)(nil)

// Janitor periodically deletes completed and failed tasks older than
// Retention. Pending and processing tasks are never touched.
type Janitor struct {
	Q         ports.Store
	Retention time.Duration
	Interval  time.Duration
	Logger    zerolog.Logger
}

func NewJanitor(q ports.Store, retention time.Duration, logger zerolog.Logger) *Janitor {
	interval := retention / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	return &Janitor{Q: q, Retention: retention, Interval: interval, Logger: logger}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		if _, err := j.Sweep(ctx); err != nil {
			j.Logger.Error().Err(err).Msg("task history sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep removes expired tasks once and returns how many were deleted.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	n, err := j.Q.Prune(ctx, time.Now().Add(-j.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.Logger.Info().Int64("removed", n).Dur("retention", j.Retention).Msg("pruned task history")
	}
	return n, nil
}
