package usecase

import (
	"casequeue/internal/domain"
	"casequeue/internal/ports"
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Admitter is the resource gate consulted before work is accepted.
type Admitter interface {
	ShouldAdmit(ctx context.Context, st domain.ServiceType) bool
}

// Enqueuer is the only path through which tasks enter the store.
//
// The resource, depth and insert steps are not atomic, so concurrent
// submitters can overshoot MaxQueueSize by a few tasks.
type Enqueuer struct {
	Q       ports.Store
	Limits  domain.Limits
	Monitor Admitter
	Logger  zerolog.Logger
}

// Submit admits a task and returns its id. A nil priority selects the
// service type's default.
func (e Enqueuer) Submit(ctx context.Context, st domain.ServiceType, payload domain.Payload, owner string, priority *int) (int64, error) {
	limits, ok := e.Limits.Lookup(st)
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownServiceType, st)
	}

	if e.Monitor != nil && !e.Monitor.ShouldAdmit(ctx, st) {
		return 0, domain.ErrResourceExhausted
	}

	depth, err := e.Q.QueueDepth(ctx, st)
	if err != nil {
		return 0, err
	}
	if depth >= limits.MaxQueueSize {
		return 0, fmt.Errorf("%w: %s (%d/%d)", domain.ErrQueueFull, st, depth, limits.MaxQueueSize)
	}

	p := limits.Priority
	if priority != nil {
		p = *priority
	}

	id, err := e.Q.Enqueue(ctx, st, payload, owner, p)
	if err != nil {
		return 0, err
	}

	e.Logger.Info().
		Int64("task_id", id).
		Str("service_type", string(st)).
		Int("priority", p).
		Int("queue_size", depth+1).
		Msg("task enqueued")
	return id, nil
}
