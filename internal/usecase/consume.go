package usecase

import (
	"casequeue/internal/domain"
	"casequeue/internal/ports"
	"casequeue/pkg/backoff"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Handler executes one task and returns a JSON-encodable result.
type Handler func(ctx context.Context, t domain.Task) (any, error)

// Timing holds the sleeps of a worker loop.
type Timing struct {
	ResourceCooldown time.Duration
	CapacityBackoff  time.Duration
	IdleBackoff      time.Duration
	ErrorCooldown    time.Duration
	MaxErrorCooldown time.Duration
}

var DefaultTiming = Timing{
	ResourceCooldown: 10 * time.Second,
	CapacityBackoff:  2 * time.Second,
	IdleBackoff:      time.Second,
	ErrorCooldown:    5 * time.Second,
	MaxErrorCooldown: 30 * time.Second,
}

// Consumer runs the worker loop of a single service type.
type Consumer struct {
	Q           ports.Store
	ServiceType domain.ServiceType
	Limits      domain.ServiceLimits
	Handler     Handler
	Monitor     Admitter
	Timing      Timing
	Logger      zerolog.Logger

	// FreeOSMemory returns freed heap to the OS after every task.
	FreeOSMemory bool

	// InFlight counts tasks of this type currently executing.
	InFlight *atomic.Int64
	// Tasks tracks executing task goroutines.
	Tasks *sync.WaitGroup
}

// Run loops until ctx is cancelled. Each dequeued task executes in its
// own goroutine, at most Limits.MaxConcurrent at a time. Tasks run under
// taskCtx so that shutdown can interrupt them separately from the loop.
func (c Consumer) Run(ctx, taskCtx context.Context) error {
	c.Logger.Info().Str("service_type", string(c.ServiceType)).Msg("worker started")
	defer c.Logger.Info().Str("service_type", string(c.ServiceType)).Msg("worker stopped")

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		wait, err := c.step(ctx, taskCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			wait = backoff.ExponentialJitter(c.Timing.ErrorCooldown, c.Timing.MaxErrorCooldown, failures)
			c.Logger.Error().Err(err).
				Str("service_type", string(c.ServiceType)).
				Dur("cooldown", wait).
				Msg("worker error")
		} else {
			failures = 0
		}

		if wait > 0 && !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// step performs one iteration and returns how long to sleep before the next.
func (c Consumer) step(ctx, taskCtx context.Context) (_ time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	if c.Monitor != nil && !c.Monitor.ShouldAdmit(ctx, c.ServiceType) {
		return c.Timing.ResourceCooldown, nil
	}

	if c.InFlight.Load() >= int64(c.Limits.MaxConcurrent) {
		return c.Timing.CapacityBackoff, nil
	}

	t, err := c.Q.Dequeue(ctx, c.ServiceType)
	if err != nil {
		return 0, err
	}
	if t == nil {
		return c.Timing.IdleBackoff, nil
	}

	c.InFlight.Add(1)
	c.Tasks.Add(1)
	go func() {
		defer c.Tasks.Done()
		defer c.InFlight.Add(-1)
		c.process(taskCtx, *t)
	}()
	return 0, nil
}

func (c Consumer) process(ctx context.Context, t domain.Task) {
	log := c.Logger.With().
		Int64("task_id", t.ID).
		Str("service_type", string(t.ServiceType)).
		Logger()
	log.Info().Msg("processing task")

	start := time.Now()
	result, err := c.execute(ctx, t)
	if err == nil {
		result, err = encodeResult(result)
	}

	// The store write must outlive a cancelled task context.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("task failed")
		if markErr := c.Q.MarkFailed(recordCtx, t.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record task failure")
		}
	} else {
		log.Info().Dur("elapsed", time.Since(start)).Msg("task completed")
		if markErr := c.Q.MarkCompleted(recordCtx, t.ID, result); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record task result")
		}
	}

	if c.FreeOSMemory {
		debug.FreeOSMemory()
	}
}

var errStopped = errors.New("manager stopped")

// encodeResult marshals a handler result up front so that a value JSON
// cannot represent fails the task instead of leaving it processing.
func encodeResult(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return json.RawMessage(b), nil
}

// execute runs the handler under the service deadline. On timeout the
// handler goroutine is abandoned; its context is cancelled so it can
// stop on its own.
func (c Consumer) execute(ctx context.Context, t domain.Task) (any, error) {
	if c.Handler == nil {
		return nil, fmt.Errorf("no handler registered for service type %s", t.ServiceType)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Limits.Timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := c.Handler(ctx, t)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil {
			return nil, o.err
		}
		if o.err == nil {
			return o.result, nil
		}
	case <-ctx.Done():
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %gs", domain.ErrTaskTimeout, c.Limits.Timeout.Seconds())
	}
	return nil, errStopped
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
