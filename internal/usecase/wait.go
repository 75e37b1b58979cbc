package usecase

import (
	"casequeue/internal/domain"
	"casequeue/internal/ports"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const DefaultPollInterval = time.Second

// Waiter blocks until a task reaches a terminal state by polling the store.
type Waiter struct {
	Q            ports.Store
	PollInterval time.Duration
}

// Wait returns the stored result of a completed task. A failed task yields
// a *domain.TaskFailedError; exceeding timeout yields domain.ErrWaitTimeout.
func (w Waiter) Wait(ctx context.Context, id int64, timeout time.Duration) (json.RawMessage, error) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)

	for {
		state, err := w.Q.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}

		switch state.Status {
		case domain.StatusCompleted:
			return state.Result, nil
		case domain.StatusFailed:
			msg := state.ErrorMessage
			if msg == "" {
				msg = "unknown error"
			}
			return nil, &domain.TaskFailedError{ID: id, Message: msg}
		case domain.StatusPending, domain.StatusProcessing:
		default:
			return nil, fmt.Errorf("task %d has unknown status %q", id, state.Status)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: task %d not finished after %s", domain.ErrWaitTimeout, id, timeout)
		}
		if !sleep(ctx, min(interval, remaining)) {
			return nil, ctx.Err()
		}
	}
}
