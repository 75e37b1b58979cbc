package domain

import (
	"errors"
	"fmt"
)

var (
	// Admission errors. No task is created when these are returned.
	ErrQueueFull          = errors.New("queue full")
	ErrResourceExhausted  = errors.New("system resources exhausted, retry later")
	ErrUnknownServiceType = errors.New("unknown service type")
	ErrNotRunning         = errors.New("queue manager is not running")

	// Execution errors, persisted on the task.
	ErrTaskTimeout = errors.New("task timeout")
	ErrTaskFailed  = errors.New("task failed")

	// Waiter errors, never persisted.
	ErrWaitTimeout = errors.New("wait timeout")

	// Store errors.
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TaskFailedError carries the error message stored on a failed task.
type TaskFailedError struct {
	ID      int64
	Message string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %d failed: %s", e.ID, e.Message)
}

func (e *TaskFailedError) Is(target error) bool {
	return target == ErrTaskFailed
}
