package ports

import (
	"casequeue/internal/domain"
	"context"
	"time"
)

// Store is the durable task table. Mutations are serialized by the
// implementation and committed before they return.
type Store interface {
	// Enqueue inserts a pending task. Capacity is checked by the caller.
	Enqueue(ctx context.Context, st domain.ServiceType, payload domain.Payload, owner string, priority int) (int64, error)
	// Dequeue claims the most urgent pending task of st, or returns nil when there is none.
	Dequeue(ctx context.Context, st domain.ServiceType) (*domain.Task, error)
	MarkCompleted(ctx context.Context, id int64, result any) error
	MarkFailed(ctx context.Context, id int64, message string) error
	// QueueDepth counts pending and processing tasks of st.
	QueueDepth(ctx context.Context, st domain.ServiceType) (int, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	GetStatus(ctx context.Context, id int64) (*domain.TaskState, error)
	// FailProcessing marks every processing task failed with message and
	// returns how many were changed.
	FailProcessing(ctx context.Context, message string) (int64, error)
	// Prune deletes terminal tasks completed before the given time.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Usage is one host resource sample, in percent.
type Usage struct {
	CPUPercent    float64
	MemoryPercent float64
}

type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

type Janitor interface {
	// removes expired task history until ctx is done
	Run(ctx context.Context) error
}
