package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payload is the service-specific request body carried by a task.
type Payload map[string]any

// DecodePayload parses a stored payload. Numbers decode as json.Number so
// integers beyond 2^53 survive the round trip.
func DecodePayload(b []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

type Task struct {
	ID           int64       `json:"id"`
	ServiceType  ServiceType `json:"service_type"`
	Priority     int         `json:"priority"`
	Payload      Payload     `json:"payload"`
	Owner        string      `json:"owner"`
	CreatedAt    time.Time   `json:"created_at"`
	Status       TaskStatus  `json:"status"`
	RetryCount   int         `json:"retry_count"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// TaskState is the polling view of a task.
type TaskState struct {
	ID           int64           `json:"id"`
	Status       TaskStatus      `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// StatusCounts holds the number of tasks per status for one service type.
type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add increments the counter matching status by n. Unknown statuses are ignored.
func (c *StatusCounts) Add(status TaskStatus, n int) {
	switch status {
	case StatusPending:
		c.Pending += n
	case StatusProcessing:
		c.Processing += n
	case StatusCompleted:
		c.Completed += n
	case StatusFailed:
		c.Failed += n
	}
}

type QueueStats map[ServiceType]StatusCounts
