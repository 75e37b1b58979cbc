package sqliteq

import (
	"casequeue/internal/domain"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "queue.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	id, err := s.Enqueue(ctx, domain.ServiceSearch, domain.Payload{"query": "test"}, "test_user", 2)
	require.NoError(t, err)
	assert.Positive(t, id)

	task, err := s.Dequeue(ctx, domain.ServiceSearch)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, domain.ServiceSearch, task.ServiceType)
	assert.Equal(t, "test", task.Payload["query"])
	assert.Equal(t, "test_user", task.Owner)
	assert.Equal(t, domain.StatusProcessing, task.Status)
	assert.False(t, task.CreatedAt.IsZero())

	state, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, state.Status)

	task, err = s.Dequeue(ctx, domain.ServiceSearch)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestDequeuePriorityOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	for _, p := range []int{5, 1, 3} {
		_, err := s.Enqueue(ctx, domain.ServiceSearch, domain.Payload{"p": p}, "u", p)
		require.NoError(t, err)
	}

	var got []int
	for range 3 {
		task, err := s.Dequeue(ctx, domain.ServiceSearch)
		require.NoError(t, err)
		require.NotNil(t, task)
		got = append(got, task.Priority)
	}
	assert.Equal(t, []int{1, 3, 5}, got)
}

func TestDequeueFIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	var ids []int64
	for i := range 4 {
		id, err := s.Enqueue(ctx, domain.ServiceChat, domain.Payload{"n": i}, "u", 5)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		task, err := s.Dequeue(ctx, domain.ServiceChat)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, want, task.ID)
	}
}

func TestDequeueIsolatesServiceTypes(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	_, err := s.Enqueue(ctx, domain.ServiceChat, nil, "u", 1)
	require.NoError(t, err)

	task, err := s.Dequeue(ctx, domain.ServiceSearch)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestConcurrentDequeueNeverSharesATask(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	const n = 20
	for i := range n {
		_, err := s.Enqueue(ctx, domain.ServiceSearch, domain.Payload{"n": i}, "u", 2)
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := s.Dequeue(ctx, domain.ServiceSearch)
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %d dequeued more than once", id)
	}
}

func TestMarkCompletedStoresResult(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	id, err := s.Enqueue(ctx, domain.ServiceCaseAnalysis, domain.Payload{"user_query": "q"}, "u", 1)
	require.NoError(t, err)
	_, err = s.Dequeue(ctx, domain.ServiceCaseAnalysis)
	require.NoError(t, err)

	type report struct {
		Summary   string    `json:"summary"`
		DecidedAt time.Time `json:"decided_at"`
	}
	decided := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.MarkCompleted(ctx, id, map[string]any{
		"case_analysis": report{Summary: "ok", DecidedAt: decided},
	}))

	state, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
	require.NotNil(t, state.CompletedAt)
	assert.JSONEq(t, `{"case_analysis":{"summary":"ok","decided_at":"2024-03-01T09:30:00Z"}}`, string(state.Result))
}

func TestMarkFailedStoresMessage(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	id, err := s.Enqueue(ctx, domain.ServiceChat, nil, "u", 5)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, id, "boom"))

	state, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Equal(t, "boom", state.ErrorMessage)
	assert.Nil(t, state.Result)
	assert.NotNil(t, state.CompletedAt)
}

func TestTerminalStatusIsFinal(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	id, err := s.Enqueue(ctx, domain.ServiceChat, nil, "u", 5)
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, id, map[string]int{"x": 1}))

	err = s.MarkFailed(ctx, id, "late failure")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	err = s.MarkCompleted(ctx, id, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	for range 3 {
		state, err := s.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, state.Status)
		assert.JSONEq(t, `{"x":1}`, string(state.Result))
	}
}

func TestUnknownTask(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	_, err := s.GetStatus(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.ErrorIs(t, s.MarkFailed(ctx, 42, "x"), domain.ErrTaskNotFound)
}

func TestQueueDepthAndStats(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	for range 3 {
		_, err := s.Enqueue(ctx, domain.ServiceSearch, nil, "u", 2)
		require.NoError(t, err)
	}
	done, err := s.Enqueue(ctx, domain.ServiceSearch, nil, "u", 2)
	require.NoError(t, err)
	_, err = s.Dequeue(ctx, domain.ServiceSearch)
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, done, nil))
	failed, err := s.Enqueue(ctx, domain.ServiceChat, nil, "u", 5)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, failed, "x"))

	depth, err := s.QueueDepth(ctx, domain.ServiceSearch)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCounts{Pending: 2, Processing: 1, Completed: 1}, stats[domain.ServiceSearch])
	assert.Equal(t, domain.StatusCounts{Failed: 1}, stats[domain.ServiceChat])
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)

	id, err := s.Enqueue(ctx, domain.ServiceStructuring, domain.Payload{"free_text": "t"}, "u", 4)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	state, err := reopened.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, state.Status)

	next, err := reopened.Enqueue(ctx, domain.ServiceStructuring, nil, "u", 4)
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	old, err := s.Enqueue(ctx, domain.ServiceChat, nil, "u", 5)
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, old, nil))
	pending, err := s.Enqueue(ctx, domain.ServiceChat, nil, "u", 5)
	require.NoError(t, err)

	n, err := s.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetStatus(ctx, old)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = s.GetStatus(ctx, pending)
	assert.NoError(t, err)
}

func TestPayloadKeepsLargeIntegers(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	_, err := s.Enqueue(ctx, domain.ServiceSearch, domain.Payload{"case_id": int64(9007199254740993), "top_k": 5}, "u", 2)
	require.NoError(t, err)

	task, err := s.Dequeue(ctx, domain.ServiceSearch)
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), task.Payload["case_id"])
	assert.Equal(t, json.Number("5"), task.Payload["top_k"])
}

func TestFailProcessing(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	stale, err := s.Enqueue(ctx, domain.ServiceCaseAnalysis, nil, "u", 1)
	require.NoError(t, err)
	_, err = s.Dequeue(ctx, domain.ServiceCaseAnalysis)
	require.NoError(t, err)
	waiting, err := s.Enqueue(ctx, domain.ServiceCaseAnalysis, nil, "u", 1)
	require.NoError(t, err)

	n, err := s.FailProcessing(ctx, "interrupted by restart")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	state, err := s.GetStatus(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Equal(t, "interrupted by restart", state.ErrorMessage)
	assert.NotNil(t, state.CompletedAt)

	state, err = s.GetStatus(ctx, waiting)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, state.Status)

	depth, err := s.QueueDepth(ctx, domain.ServiceCaseAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
