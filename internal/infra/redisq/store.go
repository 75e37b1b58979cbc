package redisq

import (
	"casequeue/internal/domain"
	"casequeue/internal/ports"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ ports.Store = (*Client)(nil)

func (c *Client) Enqueue(ctx context.Context, st domain.ServiceType, payload domain.Payload, owner string, priority int) (int64, error) {
	if payload == nil {
		payload = domain.Payload{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("redisq: encode payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.Rdb.Incr(ctx, c.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redisq: allocate id: %w", err)
	}

	_, err = c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, c.taskKey(id), map[string]any{
			"service_type": string(st),
			"priority":     priority,
			"payload":      string(b),
			"owner":        owner,
			"created_at":   time.Now().UnixNano(),
			"status":       string(domain.StatusPending),
			"retry_count":  0,
		})
		p.ZAdd(ctx, c.pendingKey(st), redis.Z{Score: float64(priority), Member: member(id)})
		p.SAdd(ctx, c.typesKey(), string(st))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redisq: enqueue: %w", err)
	}
	return id, nil
}

// dequeueScript pops the most urgent pending member, flips its hash to
// processing and returns the id with the hash fields. A member without a
// hash is dropped from the pending set and reported as an error.
var dequeueScript = redis.NewScript(`
local m = redis.call('ZRANGE', KEYS[1], 0, 0)
if #m == 0 then
	return false
end
local id = (string.gsub(m[1], '^0+', ''))
local key = ARGV[1] .. id
redis.call('ZREM', KEYS[1], m[1])
if redis.call('EXISTS', key) == 0 then
	return redis.error_reply('orphan pending member ' .. m[1])
end
redis.call('HSET', key, 'status', ARGV[2])
redis.call('SADD', KEYS[2], id)
return {id, redis.call('HGETALL', key)}
`)

// Dequeue pops, claims and loads a task in one script so a failure leaves
// it either pending or processing, never in between.
func (c *Client) Dequeue(ctx context.Context, st domain.ServiceType) (*domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := dequeueScript.Run(ctx, c.Rdb,
		[]string{c.pendingKey(st), c.processingKey(st)},
		c.prefix()+":task:", string(domain.StatusProcessing),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisq: dequeue %s: %w", st, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redisq: dequeue %s: unexpected reply %v", st, res)
	}

	raw, _ := res[0].(string)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisq: bad task id %q: %w", raw, err)
	}
	flat, _ := res[1].([]any)
	h := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		h[k] = v
	}
	return decodeTask(id, h)
}

func decodeTask(id int64, h map[string]string) (*domain.Task, error) {
	t := &domain.Task{
		ID:          id,
		ServiceType: domain.ServiceType(h["service_type"]),
		Owner:       h["owner"],
		Status:      domain.TaskStatus(h["status"]),
	}
	t.Priority, _ = strconv.Atoi(h["priority"])
	t.RetryCount, _ = strconv.Atoi(h["retry_count"])
	if ns, err := strconv.ParseInt(h["created_at"], 10, 64); err == nil {
		t.CreatedAt = time.Unix(0, ns)
	}
	p, err := domain.DecodePayload([]byte(h["payload"]))
	if err != nil {
		return nil, fmt.Errorf("redisq: decode payload of task %d: %w", id, err)
	}
	t.Payload = p
	return t, nil
}

func (c *Client) MarkCompleted(ctx context.Context, id int64, result any) error {
	fields := map[string]any{}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("redisq: encode result of task %d: %w", id, err)
		}
		fields["result"] = string(b)
	}
	return c.finish(ctx, id, domain.StatusCompleted, fields)
}

func (c *Client) MarkFailed(ctx context.Context, id int64, message string) error {
	return c.finish(ctx, id, domain.StatusFailed, map[string]any{"error_message": message})
}

func (c *Client) finish(ctx context.Context, id int64, status domain.TaskStatus, fields map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	vals, err := c.Rdb.HMGet(ctx, c.taskKey(id), "status", "service_type").Result()
	if err != nil {
		return fmt.Errorf("redisq: finish task %d: %w", id, err)
	}
	current, ok := vals[0].(string)
	if !ok {
		return fmt.Errorf("redisq: task %d: %w", id, domain.ErrTaskNotFound)
	}
	if domain.TaskStatus(current).Terminal() {
		return fmt.Errorf("redisq: task %d is %s: %w", id, current, domain.ErrInvalidTransition)
	}
	st, _ := vals[1].(string)

	now := time.Now()
	fields["status"] = string(status)
	fields["completed_at"] = now.UnixNano()

	_, err = c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, c.taskKey(id), fields)
		p.ZRem(ctx, c.pendingKey(domain.ServiceType(st)), member(id))
		p.SRem(ctx, c.processingKey(domain.ServiceType(st)), id)
		p.HIncrBy(ctx, c.countersKey(domain.ServiceType(st)), string(status), 1)
		p.ZAdd(ctx, c.finishedKey(), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisq: finish task %d: %w", id, err)
	}
	return nil
}

func (c *Client) FailProcessing(ctx context.Context, message string) (int64, error) {
	types, err := c.Rdb.SMembers(ctx, c.typesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redisq: fail processing tasks: %w", err)
	}

	var n int64
	for _, name := range types {
		ids, err := c.Rdb.SMembers(ctx, c.processingKey(domain.ServiceType(name))).Result()
		if err != nil {
			return n, fmt.Errorf("redisq: fail processing tasks: %w", err)
		}
		for _, raw := range ids {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			if err := c.MarkFailed(ctx, id, message); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (c *Client) QueueDepth(ctx context.Context, st domain.ServiceType) (int, error) {
	var pending, processing *redis.IntCmd
	_, err := c.Rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.ZCard(ctx, c.pendingKey(st))
		processing = p.SCard(ctx, c.processingKey(st))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redisq: queue depth: %w", err)
	}
	return int(pending.Val() + processing.Val()), nil
}

func (c *Client) Stats(ctx context.Context) (domain.QueueStats, error) {
	types, err := c.Rdb.SMembers(ctx, c.typesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisq: stats: %w", err)
	}

	stats := domain.QueueStats{}
	for _, name := range types {
		st := domain.ServiceType(name)
		var (
			pending, processing *redis.IntCmd
			counters            *redis.MapStringStringCmd
		)
		_, err := c.Rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			pending = p.ZCard(ctx, c.pendingKey(st))
			processing = p.SCard(ctx, c.processingKey(st))
			counters = p.HGetAll(ctx, c.countersKey(st))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("redisq: stats for %s: %w", st, err)
		}

		counts := domain.StatusCounts{
			Pending:    int(pending.Val()),
			Processing: int(processing.Val()),
		}
		for status, v := range counters.Val() {
			n, _ := strconv.Atoi(v)
			counts.Add(domain.TaskStatus(status), n)
		}
		stats[st] = counts
	}
	return stats, nil
}

func (c *Client) GetStatus(ctx context.Context, id int64) (*domain.TaskState, error) {
	vals, err := c.Rdb.HMGet(ctx, c.taskKey(id), "status", "error_message", "completed_at", "result").Result()
	if err != nil {
		return nil, fmt.Errorf("redisq: get status: %w", err)
	}
	status, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("redisq: task %d: %w", id, domain.ErrTaskNotFound)
	}

	state := &domain.TaskState{ID: id, Status: domain.TaskStatus(status)}
	if msg, ok := vals[1].(string); ok {
		state.ErrorMessage = msg
	}
	if raw, ok := vals[2].(string); ok {
		if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ts := time.Unix(0, ns)
			state.CompletedAt = &ts
		}
	}
	if raw, ok := vals[3].(string); ok && json.Valid([]byte(raw)) {
		state.Result = json.RawMessage(raw)
	}
	return state, nil
}

func (c *Client) Prune(ctx context.Context, before time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, err := c.Rdb.ZRangeByScore(ctx, c.finishedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redisq: prune: %w", err)
	}

	var removed int64
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		vals, err := c.Rdb.HMGet(ctx, c.taskKey(id), "status", "service_type").Result()
		if err != nil {
			return removed, fmt.Errorf("redisq: prune task %d: %w", id, err)
		}
		status, _ := vals[0].(string)
		st, _ := vals[1].(string)

		_, err = c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, c.taskKey(id))
			p.ZRem(ctx, c.finishedKey(), raw)
			if status != "" {
				p.HIncrBy(ctx, c.countersKey(domain.ServiceType(st)), status, -1)
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("redisq: prune task %d: %w", id, err)
		}
		removed++
	}
	return removed, nil
}
