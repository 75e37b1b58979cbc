package redisq

import (
	"casequeue/internal/config"
	"casequeue/internal/domain"
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client is a task store backed by a single redis instance.
type Client struct {
	Cfg config.Redis
	Rdb *redis.Client

	mu sync.Mutex
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

// Connect verifies the server is reachable.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisq: connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Str("prefix", c.Cfg.KeyPrefix).Msg("connected to redis")
	return nil
}

func (c *Client) Close() error {
	return c.Rdb.Close()
}

func (c *Client) prefix() string {
	if c.Cfg.KeyPrefix == "" {
		return "casequeue"
	}
	return c.Cfg.KeyPrefix
}

func (c *Client) seqKey() string   { return c.prefix() + ":seq" }
func (c *Client) typesKey() string { return c.prefix() + ":types" }

// finishedKey orders terminal task ids by completion time.
func (c *Client) finishedKey() string { return c.prefix() + ":finished" }

func (c *Client) taskKey(id int64) string { return fmt.Sprintf("%s:task:%d", c.prefix(), id) }

func (c *Client) pendingKey(st domain.ServiceType) string {
	return c.prefix() + ":pending:" + string(st)
}

func (c *Client) processingKey(st domain.ServiceType) string {
	return c.prefix() + ":processing:" + string(st)
}

func (c *Client) countersKey(st domain.ServiceType) string {
	return c.prefix() + ":counters:" + string(st)
}

// member pads ids so that equal scores in the pending set sort in
// insertion order.
func member(id int64) string { return fmt.Sprintf("%020d", id) }
