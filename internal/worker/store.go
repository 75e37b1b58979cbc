package worker

import (
	"casequeue/internal/config"
	"casequeue/internal/infra/redisq"
	"casequeue/internal/infra/sqliteq"
	"casequeue/internal/ports"
	"context"
	"fmt"
)

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// OpenStore opens the task store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config) (ports.Store, error) {
	switch cfg.Store.Driver {
	case DriverSQLite, "":
		s, err := sqliteq.Open(ctx, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverRedis:
		c := redisq.New(cfg.Redis)
		if err := c.Connect(ctx); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
