// Package worker wires configuration, storage, the queue manager and the
// HTTP API into one process.
package worker

import (
	"casequeue/internal/api"
	"casequeue/internal/config"
	"casequeue/internal/domain"
	"casequeue/internal/infra/upstream"
	"casequeue/internal/monitor"
	"casequeue/internal/usecase"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Run serves the queue until SIGINT or SIGTERM. A positive port
// overrides the configured HTTP port.
func Run(cfg *config.Config, port int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := log.Logger
	mon := monitor.New(monitor.Config{
		CPUThreshold:    cfg.Queue.CPUThreshold,
		MemoryThreshold: cfg.Queue.MemoryThreshold,
		SampleInterval:  cfg.Queue.SampleInterval,
	}, monitor.HostSampler{}, logger.With().Str("component", "monitor").Logger())

	opts := []usecase.Option{
		usecase.WithLogger(logger.With().Str("component", "queue").Logger()),
		usecase.WithFreeOSMemory(cfg.Queue.FreeOSMemory),
	}
	if cfg.Upstream.BaseURL != "" {
		client := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
		for st, h := range client.Handlers(domain.DefaultLimits) {
			opts = append(opts, usecase.WithHandler(st, h))
		}
		log.Info().Str("base_url", cfg.Upstream.BaseURL).Msg("upstream handlers registered")
	} else {
		log.Warn().Msg("UPSTREAM_BASE_URL not set, tasks will fail with no handler registered")
	}

	manager := usecase.NewManager(store, mon, opts...)
	if err := manager.Start(ctx); err != nil {
		return err
	}

	if port <= 0 {
		port = cfg.HTTP.Port
	}
	server := api.NewServer(manager, cfg.HTTP, cfg.Queue.WaitTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, port)
	})
	if cfg.Queue.Retention > 0 {
		j := usecase.NewJanitor(store, cfg.Queue.Retention, logger.With().Str("component", "janitor").Logger())
		g.Go(func() error {
			if err := j.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := manager.Stop(stopCtx); serr != nil {
		log.Error().Err(serr).Msg("queue manager stop failed")
	}
	return err
}

// SetupLogger applies the configured level and output format to the
// global logger.
func SetupLogger(cfg config.Log) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	zerolog.DefaultContextLogger = &log.Logger
}
