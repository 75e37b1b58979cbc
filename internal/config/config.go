package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"log"
)

type Config struct {
	Store    Store    `envPrefix:"STORE_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	HTTP     HTTP     `envPrefix:"HTTP_"`
	Queue    Queue    `envPrefix:"QUEUE_"`
	Upstream Upstream `envPrefix:"UPSTREAM_"`
	Log      Log      `envPrefix:"LOG_"`
}

type Store struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	Path   string `env:"PATH" envDefault:"db/queue.db"`
}

type Redis struct {
	Addr      string `env:"ADDRESS" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"casequeue"`
}

type HTTP struct {
	Port      int     `env:"PORT" envDefault:"8080"`
	RateLimit float64 `env:"RATE_LIMIT"`
	RateBurst int     `env:"RATE_BURST" envDefault:"5"`
}

type Queue struct {
	CPUThreshold    float64       `env:"CPU_THRESHOLD" envDefault:"95"`
	MemoryThreshold float64       `env:"MEMORY_THRESHOLD" envDefault:"95"`
	SampleInterval  time.Duration `env:"SAMPLE_INTERVAL" envDefault:"5s"`
	WaitTimeout     time.Duration `env:"WAIT_TIMEOUT" envDefault:"300s"`
	Retention       time.Duration `env:"RETENTION"`
	FreeOSMemory    bool          `env:"FREE_OS_MEMORY"`
}

type Upstream struct {
	BaseURL string        `env:"BASE_URL"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"300s"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Pretty bool   `env:"PRETTY"`
}

// Parse reads the configuration from the environment, after loading a
// .env file from the working directory when one exists.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func Load() *Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}

	return c
}
