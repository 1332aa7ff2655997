package config

import (
	"os"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" env-default:"warn"`

	WorkersCount    int           `env:"WORKERS_COUNT" env-default:"0"`
	QueueCapacity   int           `env:"QUEUE_CAPACITY" env-default:"0"`
	LanguagesPath   string        `env:"LANGUAGES_PATH" env-default:"languages"`
	MaxOutputSize   int64         `env:"MAX_OUTPUT_SIZE" env-default:"1048576"`
	JobBudgetMargin time.Duration `env:"JOB_BUDGET_MARGIN" env-default:"2s"`
	CaseOverhead    time.Duration `env:"CASE_OVERHEAD" env-default:"250ms"`
	InternalRetries int           `env:"INTERNAL_RETRIES" env-default:"1"`

	StoreBackend  string `env:"STORE_BACKEND" env-default:"redis"`
	RedisAddr     string `env:"REDIS_ADDR" env-default:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	MinIOHost     string `env:"MINIO_HOST" env-default:"127.0.0.1:9000"`
	MinIOLogin    string `env:"MINIO_LOGIN" env-required:"true"`
	MinIOPassword string `env:"MINIO_PASSWORD" env-required:"true"`
	MinIOBucket   string `env:"MINIO_BUCKET" env-default:"judge"`
	MinIOSSL      bool   `env:"MINIO_SSL" env-default:"false"`

	RabbitMQHost     string `env:"RABBIT_HOST" env-default:"127.0.0.1"`
	RabbitMQPort     int    `env:"RABBIT_PORT" env-default:"5672"`
	RabbitMQUser     string `env:"RABBIT_USER" env-required:"true"`
	RabbitMQPassword string `env:"RABBIT_PASSWORD" env-required:"true"`
	RabbitMQPrefetch int    `env:"RABBIT_PREFETCH" env-default:"0"`

	MetricsAddr string `env:"METRICS_ADDR"`
}

// NewConfig reads .env when it exists and the process environment otherwise.
func NewConfig() (*Config, error) {
	return newConfig(".env")
}

func newConfig(envFile string) (*Config, error) {
	cfg := &Config{}

	var err error
	if _, statErr := os.Stat(envFile); statErr == nil {
		err = cleanenv.ReadConfig(envFile, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if cfg.WorkersCount <= 0 {
		cfg.WorkersCount = runtime.NumCPU()
	}
	if cfg.RabbitMQPrefetch <= 0 {
		cfg.RabbitMQPrefetch = cfg.WorkersCount * 2
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreRedis:
	default:
		return errors.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.QueueCapacity < 0 {
		return errors.New("QUEUE_CAPACITY must not be negative")
	}
	if c.InternalRetries < 0 {
		return errors.New("INTERNAL_RETRIES must not be negative")
	}
	if c.MaxOutputSize <= 0 {
		return errors.New("MAX_OUTPUT_SIZE must be positive")
	}
	return nil
}
