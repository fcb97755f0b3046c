// Package config loads engine configuration from file and environment.
// Environment variables use the SYNC_ prefix with underscores for nesting,
// e.g. SYNC_DATABASE_HOST.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the root configuration for both the API server and the worker
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	JWTSecret     string        `mapstructure:"jwt_secret"`

	// Per-client request rate limiting
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig configures the Postgres connection
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DSN builds the lib/pq connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig configures the shared queue backing store
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig carries the tunable policy constants of the reconciliation
// engine. Defaults match field deployments; individual installs override
// through config or environment.
type EngineConfig struct {
	// Rule authoring quota per creator over a rolling window
	MaxRulesPerCreator int           `mapstructure:"max_rules_per_creator"`
	RuleQuotaWindow    time.Duration `mapstructure:"rule_quota_window"`

	// Resolution batch endpoint cap
	MaxBatchResolve int `mapstructure:"max_batch_resolve"`

	// Minimum justification length for override resolutions
	MinOverrideReasonLength int `mapstructure:"min_override_reason_length"`
}

// WorkerConfig configures the background sync worker
type WorkerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// Load reads configuration from the optional file at path, then the
// environment, then defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.API.JWTSecret == "" {
		return errors.New("api.jwt_secret is required")
	}
	if c.Engine.MaxRulesPerCreator < 1 {
		return errors.New("engine.max_rules_per_creator must be positive")
	}
	if c.Engine.MaxBatchResolve < 1 {
		return errors.New("engine.max_batch_resolve must be positive")
	}
	if c.Engine.MinOverrideReasonLength < 1 {
		return errors.New("engine.min_override_reason_length must be positive")
	}
	if c.Worker.BatchSize < 1 {
		return errors.New("worker.batch_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 15*time.Second)
	v.SetDefault("api.rate_limit_per_second", 20.0)
	v.SetDefault("api.rate_limit_burst", 40)
	// empty defaults so AutomaticEnv can bind keys absent from the file
	v.SetDefault("api.jwt_secret", "")
	v.SetDefault("database.password", "")
	v.SetDefault("redis.password", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sync")
	v.SetDefault("database.database", "sync_engine")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("engine.max_rules_per_creator", 10)
	v.SetDefault("engine.rule_quota_window", time.Hour)
	v.SetDefault("engine.max_batch_resolve", 50)
	v.SetDefault("engine.min_override_reason_length", 20)

	v.SetDefault("worker.poll_interval", 30*time.Second)
	v.SetDefault("worker.batch_size", 20)
	v.SetDefault("worker.max_retries", 5)
	v.SetDefault("worker.initial_backoff", 2*time.Second)
	v.SetDefault("worker.max_backoff", 2*time.Minute)
	v.SetDefault("worker.breaker_failures", 5)
	v.SetDefault("worker.breaker_timeout", time.Minute)
}
