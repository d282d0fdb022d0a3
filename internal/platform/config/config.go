// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"stealth/pkg/platform/middleware/metadata"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// DefaultProgramID is the identity registry addresses are derived under.
const DefaultProgramID = "3yLhEZ1di979tt2SrHsPMwvScYD89rGXmMryRhZwtAM2"

// Server captures process level configuration.
type Server struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	Environment     string        `env:"ENV" envDefault:"development"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// TrustedProxies lists CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	Log      LogConfig       `envPrefix:"LOG_"`
	Storage  StorageConfig   `envPrefix:"STORAGE_"`
	Database DatabaseConfig  `envPrefix:"DATABASE_"`
	Redis    RedisConfig     `envPrefix:"REDIS_"`
	Registry RegistryConfig  `envPrefix:"REGISTRY_"`
	Proof    ProofConfig     `envPrefix:"PROOF_"`
	Audit    AuditConfig     `envPrefix:"AUDIT_"`
	Limits   RateLimitConfig `envPrefix:"RATELIMIT_"`
	Tracing  TracingConfig   `envPrefix:"OTEL_"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

type StorageConfig struct {
	Backend string `env:"BACKEND" envDefault:"memory"`
}

type DatabaseConfig struct {
	URL             string        `env:"URL"`
	Driver          string        `env:"DRIVER" envDefault:"postgres"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	Migrate         bool          `env:"MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

type RegistryConfig struct {
	ProgramID string `env:"PROGRAM_ID" envDefault:"3yLhEZ1di979tt2SrHsPMwvScYD89rGXmMryRhZwtAM2"`
}

// ProofConfig bounds the proof-of-control tokens accepted on mutations.
type ProofConfig struct {
	Audience string        `env:"AUDIENCE" envDefault:"stealth-registry"`
	MaxTTL   time.Duration `env:"MAX_TTL" envDefault:"5m"`
	Leeway   time.Duration `env:"LEEWAY" envDefault:"30s"`
}

// AuditConfig configures audit sinks. The outbox relay is disabled without
// brokers. The memory backend keeps MemoryCapacity events; the redis backend
// appends to Stream, trimmed near StreamMaxLen.
type AuditConfig struct {
	KafkaBrokers   []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic          string        `env:"TOPIC" envDefault:"stealth.registry.audit"`
	RelayInterval  time.Duration `env:"RELAY_INTERVAL" envDefault:"1s"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"100"`
	SecurityQueue  int           `env:"SECURITY_QUEUE" envDefault:"1024"`
	MemoryCapacity int           `env:"MEMORY_CAPACITY" envDefault:"10000"`
	Stream         string        `env:"STREAM" envDefault:"stealth:audit"`
	StreamMaxLen   int64         `env:"STREAM_MAX_LEN" envDefault:"1000000"`
}

// RateLimitConfig sets per client IP budgets. Zero keeps the defaults.
type RateLimitConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"true"`
	Reads   int           `env:"READS" envDefault:"300"`
	Writes  int           `env:"WRITES" envDefault:"30"`
	Window  time.Duration `env:"WINDOW" envDefault:"1m"`
}

type TracingConfig struct {
	Endpoint    string `env:"ENDPOINT"`
	Enabled     bool   `env:"ENABLED" envDefault:"true"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"stealth-registry"`
}

// FromEnv parses STEALTH_* variables and validates cross-field rules.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "STEALTH_"}); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects configurations main cannot wire.
func (c Server) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("STEALTH_DATABASE_URL is required for the postgres backend")
		}
		if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
			return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("STEALTH_REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if len(c.Audit.KafkaBrokers) > 0 && c.Storage.Backend != BackendPostgres {
		return fmt.Errorf("audit relay requires the postgres backend")
	}
	if c.Proof.MaxTTL <= 0 {
		return fmt.Errorf("STEALTH_PROOF_MAX_TTL must be positive")
	}
	if _, err := metadata.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("STEALTH_TRUSTED_PROXIES: %w", err)
	}
	return nil
}
