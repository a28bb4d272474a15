package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	AES      AESConfig      `mapstructure:"aes"`
	Log      LogConfig      `mapstructure:"log"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// IsProduction reports whether strict production behavior applies.
func (s ServerConfig) IsProduction() bool {
	return s.Mode == "release"
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// IngestConfig holds the pixel ingest pipeline policy.
type IngestConfig struct {
	TimestampWindow    time.Duration `mapstructure:"timestamp_window"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	MaxBatchSize       int           `mapstructure:"max_batch_size"`
	StrictOrigin       bool          `mapstructure:"strict_origin"`
	AllowUnsigned      bool          `mapstructure:"allow_unsigned"`
	AllowNullOrigin    bool          `mapstructure:"allow_null_origin"`
	AllowRedisFallback bool          `mapstructure:"allow_redis_fallback"`
	NonceTTL           time.Duration `mapstructure:"nonce_ttl"`
	MaxQueueSize       int64         `mapstructure:"max_queue_size"`

	PreBodyRateLimit  RateLimitConfig `mapstructure:"pre_body_rate_limit"`
	PostShopRateLimit RateLimitConfig `mapstructure:"post_shop_rate_limit"`

	Abuse AbuseConfig `mapstructure:"abuse"`

	RateLimitTimeout time.Duration `mapstructure:"rate_limit_timeout"`
	QueuePushTimeout time.Duration `mapstructure:"queue_push_timeout"`
	ReceiptTimeout   time.Duration `mapstructure:"receipt_timeout"`
}

// RateLimitConfig is a fixed-window limit.
type RateLimitConfig struct {
	Limit  int64         `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// AbuseConfig holds the batch abuse-heuristic thresholds.
type AbuseConfig struct {
	MinEvents             int     `mapstructure:"min_events"`
	DuplicateOrderKeyRate float64 `mapstructure:"duplicate_order_key_rate"`
	InvalidOrderKeyRate   float64 `mapstructure:"invalid_order_key_rate"`
	NonStandardEventRate  float64 `mapstructure:"non_standard_event_rate"`
}

// WorkerConfig bounds a single worker invocation.
type WorkerConfig struct {
	MaxBatchesPerRun int           `mapstructure:"max_batches_per_run"`
	RunBudget        time.Duration `mapstructure:"run_budget"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: TG_ (Tracking Guardian).
// Nested keys use underscore: TG_DATABASE_HOST, TG_INGEST_MAX_BATCH_SIZE, etc.
// The ingest policy flags additionally honor their legacy unprefixed names.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "tracking_guardian")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "tracking-guardian")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("ingest.timestamp_window", "5m")
	v.SetDefault("ingest.max_body_bytes", 1<<20)
	v.SetDefault("ingest.max_batch_size", 50)
	v.SetDefault("ingest.strict_origin", false)
	v.SetDefault("ingest.allow_unsigned", false)
	v.SetDefault("ingest.allow_null_origin", false)
	v.SetDefault("ingest.allow_redis_fallback", false)
	v.SetDefault("ingest.nonce_ttl", "24h")
	v.SetDefault("ingest.max_queue_size", 10000)
	v.SetDefault("ingest.pre_body_rate_limit.limit", 120)
	v.SetDefault("ingest.pre_body_rate_limit.window", "1m")
	v.SetDefault("ingest.post_shop_rate_limit.limit", 240)
	v.SetDefault("ingest.post_shop_rate_limit.window", "1m")
	v.SetDefault("ingest.abuse.min_events", 3)
	v.SetDefault("ingest.abuse.duplicate_order_key_rate", 0.8)
	v.SetDefault("ingest.abuse.invalid_order_key_rate", 0.3)
	v.SetDefault("ingest.abuse.non_standard_event_rate", 0.5)
	v.SetDefault("ingest.rate_limit_timeout", "200ms")
	v.SetDefault("ingest.queue_push_timeout", "500ms")
	v.SetDefault("ingest.receipt_timeout", "1s")

	v.SetDefault("worker.max_batches_per_run", 20)
	v.SetDefault("worker.run_budget", "45s")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: TG_INGEST_STRICT_ORIGIN -> ingest.strict_origin
	v.SetEnvPrefix("TG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy flag names kept for deployment compatibility.
	_ = v.BindEnv("ingest.strict_origin", "TG_INGEST_STRICT_ORIGIN", "PIXEL_STRICT_ORIGIN")
	_ = v.BindEnv("ingest.allow_unsigned", "TG_INGEST_ALLOW_UNSIGNED", "ALLOW_UNSIGNED_PIXEL_EVENTS")
	_ = v.BindEnv("ingest.allow_null_origin", "TG_INGEST_ALLOW_NULL_ORIGIN", "PIXEL_ALLOW_NULL_ORIGIN")
	_ = v.BindEnv("ingest.allow_redis_fallback", "TG_INGEST_ALLOW_REDIS_FALLBACK", "ALLOW_REDIS_FALLBACK_FOR_INGEST")

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Unsigned events are a development affordance only.
	if cfg.Server.IsProduction() {
		cfg.Ingest.AllowUnsigned = false
	}

	return &cfg, nil
}
