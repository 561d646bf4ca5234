// Package config loads service settings from defaults, an optional
// config.yaml, a .env file and LOOT_-prefixed environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DevDrawSecret is the built-in secret. It is only accepted with env=dev.
const DevDrawSecret = "dev-only-draw-secret"

// Config holds all configuration for the service.
type Config struct {
	Env           string `mapstructure:"env"`
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	CatalogPath   string `mapstructure:"catalog_path"`
	MigrationsDir string `mapstructure:"migrations_dir"`

	Postgres PostgresConfig `mapstructure:"postgres"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Solana   SolanaConfig   `mapstructure:"solana"`
	Draw     DrawConfig     `mapstructure:"draw"`
	Locks    SweepConfig    `mapstructure:"locks"`
	Replay   SweepConfig    `mapstructure:"replay"`
	Tx       TxConfig       `mapstructure:"tx"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Persist  PersistConfig  `mapstructure:"persist"`
	Server   ServerConfig   `mapstructure:"server"`
}

type PostgresConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"` // empty disables messaging
}

// RedisConfig selects the shared lock and replay stores. An empty Addr
// keeps both in process memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SolanaConfig struct {
	RPCURL        string  `mapstructure:"rpc_url"`
	RPS           float64 `mapstructure:"rps"`
	Burst         int     `mapstructure:"burst"`
	Treasury      string  `mapstructure:"treasury"`
	VerifyOnChain bool    `mapstructure:"verify_onchain"`
	VerifyPayment bool    `mapstructure:"verify_payment"`
}

type DrawConfig struct {
	Secret                string `mapstructure:"secret"`
	DefaultBuybackPercent string `mapstructure:"default_buyback_percent"`
}

// SweepConfig is a TTL plus the cron spec of its sweep job.
type SweepConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

type TxConfig struct {
	MaxSize         int `mapstructure:"max_size"`
	MaxInstructions int `mapstructure:"max_instructions"`
}

type RetryConfig struct {
	Attempts        int           `mapstructure:"attempts"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type PersistConfig struct {
	ChannelSize  int           `mapstructure:"channel_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration. configFile may be empty, in which case
// config.yaml is looked up in . and ./config and is optional.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Draw.Secret == "" {
		return errors.New("draw.secret is empty")
	}
	if c.Draw.Secret == DevDrawSecret && c.Env != "dev" {
		return fmt.Errorf("draw.secret must be set when env=%s", c.Env)
	}
	if c.Tx.MaxSize <= 0 || c.Tx.MaxInstructions <= 0 {
		return errors.New("tx.max_size and tx.max_instructions must be positive")
	}
	if c.Retry.Attempts < 1 {
		return errors.New("retry.attempts must be at least 1")
	}
	if c.Persist.ChannelSize <= 0 {
		return errors.New("persist.channel_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("catalog_path", "catalog.yaml")
	v.SetDefault("migrations_dir", "migrations")

	v.SetDefault("postgres.url", "postgres://localhost:5432/lootledger?sslmode=disable")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("nats.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.rps", 10.0)
	v.SetDefault("solana.burst", 20)
	v.SetDefault("solana.treasury", "")
	v.SetDefault("solana.verify_onchain", true)
	v.SetDefault("solana.verify_payment", true)

	v.SetDefault("draw.secret", DevDrawSecret)
	v.SetDefault("draw.default_buyback_percent", "85")

	v.SetDefault("locks.ttl", "5m")
	v.SetDefault("locks.sweep_schedule", "@every 1m")
	v.SetDefault("replay.ttl", "5m")
	v.SetDefault("replay.sweep_schedule", "@every 1m")

	v.SetDefault("tx.max_size", 10240)
	v.SetDefault("tx.max_instructions", 100)

	v.SetDefault("retry.attempts", 4)
	v.SetDefault("retry.attempt_timeout", "5s")
	v.SetDefault("retry.initial_interval", "200ms")
	v.SetDefault("retry.max_interval", "5s")

	v.SetDefault("persist.channel_size", 1024)
	v.SetDefault("persist.batch_size", 100)
	v.SetDefault("persist.flush_timeout", "50ms")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.metrics_addr", ":9100")
}
