// Package config defines the top-level configuration for the auction sync
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTIOND_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	Chain    ChainConfig    `toml:"chain"`
	S3       S3Config       `toml:"s3"`
	Live     LiveConfig     `toml:"live"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds the HTTP/WebSocket server parameters.
type ServerConfig struct {
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	APIKey           string   `toml:"api_key"` // empty disables auth
	RateLimitEnabled bool     `toml:"rate_limit_enabled"`
	RateLimitPerMin  int      `toml:"rate_limit_per_min"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the auction read
// model.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ChainConfig holds the ledger subscription parameters.
type ChainConfig struct {
	WSURL           string `toml:"ws_url"`           // websocket RPC endpoint
	ContractAddress string `toml:"contract_address"` // auction house contract
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"` // empty disables archiving
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LiveConfig tunes the real-time state sync core.
type LiveConfig struct {
	ScanIntervalSec      int `toml:"scan_interval_sec"`      // lifecycle monitor scan
	CountdownIntervalSec int `toml:"countdown_interval_sec"` // advisory tick cadence
	QueueSize            int `toml:"queue_size"`             // per-auction event queue
	CacheTTLSec          int `toml:"cache_ttl_sec"`          // snapshot TTL
	ArchiveIntervalSec   int `toml:"archive_interval_sec"`   // settled-auction archiver
}

// NotifyConfig holds operator notification channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"` // empty allows all
}

// Defaults returns the built-in configuration used as the base layer before
// TOML and environment overrides.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:             8080,
			RateLimitEnabled: true,
			RateLimitPerMin:  300,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctiond",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Live: LiveConfig{
			ScanIntervalSec:      60,
			CountdownIntervalSec: 5,
			QueueSize:            64,
			CacheTTLSec:          86400,
			ArchiveIntervalSec:   3600,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for fatal inconsistencies. It is called
// by main after Load.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if strings.TrimSpace(c.Chain.WSURL) == "" {
		return fmt.Errorf("config: chain.ws_url is required")
	}
	if strings.TrimSpace(c.Chain.ContractAddress) == "" {
		return fmt.Errorf("config: chain.contract_address is required")
	}
	if !strings.HasPrefix(c.Chain.ContractAddress, "0x") || len(c.Chain.ContractAddress) != 42 {
		return fmt.Errorf("config: chain.contract_address %q is not a hex address", c.Chain.ContractAddress)
	}
	if c.Postgres.DSN == "" && strings.TrimSpace(c.Postgres.Host) == "" {
		return fmt.Errorf("config: postgres.dsn or postgres.host is required")
	}
	if c.Live.ScanIntervalSec <= 0 {
		return fmt.Errorf("config: live.scan_interval_sec must be positive")
	}
	if c.Live.CountdownIntervalSec <= 0 {
		return fmt.Errorf("config: live.countdown_interval_sec must be positive")
	}
	if c.Live.QueueSize < 0 {
		return fmt.Errorf("config: live.queue_size must not be negative")
	}
	if c.Live.CacheTTLSec <= 0 {
		return fmt.Errorf("config: live.cache_ttl_sec must be positive")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
