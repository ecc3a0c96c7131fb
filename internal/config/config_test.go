package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.WSURL = "wss://rpc.example.org"
	cfg.Chain.ContractAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RequiresChainEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.WSURL = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadContractAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.ContractAddress = "not-an-address"
	assert.Error(t, cfg.Validate())

	cfg.Chain.ContractAddress = "0x1234" // too short
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.Live.ScanIntervalSec = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Live.CacheTTLSec = -1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUCTIOND_REDIS_ADDR", "redis-prod:6380")
	t.Setenv("AUCTIOND_SERVER_PORT", "9090")
	t.Setenv("AUCTIOND_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AUCTIOND_POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load("does-not-exist.toml")
	require.NoError(t, err)

	assert.Equal(t, "redis-prod:6380", cfg.Redis.Addr)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("does-not-exist.toml")
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Live.ScanIntervalSec)
	assert.Equal(t, 86400, cfg.Live.CacheTTLSec)
}
