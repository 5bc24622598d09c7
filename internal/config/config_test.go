package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
chain:
  rpc_endpoint: http://localhost:8545
contracts:
  treasury: "0xAbCdEf0000000000000000000000000000000001"
  collateral_token: "0x0000000000000000000000000000000000000002"
  lmkt_token: "0x0000000000000000000000000000000000000003"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "memory"},
		Contracts: ContractsConfig{
			Treasury:        "0x0000000000000000000000000000000000000001",
			CollateralToken: "0x0000000000000000000000000000000000000002",
			LMKTToken:       "0x0000000000000000000000000000000000000003",
		},
		Candles: CandlesConfig{Intervals: DefaultIntervals},
		Pricing: PricingConfig{MaxAttempts: 3},
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", cfg.Contracts.Treasury)
	assert.Equal(t, DefaultIntervals, cfg.Candles.Intervals)
	assert.Equal(t, 1000, cfg.Candles.MaxBackfillSteps)
	assert.Equal(t, 5*time.Minute, cfg.Candles.FutureTolerance)
	assert.Equal(t, 3, cfg.Pricing.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Pricing.InitialDelay)
	assert.Equal(t, 2.0, cfg.Pricing.BackoffMultiplier)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 500, cfg.Processor.BatchSize)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INDEXER_DATABASE_DRIVER", "memory")
	t.Setenv("INDEXER_PRICING_MAX_ATTEMPTS", "5")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Pricing.MaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadAddress(t *testing.T) {
	_, err := Load(writeConfig(t, `
contracts:
  treasury: "not-an-address"
  collateral_token: "0x0000000000000000000000000000000000000002"
  lmkt_token: "0x0000000000000000000000000000000000000003"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contracts.treasury")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "marketplace optional", mutate: func(c *Config) { c.Contracts.Marketplace = "" }},
		{name: "bad marketplace", mutate: func(c *Config) { c.Contracts.Marketplace = "0x12" }, wantErr: "contracts.marketplace"},
		{name: "missing lmkt token", mutate: func(c *Config) { c.Contracts.LMKTToken = "" }, wantErr: "contracts.lmkt_token"},
		{name: "no intervals", mutate: func(c *Config) { c.Candles.Intervals = nil }, wantErr: "candles.intervals"},
		{name: "zero interval", mutate: func(c *Config) { c.Candles.Intervals = []int64{60, 0} }, wantErr: "must be positive"},
		{name: "no attempts", mutate: func(c *Config) { c.Pricing.MaxAttempts = 0 }, wantErr: "pricing.max_attempts"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, wantErr: "database.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnectionString(t *testing.T) {
	cfg := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Name: "candles", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/candles?sslmode=disable", cfg.ConnectionString())

	cfg.URL = "postgres://other@elsewhere:6543/x"
	assert.Equal(t, "postgres://other@elsewhere:6543/x", cfg.ConnectionString())
}
