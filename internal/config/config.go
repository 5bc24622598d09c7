package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Contracts ContractsConfig `mapstructure:"contracts"`
	Candles   CandlesConfig   `mapstructure:"candles"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	MetricsPort int `mapstructure:"metrics_port"`
}

type ChainConfig struct {
	Name        string        `mapstructure:"name"`
	ChainID     int64         `mapstructure:"chain_id"`
	RPCEndpoint string        `mapstructure:"rpc_endpoint"`
	BlockTime   time.Duration `mapstructure:"block_time"`
	StartBlock  uint64        `mapstructure:"start_block"`
}

type DatabaseConfig struct {
	// Driver selects the storage adapter: "postgres" or "memory".
	Driver         string `mapstructure:"driver"`
	// URL, when set, is used as the connection string instead of the
	// individual fields below.
	URL            string `mapstructure:"url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

type ProcessorConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	Workers   int `mapstructure:"workers"`
}

// ContractsConfig holds the network addresses the dispatcher routes on.
// It replaces per-network environment lookups inside handlers.
type ContractsConfig struct {
	Treasury        string `mapstructure:"treasury"`
	Marketplace     string `mapstructure:"marketplace"`
	CollateralToken string `mapstructure:"collateral_token"`
	LMKTToken       string `mapstructure:"lmkt_token"`
}

type CandlesConfig struct {
	Intervals        []int64       `mapstructure:"intervals"`
	MaxBackfillSteps int           `mapstructure:"max_backfill_steps"`
	FutureTolerance  time.Duration `mapstructure:"future_tolerance"`
}

type PricingConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultIntervals are the candle widths in seconds tracked for every pair.
var DefaultIntervals = []int64{60, 300, 900, 3600, 14400, 86400}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("chain.block_time", "2s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("processor.batch_size", 500)
	v.SetDefault("processor.workers", 6)
	v.SetDefault("candles.intervals", DefaultIntervals)
	v.SetDefault("candles.max_backfill_steps", 1000)
	v.SetDefault("candles.future_tolerance", "5m")
	v.SetDefault("pricing.max_attempts", 3)
	v.SetDefault("pricing.initial_delay", "1s")
	v.SetDefault("pricing.backoff_multiplier", 2.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Contracts.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"contracts.treasury":         c.Contracts.Treasury,
		"contracts.collateral_token": c.Contracts.CollateralToken,
		"contracts.lmkt_token":       c.Contracts.LMKTToken,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid config: %s %q is not a hex address", name, addr)
		}
	}
	if c.Contracts.Marketplace != "" && !common.IsHexAddress(c.Contracts.Marketplace) {
		return fmt.Errorf("invalid config: contracts.marketplace %q is not a hex address", c.Contracts.Marketplace)
	}

	if len(c.Candles.Intervals) == 0 {
		return fmt.Errorf("invalid config: candles.intervals is empty")
	}
	for _, iv := range c.Candles.Intervals {
		if iv <= 0 {
			return fmt.Errorf("invalid config: candle interval %d must be positive", iv)
		}
	}

	if c.Pricing.MaxAttempts <= 0 {
		return fmt.Errorf("invalid config: pricing.max_attempts must be positive")
	}

	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid config: unknown database.driver %q", c.Database.Driver)
	}

	return nil
}

func (c *ContractsConfig) normalize() {
	c.Treasury = strings.ToLower(strings.TrimSpace(c.Treasury))
	c.Marketplace = strings.ToLower(strings.TrimSpace(c.Marketplace))
	c.CollateralToken = strings.ToLower(strings.TrimSpace(c.CollateralToken))
	c.LMKTToken = strings.ToLower(strings.TrimSpace(c.LMKTToken))
}

func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
