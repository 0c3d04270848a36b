package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration, loaded from a yaml file and CLAVIS_*
// environment variables.
type Config struct {
	Env      string        `mapstructure:"env"` // "dev" | "prod"
	HTTPAddr string        `mapstructure:"http_addr"`
	Gateway  GatewayConfig `mapstructure:"gateway"`
	Storage  StorageConfig `mapstructure:"storage"`
	Sync     SyncConfig    `mapstructure:"sync"`
	History  HistoryConfig `mapstructure:"history"`
	Locks    []LockConfig  `mapstructure:"locks"`
}

// GatewayConfig points at the Z-Wave bridge websocket.
type GatewayConfig struct {
	URL            string        `mapstructure:"url"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// StorageConfig selects where lock documents live.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"` // "sqlite" | "file" | "postgres" | "memory"
	DataDir     string `mapstructure:"data_dir"`
	DBPath      string `mapstructure:"db_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// SyncConfig tunes the reconcile loop and the write-verify cycle.
type SyncConfig struct {
	ScanInterval     time.Duration `mapstructure:"scan_interval"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	VerifyRetries    int           `mapstructure:"verify_retries"`
	VerifyRetryDelay time.Duration `mapstructure:"verify_retry_delay"`
}

// HistoryConfig controls access log retention.  RetentionDays 0 keeps
// records forever.
type HistoryConfig struct {
	RetentionDays      int `mapstructure:"retention_days"`
	PruneIntervalHours int `mapstructure:"prune_interval_hours"`
}

// LockConfig declares one managed lock.
type LockConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	NodeID int    `mapstructure:"node_id"`
	Slots  int    `mapstructure:"slots"`
}

const (
	minScanInterval = time.Minute
	maxScanInterval = 60 * time.Minute
)

// Load reads configuration from cfgFile (or the default search paths when
// empty) and the environment, applies defaults, and validates.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("env", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("gateway.url", "ws://127.0.0.1:3000")
	v.SetDefault("gateway.command_timeout", 5*time.Second)
	v.SetDefault("gateway.read_timeout", 3*time.Second)
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.db_path", "./data/clavis.db")
	v.SetDefault("sync.scan_interval", 5*time.Minute)
	v.SetDefault("sync.settle_delay", 2*time.Second)
	v.SetDefault("sync.verify_retries", 3)
	v.SetDefault("sync.verify_retry_delay", time.Second)
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("history.prune_interval_hours", 6)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("clavis")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/clavis")
	}

	v.SetEnvPrefix("CLAVIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Running on defaults plus environment is fine; a broken file is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))

	if c.Sync.ScanInterval < minScanInterval {
		c.Sync.ScanInterval = minScanInterval
	}
	if c.Sync.ScanInterval > maxScanInterval {
		c.Sync.ScanInterval = maxScanInterval
	}

	for i := range c.Locks {
		if c.Locks[i].Slots <= 0 {
			c.Locks[i].Slots = 20
		}
		if c.Locks[i].Name == "" {
			c.Locks[i].Name = c.Locks[i].ID
		}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite", "file", "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: storage.postgres_dsn required for the postgres backend")
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("config: gateway.url required")
	}

	if len(c.Locks) == 0 {
		return fmt.Errorf("config: at least one lock must be configured")
	}
	seen := make(map[string]bool, len(c.Locks))
	nodes := make(map[int]bool, len(c.Locks))
	for _, lk := range c.Locks {
		if lk.ID == "" {
			return fmt.Errorf("config: every lock needs an id")
		}
		if seen[lk.ID] {
			return fmt.Errorf("config: duplicate lock id %q", lk.ID)
		}
		seen[lk.ID] = true
		if lk.NodeID <= 0 {
			return fmt.Errorf("config: lock %q needs a positive node_id", lk.ID)
		}
		if nodes[lk.NodeID] {
			return fmt.Errorf("config: duplicate node_id %d", lk.NodeID)
		}
		nodes[lk.NodeID] = true
	}
	return nil
}
