package main

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "MCP_OAUTH"

// Storage backends selectable with MCP_OAUTH_STORAGE
const (
	storageFile   = "file"
	storageMemory = "memory"
	storageRedis  = "redis"
)

// Config holds configuration loaded from MCP_OAUTH_* environment variables
type Config struct {
	CallbackHost       string        `envconfig:"CALLBACK_HOST" default:"localhost"`
	CallbackPort       int           `envconfig:"CALLBACK_PORT" default:"8080"`
	CallbackPath       string        `envconfig:"CALLBACK_PATH" default:"/oauth/callback"`
	FlowTimeout        time.Duration `envconfig:"FLOW_TIMEOUT" default:"5m"`
	DisableAutoRefresh bool          `envconfig:"DISABLE_AUTO_REFRESH" default:"false"`
	Namespace          string        `envconfig:"NAMESPACE" default:"mcp-oauth"`
	ProvidersFile      string        `envconfig:"PROVIDERS_FILE"`
	Storage            string        `envconfig:"STORAGE" default:"file"`
	TokenDir           string        `envconfig:"TOKEN_DIR"`
	DisableEncryption  bool          `envconfig:"DISABLE_ENCRYPTION" default:"false"`
	RedisURL           string        `envconfig:"REDIS_URL"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage {
	case storageFile, storageMemory:
	case storageRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%s_REDIS_URL is required when storage is %q", envPrefix, storageRedis)
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want %s, %s or %s)", c.Storage, storageFile, storageMemory, storageRedis)
	}
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("callback port %d out of range", c.CallbackPort)
	}
	return nil
}
