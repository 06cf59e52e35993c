// Package config loads trade-nexus settings from defaults, an optional YAML
// file, an optional .env file and the process environment, in that order.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultKISBaseURL   = "https://openapi.koreainvestment.com:9443"
	DefaultUpbitBaseURL = "https://api.upbit.com"
	defaultConfigPath   = "nexus.yaml"
)

type Config struct {
	Server struct {
		Host          string `yaml:"host" envconfig:"HOST"`
		Port          string `yaml:"port" envconfig:"PORT"`
		AdminPassword string `yaml:"admin_password" envconfig:"NEXUS_ADMIN_PASSWORD"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path" envconfig:"NEXUS_DB_PATH"`
	} `yaml:"database"`

	Security struct {
		// SecretKey is a hex encoded AES-256 key for credentials at rest.
		SecretKey string `yaml:"secret_key" envconfig:"NEXUS_SECRET_KEY"`
	} `yaml:"security"`

	KIS struct {
		BaseURL      string        `yaml:"base_url" envconfig:"KIS_BASE_URL"`
		TokenTimeout time.Duration `yaml:"token_timeout" envconfig:"KIS_TOKEN_TIMEOUT"`
	} `yaml:"kis"`

	Upbit struct {
		BaseURL string        `yaml:"base_url" envconfig:"UPBIT_BASE_URL"`
		Timeout time.Duration `yaml:"timeout" envconfig:"UPBIT_TIMEOUT"`
	} `yaml:"upbit"`

	Sweep struct {
		// Interval of the expired-token sweep; zero disables it.
		Interval time.Duration `yaml:"interval" envconfig:"NEXUS_SWEEP_INTERVAL"`
	} `yaml:"sweep"`

	Log struct {
		Level  string `yaml:"level" envconfig:"NEXUS_LOG_LEVEL"`
		Pretty bool   `yaml:"pretty" envconfig:"NEXUS_LOG_PRETTY"`
	} `yaml:"log"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	var cfg Config
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "8080"
	cfg.Database.Path = "nexus.db"
	cfg.KIS.BaseURL = DefaultKISBaseURL
	cfg.KIS.TokenTimeout = 10 * time.Second
	cfg.Upbit.BaseURL = DefaultUpbitBaseURL
	cfg.Upbit.Timeout = 10 * time.Second
	cfg.Sweep.Interval = time.Hour
	cfg.Log.Level = "info"
	return &cfg
}

// Load builds the configuration. The YAML path comes from NEXUS_CONFIG and
// defaults to nexus.yaml; a missing YAML or .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("NEXUS_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	return LoadFrom(path)
}

// LoadFrom applies the YAML file at path and then the environment.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if c.Database.Path == "" {
		return errors.New("NEXUS_DB_PATH must not be empty")
	}
	if c.KIS.TokenTimeout <= 0 {
		return errors.New("KIS_TOKEN_TIMEOUT must be positive")
	}
	if c.Upbit.Timeout <= 0 {
		return errors.New("UPBIT_TIMEOUT must be positive")
	}
	if c.Sweep.Interval < 0 {
		return errors.New("NEXUS_SWEEP_INTERVAL must not be negative")
	}
	if _, err := c.EncryptionKey(); err != nil {
		return err
	}
	return nil
}

// EncryptionKey decodes Security.SecretKey. It returns nil when no key is set.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Security.SecretKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Security.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("NEXUS_SECRET_KEY is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("NEXUS_SECRET_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
