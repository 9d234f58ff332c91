// Package config assembles ledger construction options from the
// environment, optionally overlaid with a YAML file. Key material is
// supplied here, outside the ledger's own storage.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/attestia/grc-core/pkg/ledger"
)

// Keys carries hex-encoded key material for the two digest domains.
type Keys struct {
	HashKey string `yaml:"hash_key"`
	SignKey string `yaml:"sign_key"`
}

// Config holds audit ledger configuration.
type Config struct {
	LedgerID        string `yaml:"ledger_id"`
	LogLevel        string `yaml:"log_level"`
	DatabaseDriver  string `yaml:"database_driver"`
	DatabaseURL     string `yaml:"database_url"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	Keys            Keys   `yaml:"keys"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		LedgerID:        getenv("AUDIT_LEDGER_ID", "grc-audit"),
		LogLevel:        getenv("AUDIT_LOG_LEVEL", "INFO"),
		DatabaseDriver:  getenv("AUDIT_DB_DRIVER", "sqlite"),
		DatabaseURL:     getenv("AUDIT_DB_URL", "file:audit.db"),
		RedisAddr:       os.Getenv("AUDIT_REDIS_ADDR"),
		RedisPassword:   os.Getenv("AUDIT_REDIS_PASSWORD"),
		RedisDB:         getenvInt("AUDIT_REDIS_DB", 0),
		CheckpointEvery: getenvInt("AUDIT_CHECKPOINT_EVERY", 100),
		Keys: Keys{
			HashKey: os.Getenv("AUDIT_HASH_KEY"),
			SignKey: os.Getenv("AUDIT_SIGN_KEY"),
		},
	}
	return cfg
}

// LoadFile loads environment defaults, then overlays the YAML file at path.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Keyring decodes the configured key material.
func (c *Config) Keyring() (*ledger.Keyring, error) {
	hashKey, err := hex.DecodeString(c.Keys.HashKey)
	if err != nil {
		return nil, fmt.Errorf("config: hash key is not hex: %w", err)
	}
	signKey, err := hex.DecodeString(c.Keys.SignKey)
	if err != nil {
		return nil, fmt.Errorf("config: sign key is not hex: %w", err)
	}
	return ledger.NewKeyring(hashKey, signKey)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
