// Package config loads runtime configuration from the environment. All
// variables carry the TAILORDESK_ prefix; everything has a default so a bare
// environment still produces a working configuration.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/tailordesk/tailordesk/internal/pack/security"
)

// Config is the full runtime configuration.
type Config struct {
	// DataDir is the root of local state: packs, settings, audit logs.
	DataDir string `env:"TAILORDESK_DATA_DIR"`

	// MarketURL is the base URL of the pack catalog.
	MarketURL string `env:"TAILORDESK_MARKET_URL" envDefault:"https://market.tailordesk.io"`

	// PolicyPath points at the platform permission policy YAML. Empty means
	// the built-in default policy.
	PolicyPath string `env:"TAILORDESK_POLICY_PATH"`

	// DistributionKey is the pack signing public key, hex or base64 encoded.
	DistributionKey string `env:"TAILORDESK_DISTRIBUTION_KEY"`

	// LogLevel is the slog level: debug, info, warn, or error.
	LogLevel string `env:"TAILORDESK_LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	return cfg, nil
}

// Policy loads the platform permission policy: the file at PolicyPath when
// set, the built-in default otherwise.
func (c *Config) Policy() (security.PlatformPolicy, error) {
	if c.PolicyPath == "" {
		return security.DefaultPlatformPolicy(), nil
	}
	return security.LoadPlatformPolicy(c.PolicyPath)
}

// PublicKey decodes the distribution public key. It accepts hex and base64
// encodings of the 32-byte ed25519 key.
func (c *Config) PublicKey() (ed25519.PublicKey, error) {
	if c.DistributionKey == "" {
		return nil, fmt.Errorf("distribution key not configured")
	}

	raw, err := hex.DecodeString(c.DistributionKey)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(c.DistributionKey)
		if err != nil {
			return nil, fmt.Errorf("distribution key is neither hex nor base64")
		}
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("distribution key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// defaultDataDir places state under the user config directory, falling back
// to the working directory when the platform has none.
func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".tailordesk"
	}
	return filepath.Join(base, "tailordesk")
}
