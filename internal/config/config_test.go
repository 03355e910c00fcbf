package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir empty")
	}
	if cfg.MarketURL != "https://market.tailordesk.io" {
		t.Errorf("MarketURL = %q", cfg.MarketURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TAILORDESK_DATA_DIR", "/srv/tailordesk")
	t.Setenv("TAILORDESK_MARKET_URL", "https://staging.example.com")
	t.Setenv("TAILORDESK_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/srv/tailordesk" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.MarketURL != "https://staging.example.com" {
		t.Errorf("MarketURL = %q", cfg.MarketURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestPolicyDefault(t *testing.T) {
	cfg := &Config{}
	policy, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if policy.Maximum.MaxExecutionTime != 60*time.Second {
		t.Errorf("default ceiling = %v", policy.Maximum.MaxExecutionTime)
	}
}

func TestPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, "maximum:\n  network: false\n  maxExecutionTime: 5s\n")

	cfg := &Config{PolicyPath: path}
	policy, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if policy.Maximum.Network {
		t.Error("network should be denied by policy file")
	}
	if policy.Maximum.MaxExecutionTime != 5*time.Second {
		t.Errorf("ceiling = %v, want 5s", policy.Maximum.MaxExecutionTime)
	}
}

func TestPolicyMissingFile(t *testing.T) {
	cfg := &Config{PolicyPath: filepath.Join(t.TempDir(), "absent.yaml")}
	if _, err := cfg.Policy(); err == nil {
		t.Error("Policy() with missing file returned nil error")
	}
}

func TestPublicKeyEncodings(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	for name, encoded := range map[string]string{
		"hex":    hex.EncodeToString(pub),
		"base64": base64.StdEncoding.EncodeToString(pub),
	} {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{DistributionKey: encoded}
			got, err := cfg.PublicKey()
			if err != nil {
				t.Fatalf("PublicKey() error = %v", err)
			}
			if !got.Equal(pub) {
				t.Error("decoded key does not match")
			}
		})
	}
}

func TestPublicKeyInvalid(t *testing.T) {
	for name, key := range map[string]string{
		"empty":      "",
		"garbage":    "not a key!!",
		"wrong size": hex.EncodeToString([]byte("short")),
	} {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{DistributionKey: key}
			if _, err := cfg.PublicKey(); err == nil {
				t.Error("PublicKey() returned nil error")
			}
		})
	}
}
