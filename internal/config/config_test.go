package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()

	if cfg.Relay.Address != "127.0.0.1:13265" {
		t.Errorf("Relay.Address = %s, want 127.0.0.1:13265", cfg.Relay.Address)
	}
	if cfg.Relay.Transport != "tcp" {
		t.Errorf("Relay.Transport = %s, want tcp", cfg.Relay.Transport)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default client config should validate: %v", err)
	}
}

func TestDefaultRelayConfig(t *testing.T) {
	cfg := DefaultRelayConfig()

	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Address != ":13265" {
		t.Errorf("unexpected default listeners: %+v", cfg.Listeners)
	}
	if cfg.PairingTimeout.Seconds() != 60 {
		t.Errorf("PairingTimeout = %v, want 60s", cfg.PairingTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default relay config should validate: %v", err)
	}
}

func TestParseClientConfig_ValidConfig(t *testing.T) {
	yamlConfig := `
relay:
  address: "relay.example.com:13265"
  transport: tcp
download_root: "/srv/portal/downloads"
rate_limit:
  bytes_per_second: 1048576
log_level: debug
log_format: json
`
	cfg, err := ParseClientConfig([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("ParseClientConfig: %v", err)
	}
	if cfg.Relay.Address != "relay.example.com:13265" {
		t.Errorf("Relay.Address = %s", cfg.Relay.Address)
	}
	if cfg.RateLimit.BytesPerSecond != 1048576 {
		t.Errorf("RateLimit.BytesPerSecond = %d", cfg.RateLimit.BytesPerSecond)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %s", cfg.LogFormat)
	}
}

func TestParseClientConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("PORTAL_RELAY_ADDR", "10.0.0.5:13265")
	yamlConfig := `
relay:
  address: "${PORTAL_RELAY_ADDR}"
  transport: tcp
download_root: "./downloads"
`
	cfg, err := ParseClientConfig([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("ParseClientConfig: %v", err)
	}
	if cfg.Relay.Address != "10.0.0.5:13265" {
		t.Errorf("Relay.Address = %s, want expanded env value", cfg.Relay.Address)
	}
}

func TestParseClientConfig_RejectsInvalidTransport(t *testing.T) {
	yamlConfig := `
relay:
  address: "relay.example.com:13265"
  transport: carrier-pigeon
download_root: "./downloads"
`
	if _, err := ParseClientConfig([]byte(yamlConfig)); err == nil {
		t.Fatal("expected validation error for invalid transport")
	}
}

func TestParseClientConfig_RejectsNegativeRateLimit(t *testing.T) {
	yamlConfig := `
relay:
  address: "relay.example.com:13265"
  transport: tcp
download_root: "./downloads"
rate_limit:
  bytes_per_second: -1
`
	if _, err := ParseClientConfig([]byte(yamlConfig)); err == nil {
		t.Fatal("expected validation error for negative rate limit")
	}
}

func TestLoadClientConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	content := "relay:\n  address: \"127.0.0.1:13265\"\n  transport: tcp\ndownload_root: \"./downloads\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Relay.Address != "127.0.0.1:13265" {
		t.Errorf("Relay.Address = %s", cfg.Relay.Address)
	}
}

func TestParseRelayConfig_ValidConfig(t *testing.T) {
	yamlConfig := `
listeners:
  - transport: tcp
    address: ":13265"
  - transport: ws
    address: ":8443"
    path: "/portal"
pairing_timeout: 30s
idle_timeout: 2m
metrics_address: ":9090"
`
	cfg, err := ParseRelayConfig([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("ParseRelayConfig: %v", err)
	}
	if len(cfg.Listeners) != 2 {
		t.Fatalf("expected 2 listeners, got %d", len(cfg.Listeners))
	}
	if cfg.PairingTimeout.Seconds() != 30 {
		t.Errorf("PairingTimeout = %v, want 30s", cfg.PairingTimeout)
	}
	if cfg.MetricsAddress != ":9090" {
		t.Errorf("MetricsAddress = %s", cfg.MetricsAddress)
	}
}

func TestParseRelayConfig_RejectsNoListeners(t *testing.T) {
	yamlConfig := `listeners: []`
	if _, err := ParseRelayConfig([]byte(yamlConfig)); err == nil {
		t.Fatal("expected validation error for empty listeners")
	}
}

func TestParseRelayConfig_RejectsInvalidLogLevel(t *testing.T) {
	yamlConfig := `
listeners:
  - transport: tcp
    address: ":13265"
log_level: verbose
`
	if _, err := ParseRelayConfig([]byte(yamlConfig)); err == nil {
		t.Fatal("expected validation error for invalid log_level")
	}
}

func TestRelayConfig_RedactedIsIndependentCopy(t *testing.T) {
	cfg := DefaultRelayConfig()
	redacted := cfg.Redacted()
	redacted.Listeners[0].Address = "mutated"
	if cfg.Listeners[0].Address == "mutated" {
		t.Fatal("Redacted() must not alias the original listener slice")
	}
}
