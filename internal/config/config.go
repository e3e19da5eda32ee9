// Package config provides configuration parsing and validation for Portal's
// two binaries: the client (portal send/recv) and the relay broker.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the collaborator-facing configuration loaded by the
// portal CLI: at minimum the relay host:port and the download root.
type ClientConfig struct {
	Relay        RelayEndpointConfig `yaml:"relay"`
	DownloadRoot string              `yaml:"download_root"`
	Overwrite    bool                `yaml:"overwrite"`
	RateLimit    RateLimitConfig     `yaml:"rate_limit"`
	LogLevel     string              `yaml:"log_level"`
	LogFormat    string              `yaml:"log_format"`
}

// RelayEndpointConfig is the client's view of which relay to dial and how.
type RelayEndpointConfig struct {
	Address   string    `yaml:"address"`   // host:port; for ws the URL ws(s)://<address>/portal is built from it
	Transport string    `yaml:"transport"` // tcp, ws, quic
	TLS       TLSConfig `yaml:"tls"`
}

// RateLimitConfig caps transfer throughput; zero means unlimited.
type RateLimitConfig struct {
	BytesPerSecond int64 `yaml:"bytes_per_second"`
}

// TLSConfig configures the client's TLS posture when dialing a ws/quic
// relay. No client certificate fields are needed: the channel ID and
// password, not a certificate, authenticate the Sender/Receiver pair to
// each other end to end.
type TLSConfig struct {
	CA                 string `yaml:"ca"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// DefaultClientConfig returns the client's baseline configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Relay: RelayEndpointConfig{
			Address:   "127.0.0.1:13265",
			Transport: "tcp",
		},
		DownloadRoot: "./downloads",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// LoadClientConfig reads and parses a client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client config: %w", err)
	}
	return ParseClientConfig(data)
}

// ParseClientConfig parses client configuration from YAML bytes, expanding
// ${VAR} / $VAR references against the environment first.
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the client configuration for errors.
func (c *ClientConfig) Validate() error {
	var errs []string

	if c.Relay.Address == "" {
		errs = append(errs, "relay.address is required")
	}
	if !isValidTransport(c.Relay.Transport) {
		errs = append(errs, fmt.Sprintf("invalid relay.transport: %s (must be tcp, ws, or quic)", c.Relay.Transport))
	}
	if c.DownloadRoot == "" {
		errs = append(errs, "download_root is required")
	}
	if c.RateLimit.BytesPerSecond < 0 {
		errs = append(errs, "rate_limit.bytes_per_second must not be negative")
	}
	if !isValidLogLevel(c.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}
	if !isValidLogFormat(c.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy of the config safe to log: TLS CA paths are kept
// (not secret) but reserved for parity with RelayConfig.Redacted should a
// client-side secret ever be added here.
func (c *ClientConfig) Redacted() *ClientConfig {
	cp := *c
	return &cp
}

// String renders the redacted configuration as YAML, for logging at
// startup.
func (c *ClientConfig) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// RelayConfig is the configuration loaded by the relay broker binary.
type RelayConfig struct {
	Listeners         []RelayListenerConfig `yaml:"listeners"`
	PairingTimeout    time.Duration         `yaml:"pairing_timeout"`
	IdleTimeout       time.Duration         `yaml:"idle_timeout"`
	MaxHandshakeBytes uint64                `yaml:"max_handshake_bytes"`
	ForwardBufferSize int                   `yaml:"forward_buffer_size"`
	MetricsAddress    string                `yaml:"metrics_address"`
	LogLevel          string                `yaml:"log_level"`
	LogFormat         string                `yaml:"log_format"`
}

// RelayListenerConfig describes one transport the relay accepts connections
// on; a relay may expose several simultaneously (e.g. plain TCP plus a
// WebSocket fallback for restrictive networks).
type RelayListenerConfig struct {
	Transport string    `yaml:"transport"` // tcp, ws, quic
	Address   string    `yaml:"address"`
	Path      string    `yaml:"path"` // ws only; defaults to /portal
	TLS       TLSConfig `yaml:"tls"`
}

// DefaultRelayConfig returns the relay's baseline configuration: a single
// plaintext TCP listener on the default port.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		Listeners: []RelayListenerConfig{
			{Transport: "tcp", Address: ":13265"},
		},
		PairingTimeout:    60 * time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxHandshakeBytes: 4096,
		ForwardBufferSize: 64 * 1024,
		MetricsAddress:    "",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// LoadRelayConfig reads and parses a relay configuration file.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read relay config: %w", err)
	}
	return ParseRelayConfig(data)
}

// ParseRelayConfig parses relay configuration from YAML bytes.
func ParseRelayConfig(data []byte) (*RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse relay config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("relay config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the relay configuration for errors.
func (c *RelayConfig) Validate() error {
	var errs []string

	if len(c.Listeners) == 0 {
		errs = append(errs, "at least one listener is required")
	}
	for i, l := range c.Listeners {
		if !isValidTransport(l.Transport) {
			errs = append(errs, fmt.Sprintf("listeners[%d]: invalid transport %q (must be tcp, ws, or quic)", i, l.Transport))
		}
		if l.Address == "" {
			errs = append(errs, fmt.Sprintf("listeners[%d]: address is required", i))
		}
	}
	if c.PairingTimeout <= 0 {
		errs = append(errs, "pairing_timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if c.MaxHandshakeBytes == 0 {
		errs = append(errs, "max_handshake_bytes must be positive")
	}
	if c.ForwardBufferSize <= 0 {
		errs = append(errs, "forward_buffer_size must be positive")
	}
	if !isValidLogLevel(c.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}
	if !isValidLogFormat(c.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy of the config safe to log.
func (c *RelayConfig) Redacted() *RelayConfig {
	cp := *c
	cp.Listeners = append([]RelayListenerConfig(nil), c.Listeners...)
	return &cp
}

// String renders the redacted configuration as YAML.
func (c *RelayConfig) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidTransport(transport string) bool {
	switch transport {
	case "tcp", "ws", "quic":
		return true
	default:
		return false
	}
}

// envVarRegex matches ${VAR} or $VAR patterns, including ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values, leaving unresolved references as-is.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
