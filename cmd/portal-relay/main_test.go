package main

import (
	"testing"

	"github.com/go-portal/portal/internal/config"
)

func TestTLSConfigForEmptyCA(t *testing.T) {
	lc := config.RelayListenerConfig{Transport: "ws", Address: ":0"}
	if got := tlsConfigFor(lc); got != nil {
		t.Errorf("tlsConfigFor(no CA) = %v, want nil", got)
	}
}

func TestTLSConfigForMissingFile(t *testing.T) {
	lc := config.RelayListenerConfig{Transport: "ws", Address: ":0"}
	lc.TLS.CA = "/nonexistent/cert.pem"
	if got := tlsConfigFor(lc); got != nil {
		t.Errorf("tlsConfigFor(missing file) = %v, want nil", got)
	}
}

func TestLoadRelayConfigDefault(t *testing.T) {
	cfg, err := loadRelayConfig("")
	if err != nil {
		t.Fatalf("loadRelayConfig(\"\"): %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil default config")
	}
}

func TestStartListenersUnsupportedTransport(t *testing.T) {
	_, err := startListeners([]config.RelayListenerConfig{{Transport: "carrier-pigeon", Address: ":0"}})
	if err == nil {
		t.Error("expected an error for an unsupported transport")
	}
}

func TestStartListenersQUICRequiresTLS(t *testing.T) {
	_, err := startListeners([]config.RelayListenerConfig{{Transport: "quic", Address: ":0"}})
	if err == nil {
		t.Error("expected an error when quic listener has no TLS material")
	}
}
