package main

import (
	"testing"

	"github.com/go-portal/portal/internal/config"
)

func TestClientTLSConfigNoCA(t *testing.T) {
	tlsConf := clientTLSConfig(config.TLSConfig{})
	if tlsConf.RootCAs != nil {
		t.Error("expected nil RootCAs when no CA path is set")
	}
	if tlsConf.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify to default false")
	}
}

func TestClientTLSConfigMissingCAFile(t *testing.T) {
	tlsConf := clientTLSConfig(config.TLSConfig{CA: "/nonexistent/ca.pem"})
	if tlsConf.RootCAs != nil {
		t.Error("expected nil RootCAs when the CA file can't be read")
	}
}

func TestLoadCAPoolMissingFile(t *testing.T) {
	if _, err := loadCAPool("/nonexistent/ca.pem"); err == nil {
		t.Error("expected an error for a missing CA file")
	}
}

func TestDialRelayUnsupportedTransport(t *testing.T) {
	_, err := dialRelay(nil, config.RelayEndpointConfig{Transport: "carrier-pigeon"})
	if err == nil {
		t.Error("expected an error for an unsupported transport")
	}
}
