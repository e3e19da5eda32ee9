// Package main is the entry point for portal-relay, the untrusted pairing
// broker: a single long-running serve command with signal-driven shutdown
// and no remote-operations surface beyond the service itself.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-portal/portal/internal/config"
	"github.com/go-portal/portal/internal/logging"
	"github.com/go-portal/portal/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "portal-relay",
		Short:   "Portal relay - untrusted pairing broker for Portal clients",
		Version: version,
		Long: `portal-relay matches a Sender and a Receiver by channel ID and, once
paired, forwards opaque bytes between their sockets. It never observes
plaintext, the PAKE password, or the derived session key.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to relay config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "portal-relay:", err)
		os.Exit(1)
	}
}

func runRelay(configPath string) error {
	cfg, err := loadRelayConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	reg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(reg)

	broker := relay.NewBroker(relay.BrokerConfig{
		PairingTimeout:    cfg.PairingTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHandshakeBytes: cfg.MaxHandshakeBytes,
		ForwardBufferSize: cfg.ForwardBufferSize,
		Logger:            logger,
		Metrics:           metrics,
	})

	listeners, err := startListeners(cfg.Listeners)
	if err != nil {
		return err
	}
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()

	for _, ln := range listeners {
		ln := ln
		go func() {
			logger.Info("relay listening", logging.KeyAddress, ln.Addr().String())
			if err := relay.Serve(ln, broker); err != nil {
				logger.Info("relay listener stopped", logging.KeyAddress, ln.Addr().String(), logging.KeyError, err)
			}
		}()
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			logger.Info("metrics listening", logging.KeyAddress, cfg.MetricsAddress)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", logging.KeyError, err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}
	return nil
}

func loadRelayConfig(path string) (*config.RelayConfig, error) {
	if path == "" {
		return config.DefaultRelayConfig(), nil
	}
	return config.LoadRelayConfig(path)
}

// startListeners constructs one relay.Listener per configured entry,
// closing any already-started listeners if a later one fails to bind.
func startListeners(cfgs []config.RelayListenerConfig) ([]relay.Listener, error) {
	listeners := make([]relay.Listener, 0, len(cfgs))

	cleanup := func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}

	for _, lc := range cfgs {
		var (
			ln  relay.Listener
			err error
		)
		switch lc.Transport {
		case "", "tcp":
			ln, err = relay.ListenTCP(lc.Address)
		case "ws":
			ln, err = relay.ListenWS(relay.WSListenerConfig{
				Address:   lc.Address,
				Path:      lc.Path,
				TLSConfig: tlsConfigFor(lc),
			})
		case "quic":
			tlsConf := tlsConfigFor(lc)
			if tlsConf == nil {
				err = fmt.Errorf("listeners: quic transport on %s requires tls.ca or a certificate", lc.Address)
				break
			}
			ln, err = relay.ListenQUIC(relay.QUICListenerConfig{Address: lc.Address, TLSConfig: tlsConf})
		default:
			err = fmt.Errorf("listeners: unsupported transport %q", lc.Transport)
		}
		if err != nil {
			cleanup()
			return nil, err
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

// tlsConfigFor builds a server TLS config from a listener's CA field when
// set; the relay's own listeners need a certificate, not a trust root, so
// this expects the operator to have deployed a certificate-bearing
// tls.Config out of band in production (e.g. via ACME) — this minimal
// loader exists for the cfg.TLS.CA-as-combined-PEM development path.
func tlsConfigFor(lc config.RelayListenerConfig) *tls.Config {
	if lc.TLS.CA == "" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(lc.TLS.CA, lc.TLS.CA)
	if err != nil {
		return nil
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}
