package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-portal/portal/internal/config"
	"github.com/go-portal/portal/internal/relay"
	"github.com/quic-go/quic-go"
	"nhooyr.io/websocket"
)

// dialRelay connects to the relay endpoint described by cfg, returning a
// net.Conn regardless of transport. Mirrors relay.Listener's role on the
// server side: the client only needs one byte-stream per transport, so the
// per-transport adapters collapse to this single function rather than a
// client-side Dialer interface hierarchy.
func dialRelay(ctx context.Context, cfg config.RelayEndpointConfig) (net.Conn, error) {
	switch cfg.Transport {
	case "", "tcp":
		d := net.Dialer{Timeout: 15 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("dial relay at %s: %w", cfg.Address, err)
		}
		return conn, nil

	case "ws":
		url := "ws://" + cfg.Address + "/portal"
		var tlsConf *tls.Config
		if cfg.TLS.CA != "" || cfg.TLS.InsecureSkipVerify {
			url = "wss://" + cfg.Address + "/portal"
			tlsConf = clientTLSConfig(cfg.TLS)
		}
		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPClient: &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConf}},
		})
		if err != nil {
			return nil, fmt.Errorf("dial relay websocket at %s: %w", url, err)
		}
		return websocket.NetConn(ctx, c, websocket.MessageBinary), nil

	case "quic":
		tlsConf := clientTLSConfig(cfg.TLS)
		if len(tlsConf.NextProtos) == 0 {
			tlsConf.NextProtos = []string{relay.ALPNProtocol}
		}
		qconn, err := quic.DialAddr(ctx, cfg.Address, tlsConf, nil)
		if err != nil {
			return nil, fmt.Errorf("dial relay quic at %s: %w", cfg.Address, err)
		}
		stream, err := qconn.OpenStreamSync(ctx)
		if err != nil {
			return nil, fmt.Errorf("open quic stream to %s: %w", cfg.Address, err)
		}
		return quicClientConn{conn: qconn, stream: stream}, nil

	default:
		return nil, fmt.Errorf("unsupported relay transport %q", cfg.Transport)
	}
}

func loadCAPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

func clientTLSConfig(cfg config.TLSConfig) *tls.Config {
	tlsConf := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CA != "" {
		pool, err := loadCAPool(cfg.CA)
		if err == nil {
			tlsConf.RootCAs = pool
		}
	}
	return tlsConf
}

// quicClientConn adapts a client-dialed QUIC stream to net.Conn, mirroring
// internal/relay's quicConn on the server side.
type quicClientConn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c quicClientConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c quicClientConn) Write(p []byte) (int, error) { return c.stream.Write(p) }
func (c quicClientConn) Close() error {
	c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}
func (c quicClientConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c quicClientConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c quicClientConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}
func (c quicClientConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c quicClientConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }
func (c quicClientConn) CloseWrite() error                  { return c.stream.Close() }
