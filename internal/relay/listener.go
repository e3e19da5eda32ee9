package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"nhooyr.io/websocket"
)

// Listener is a transport-agnostic source of connections for the broker. A
// Broker doesn't care whether a connection arrived over TCP, WebSocket, or
// QUIC — it only needs a net.Conn carrying the Init/InitAck handshake and,
// after that, opaque bytes. The relay pairs whole connections, never
// virtual streams within one, so a single net.Conn per accepted peer is
// all any transport needs to provide.
type Listener interface {
	// Accept blocks for the next connection. It returns an error once the
	// listener is closed.
	Accept() (net.Conn, error)

	// Addr returns the listener's bound address.
	Addr() net.Addr

	// Close stops accepting new connections.
	Close() error
}

// TCPListener is the default relay transport: a plain TCP socket.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds addr (e.g. ":13265") and returns a ready-to-accept
// TCPListener.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: tcp listen on %s: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept() (net.Conn, error) { return l.ln.Accept() }
func (l *TCPListener) Addr() net.Addr            { return l.ln.Addr() }
func (l *TCPListener) Close() error              { return l.ln.Close() }

// WSListener exposes the relay over a WebSocket endpoint, for operators
// whose network only permits outbound HTTPS. Each accepted upgrade is
// wrapped into a net.Conn via nhooyr.io/websocket's NetConn adapter, since
// the relay only ever needs one byte-stream per connection rather than a
// multiplexed set of virtual streams.
type WSListener struct {
	path    string
	tlsConf *tls.Config
	server  *http.Server
	netLn   net.Listener
	connCh  chan net.Conn
	closeCh chan struct{}
}

// WSListenerConfig configures a WSListener.
type WSListenerConfig struct {
	Address   string
	Path      string // defaults to "/portal"
	TLSConfig *tls.Config
}

// ListenWS starts an HTTP(S) server that upgrades requests on cfg.Path to
// WebSocket connections and surfaces them through Accept.
func ListenWS(cfg WSListenerConfig) (*WSListener, error) {
	path := cfg.Path
	if path == "" {
		path = "/portal"
	}

	l := &WSListener{
		path:    path,
		tlsConf: cfg.TLSConfig,
		connCh:  make(chan net.Conn, 16),
		closeCh: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{Addr: cfg.Address, Handler: mux, TLSConfig: cfg.TLSConfig}

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("relay: ws listen on %s: %w", cfg.Address, err)
	}
	l.netLn = ln

	go func() {
		if cfg.TLSConfig != nil {
			_ = l.server.ServeTLS(ln, "", "")
		} else {
			_ = l.server.Serve(ln)
		}
	}()

	return l, nil
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.closeCh:
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	netConn := websocket.NetConn(context.Background(), conn, websocket.MessageBinary)

	select {
	case l.connCh <- netConn:
	case <-l.closeCh:
		conn.Close(websocket.StatusGoingAway, "relay shutting down")
	}
}

func (l *WSListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.closeCh:
		return nil, errors.New("relay: ws listener closed")
	}
}

func (l *WSListener) Addr() net.Addr {
	if l.netLn != nil {
		return l.netLn.Addr()
	}
	return nil
}

func (l *WSListener) Close() error {
	select {
	case <-l.closeCh:
		return nil
	default:
		close(l.closeCh)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// QUICListener exposes the relay over QUIC. Every connection carries
// exactly one bidirectional stream (the relay has no use for QUIC's
// multiplexing); that single stream is wrapped into a net.Conn-shaped
// value and handed to Accept.
type QUICListener struct {
	ln *quic.Listener
}

// QUICListenerConfig configures a QUICListener.
type QUICListenerConfig struct {
	Address   string
	TLSConfig *tls.Config // required; QUIC has no plaintext mode
}

// ALPNProtocol is the NextProto value the relay's QUIC listener and client
// negotiate.
const ALPNProtocol = "portal-relay/1"

// ListenQUIC starts a QUIC listener on cfg.Address.
func ListenQUIC(cfg QUICListenerConfig) (*QUICListener, error) {
	if cfg.TLSConfig == nil {
		return nil, errors.New("relay: QUIC listener requires a TLS config")
	}
	tlsConf := cfg.TLSConfig.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPNProtocol}
	}

	quicConf := &quic.Config{
		MaxIdleTimeout:  90 * time.Second,
		KeepAlivePeriod: 30 * time.Second,
	}

	ln, err := quic.ListenAddr(cfg.Address, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("relay: quic listen on %s: %w", cfg.Address, err)
	}
	return &QUICListener{ln: ln}, nil
}

func (l *QUICListener) Accept() (net.Conn, error) {
	ctx := context.Background()
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream accept failed")
		return nil, err
	}
	return &quicConn{conn: conn, stream: stream}, nil
}

func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }
func (l *QUICListener) Close() error   { return l.ln.Close() }

// quicConn adapts a QUIC connection's single stream to net.Conn.
type quicConn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c *quicConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *quicConn) Write(p []byte) (int, error) { return c.stream.Write(p) }
func (c *quicConn) Close() error {
	c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}
func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *quicConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}
func (c *quicConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *quicConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

// CloseWrite implements the broker's halfCloser interface over a QUIC
// stream, used for teardown propagation during forwarding.
func (c *quicConn) CloseWrite() error { return c.stream.Close() }

// Serve runs ln's accept loop, dispatching each connection to broker until
// ln is closed.
func Serve(ln Listener, broker *Broker) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go broker.HandleConn(conn)
	}
}
