package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-portal/portal/internal/logging"
	"github.com/go-portal/portal/internal/recovery"
	"github.com/go-portal/portal/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for BrokerConfig.
const (
	DefaultPairingTimeout    = 60 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultMaxHandshakeBytes = 4096
	DefaultForwardBufferSize = 64 * 1024
)

// Error codes carried in Error records the relay sends back to a peer
// before disconnecting it.
const (
	ErrCodeProtocol  uint16 = 1
	ErrCodeDuplicate uint16 = 2
	ErrCodeTimeout   uint16 = 3
)

var errDuplicateRole = errors.New("relay: role already pending for this channel")

// BrokerConfig configures the pairing and forwarding broker.
type BrokerConfig struct {
	// PairingTimeout bounds how long a lone peer waits for a counter-party.
	PairingTimeout time.Duration

	// IdleTimeout closes a paired session after this long without bytes in
	// either direction.
	IdleTimeout time.Duration

	// MaxHandshakeBytes caps the Init record's wire length; larger records
	// are rejected before any allocation.
	MaxHandshakeBytes uint64

	// ForwardBufferSize is the per-direction copy buffer size once a
	// session is paired, bounding memory per session.
	ForwardBufferSize int

	Logger  *slog.Logger
	Metrics *Metrics
}

func (c BrokerConfig) withDefaults() BrokerConfig {
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = DefaultPairingTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxHandshakeBytes == 0 {
		c.MaxHandshakeBytes = DefaultMaxHandshakeBytes
	}
	if c.ForwardBufferSize <= 0 {
		c.ForwardBufferSize = DefaultForwardBufferSize
	}
	if c.Logger == nil {
		c.Logger = logging.NopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	return c
}

// pairResult is delivered exactly once to a parked pendingPeer: either it
// found a counter-party (peerConn/peerMsg set, sessionDone non-nil) or it
// timed out waiting (timedOut true).
type pairResult struct {
	peerConn    net.Conn
	peerMsg     []byte
	sessionDone chan struct{}
	timedOut    bool
}

// pendingPeer is one endpoint parked in the channel table, waiting for its
// counter-party's Init to arrive.
type pendingPeer struct {
	conn    net.Conn
	pakeMsg []byte
	result  chan pairResult
	timer   *time.Timer
}

// channelSlots holds at most one pending Sender and one pending Receiver for
// a given channel ID.
type channelSlots struct {
	peers [2]*pendingPeer // index 0 = sender, 1 = receiver
}

// Broker pairs Sender/Receiver endpoints by channel ID, keyed on the
// channel's human-shareable ID, then forwards opaque bytes between them.
//
// One goroutine runs per accepted connection, synchronized through a
// mutex-protected pairing table. Whichever connection completes the
// pairing (the second of the two to arrive) owns the forwarding loop for
// the whole session; the first connection's goroutine parks until that
// loop exits.
type Broker struct {
	cfg BrokerConfig

	mu       sync.Mutex
	channels map[string]*channelSlots
}

// NewBroker constructs a Broker. Zero-value fields in cfg take their
// documented defaults.
func NewBroker(cfg BrokerConfig) *Broker {
	return &Broker{
		cfg:      cfg.withDefaults(),
		channels: make(map[string]*channelSlots),
	}
}

func directionIndex(d uint8) int {
	if d == 0 {
		return 0
	}
	return 1
}

// HandleConn drives one accepted connection through handshake-accumulate,
// pairing, and (if it becomes the pairing connection) forwarding. It blocks
// until the connection's session has fully ended, then closes conn.
func (b *Broker) HandleConn(conn net.Conn) {
	defer recovery.RecoverWithCallback(b.cfg.Logger, "relay.Broker.HandleConn", func(any) {
		b.cfg.Metrics.PanicsRecovered.Inc()
	})
	defer conn.Close()

	b.cfg.Metrics.ConnectionsTotal.Inc()

	if b.cfg.PairingTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(b.cfg.PairingTimeout))
	}
	r := wire.NewReader(conn, b.cfg.MaxHandshakeBytes)
	rec, err := r.ReadRecord()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		b.cfg.Logger.Debug("relay handshake read failed", logging.KeyError, err)
		return
	}
	if rec.Type != wire.TypeInit {
		b.cfg.Metrics.ProtocolErrors.Inc()
		b.sendError(conn, ErrCodeProtocol, "expected Init record")
		return
	}

	res, me, err := b.pairOrPark(rec.ChannelID, directionIndex(rec.Direction), conn, rec.PakeMsg)
	if err != nil {
		b.cfg.Metrics.DuplicateRejected.Inc()
		b.sendError(conn, ErrCodeDuplicate, err.Error())
		return
	}

	if me != nil {
		// Parked: block until paired or evicted by timeout.
		res = <-me.result
		if res.timedOut {
			b.cfg.Metrics.PairingTimeouts.Inc()
			b.sendError(conn, ErrCodeTimeout, "no counter-party joined before timeout")
			return
		}
		// The pairing connection already wrote our InitAck and is driving
		// the forward loop; just wait for the session to end.
		<-res.sessionDone
		return
	}

	// This connection completed the pair: write InitAck to both sides and
	// own the forwarding loop. res.sessionDone is the channel already
	// handed to the parked peer's pairResult; closing it here is what
	// wakes that peer's goroutine once forwarding ends.
	sessionDone := res.sessionDone
	w := wire.NewWriter(conn)
	peerW := wire.NewWriter(res.peerConn)

	if err := peerW.WriteRecord(&wire.Record{Type: wire.TypeInitAck, PeerPakeMsg: rec.PakeMsg}); err != nil {
		close(sessionDone)
		res.peerConn.Close()
		return
	}
	if err := w.WriteRecord(&wire.Record{Type: wire.TypeInitAck, PeerPakeMsg: res.peerMsg}); err != nil {
		close(sessionDone)
		res.peerConn.Close()
		return
	}

	b.cfg.Metrics.SessionsPaired.Inc()
	b.cfg.Metrics.SessionsActive.Inc()
	b.forward(conn, res.peerConn)
	b.cfg.Metrics.SessionsActive.Dec()
	close(sessionDone)
}

// pairOrPark registers conn as the given role for channelID. If a
// counter-party is already parked, it is popped, its timer stopped, and a
// pairResult describing it is returned immediately (me is nil). Otherwise
// conn is parked as a new pendingPeer (res is the zero value) and me is
// returned so the caller can block on me.result.
func (b *Broker) pairOrPark(channelID string, idx int, conn net.Conn, pakeMsg []byte) (pairResult, *pendingPeer, error) {
	b.mu.Lock()

	slots, ok := b.channels[channelID]
	if !ok {
		slots = &channelSlots{}
		b.channels[channelID] = slots
	}

	if slots.peers[idx] != nil {
		b.mu.Unlock()
		return pairResult{}, nil, errDuplicateRole
	}

	opposite := 1 - idx
	if peer := slots.peers[opposite]; peer != nil {
		slots.peers[opposite] = nil
		b.deleteIfEmpty(channelID, slots)
		b.mu.Unlock()

		b.cfg.Metrics.PendingPeers.Dec()
		peer.timer.Stop()
		sessionDone := make(chan struct{})
		peer.result <- pairResult{peerConn: conn, peerMsg: pakeMsg, sessionDone: sessionDone}
		return pairResult{peerConn: peer.conn, peerMsg: peer.pakeMsg, sessionDone: sessionDone}, nil, nil
	}

	me := &pendingPeer{conn: conn, pakeMsg: pakeMsg, result: make(chan pairResult, 1)}
	slots.peers[idx] = me
	b.cfg.Metrics.PendingPeers.Inc()
	me.timer = time.AfterFunc(b.cfg.PairingTimeout, func() { b.evict(channelID, idx, me) })
	b.mu.Unlock()

	return pairResult{}, me, nil
}

// evict removes me from its slot if it is still parked there (it may
// already have been paired, in which case this is a no-op) and wakes it
// with a timed-out result.
func (b *Broker) evict(channelID string, idx int, me *pendingPeer) {
	b.mu.Lock()
	slots, ok := b.channels[channelID]
	if !ok || slots.peers[idx] != me {
		b.mu.Unlock()
		return
	}
	slots.peers[idx] = nil
	b.deleteIfEmpty(channelID, slots)
	b.mu.Unlock()

	b.cfg.Metrics.PendingPeers.Dec()
	me.result <- pairResult{timedOut: true}
}

// deleteIfEmpty removes channelID's table entry once both slots are empty.
// Caller must hold b.mu.
func (b *Broker) deleteIfEmpty(channelID string, slots *channelSlots) {
	if slots.peers[0] == nil && slots.peers[1] == nil {
		delete(b.channels, channelID)
	}
}

func (b *Broker) sendError(conn net.Conn, code uint16, message string) {
	w := wire.NewWriter(conn)
	_ = w.WriteRecord(&wire.Record{Type: wire.TypeError, Code: code, Message: message})
}

// halfCloser is implemented by connections that support TCP half-close.
type halfCloser interface {
	CloseWrite() error
}

// forward copies bytes bidirectionally between a and peer until both
// directions have reached EOF or an error, honoring the configured idle
// timeout on each side's reads. Once a side reaches EOF it signals
// half-close to its partner rather than tearing down the whole session
// immediately, so any bytes still in flight the other way can flush before
// both sockets close.
func (b *Broker) forward(a, peer net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go b.copySide(&wg, peer, a)
	go b.copySide(&wg, a, peer)
	wg.Wait()
	a.Close()
	peer.Close()
}

// copySide copies from src to dst until src errors or returns EOF, applying
// the idle-timeout read deadline per iteration so a session with no traffic
// in either direction for longer than IdleTimeout is torn down.
func (b *Broker) copySide(wg *sync.WaitGroup, dst, src net.Conn) {
	defer wg.Done()
	defer recovery.RecoverWithLog(b.cfg.Logger, "relay.Broker.copySide")

	buf := make([]byte, b.cfg.ForwardBufferSize)
	for {
		if b.cfg.IdleTimeout > 0 {
			src.SetReadDeadline(time.Now().Add(b.cfg.IdleTimeout))
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
			b.cfg.Metrics.BytesForwarded.Add(float64(n))
		}
		if err != nil {
			if hc, ok := dst.(halfCloser); ok {
				hc.CloseWrite()
			}
			return
		}
	}
}
