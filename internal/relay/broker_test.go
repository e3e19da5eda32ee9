package relay

import (
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// TestMain verifies that no pairing or forwarding goroutine outlives the
// test that spawned it, across the whole package's test run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testBroker(t *testing.T, cfg BrokerConfig) (net.Addr, func()) {
	t.Helper()
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	b := NewBroker(cfg)
	go func() {
		_ = Serve(ln, b)
	}()
	return ln.Addr(), func() { ln.Close() }
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func writeRecord(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	var lenBuf [8]byte
	for i := range lenBuf {
		lenBuf[i] = byte(len(payload) >> (8 * i))
	}
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatalf("write length: %v", err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func readRecord(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [8]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		t.Fatalf("read length: %v", err)
	}
	var n int
	for i := range lenBuf {
		n |= int(lenBuf[i]) << (8 * i)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return buf
}

// initPayload builds a minimal Init record payload by hand, independent of
// the wire package, so these tests exercise the broker's own parsing
// rather than assuming wire.Record.Encode is correct.
func initPayload(channelID string, direction uint8, pakeMsg []byte) []byte {
	buf := []byte{0} // TypeInit
	putLenStr := func(s string) {
		var l [8]byte
		for i := range l {
			l[i] = byte(len(s) >> (8 * i))
		}
		buf = append(buf, l[:]...)
		buf = append(buf, s...)
	}
	putLenBytes := func(b []byte) {
		var l [8]byte
		for i := range l {
			l[i] = byte(len(b) >> (8 * i))
		}
		buf = append(buf, l[:]...)
		buf = append(buf, b...)
	}
	putLenStr(channelID)
	buf = append(buf, direction)
	putLenBytes(pakeMsg)
	return buf
}

func TestBroker_PairsSenderAndReceiver(t *testing.T) {
	addr, closeFn := testBroker(t, BrokerConfig{})
	defer closeFn()

	ln := addr
	sender := dial(t, ln)
	defer sender.Close()
	receiver := dial(t, ln)
	defer receiver.Close()

	writeRecord(t, sender, initPayload("channel-1", 0, []byte("sender-pake")))
	writeRecord(t, receiver, initPayload("channel-1", 1, []byte("receiver-pake")))

	senderAck := readRecord(t, sender)
	receiverAck := readRecord(t, receiver)

	if senderAck[0] != 1 { // TypeInitAck
		t.Fatalf("sender expected InitAck, got type %d", senderAck[0])
	}
	if receiverAck[0] != 1 {
		t.Fatalf("receiver expected InitAck, got type %d", receiverAck[0])
	}

	if got := extractBytesField(senderAck[1:]); string(got) != "receiver-pake" {
		t.Fatalf("sender's InitAck carries %q, want %q", got, "receiver-pake")
	}
	if got := extractBytesField(receiverAck[1:]); string(got) != "sender-pake" {
		t.Fatalf("receiver's InitAck carries %q, want %q", got, "sender-pake")
	}
}

func extractBytesField(b []byte) []byte {
	if len(b) < 8 {
		return nil
	}
	var n int
	for i := 0; i < 8; i++ {
		n |= int(b[i]) << (8 * i)
	}
	b = b[8:]
	if len(b) < n {
		return nil
	}
	return b[:n]
}

func TestBroker_ForwardsBytesAfterPairing(t *testing.T) {
	addr, closeFn := testBroker(t, BrokerConfig{})
	defer closeFn()

	ln := addr
	sender := dial(t, ln)
	defer sender.Close()
	receiver := dial(t, ln)
	defer receiver.Close()

	writeRecord(t, sender, initPayload("channel-2", 0, []byte("a")))
	writeRecord(t, receiver, initPayload("channel-2", 1, []byte("b")))
	readRecord(t, sender)
	readRecord(t, receiver)

	payload := []byte("opaque bytes after InitAck")
	if _, err := sender.Write(payload); err != nil {
		t.Fatalf("sender write: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(receiver, got); err != nil {
		t.Fatalf("receiver read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("forwarded payload = %q, want %q", got, payload)
	}

	reply := []byte("reply bytes")
	if _, err := receiver.Write(reply); err != nil {
		t.Fatalf("receiver write: %v", err)
	}
	got2 := make([]byte, len(reply))
	if _, err := io.ReadFull(sender, got2); err != nil {
		t.Fatalf("sender read: %v", err)
	}
	if string(got2) != string(reply) {
		t.Fatalf("forwarded reply = %q, want %q", got2, reply)
	}
}

func TestBroker_DuplicateRoleRejected(t *testing.T) {
	addr, closeFn := testBroker(t, BrokerConfig{})
	defer closeFn()

	ln := addr
	first := dial(t, ln)
	defer first.Close()
	writeRecord(t, first, initPayload("channel-3", 0, []byte("first")))

	second := dial(t, ln)
	defer second.Close()
	writeRecord(t, second, initPayload("channel-3", 0, []byte("second")))

	rec := readRecord(t, second)
	if rec[0] != 8 { // TypeError
		t.Fatalf("expected Error record for duplicate role, got type %d", rec[0])
	}

	// The original pending sender must still be waiting, unaffected by the
	// rejected duplicate; pairing it with a receiver now should still work.
	receiver := dial(t, ln)
	defer receiver.Close()
	writeRecord(t, receiver, initPayload("channel-3", 1, []byte("receiver")))

	firstAck := readRecord(t, first)
	if firstAck[0] != 1 {
		t.Fatalf("original pending sender expected InitAck, got type %d", firstAck[0])
	}
}

func TestBroker_ForwardingGoroutinesExitAfterTeardown(t *testing.T) {
	defer goleak.VerifyNone(t)

	addr, closeFn := testBroker(t, BrokerConfig{})
	defer closeFn()

	ln := addr
	sender := dial(t, ln)
	receiver := dial(t, ln)

	writeRecord(t, sender, initPayload("channel-leak", 0, []byte("a")))
	writeRecord(t, receiver, initPayload("channel-leak", 1, []byte("b")))
	readRecord(t, sender)
	readRecord(t, receiver)

	if _, err := sender.Write([]byte("ping")); err != nil {
		t.Fatalf("sender write: %v", err)
	}
	got := make([]byte, 4)
	if _, err := io.ReadFull(receiver, got); err != nil {
		t.Fatalf("receiver read: %v", err)
	}

	sender.Close()
	receiver.Close()
	closeFn()

	// Give the accept loop and the two copySide goroutines time to observe
	// the closed connections and return before asserting no leak.
	time.Sleep(100 * time.Millisecond)
}

func TestBroker_PairingTimeoutDisconnectsLonePeer(t *testing.T) {
	addr, closeFn := testBroker(t, BrokerConfig{PairingTimeout: 50 * time.Millisecond})
	defer closeFn()

	ln := addr
	lone := dial(t, ln)
	defer lone.Close()
	writeRecord(t, lone, initPayload("channel-4", 0, []byte("lonely")))

	lone.SetReadDeadline(time.Now().Add(2 * time.Second))
	rec := readRecord(t, lone)
	if rec[0] != 8 {
		t.Fatalf("expected Error record on pairing timeout, got type %d", rec[0])
	}
}

