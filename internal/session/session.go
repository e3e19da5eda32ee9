// Package session derives Portal's per-session key material from a PAKE
// output and owns the chunked AEAD stream state for both directions of a
// connection.
//
// The session key is logically shared between the encrypt and decrypt
// halves of a connection; rather than modelling that as two objects holding
// a cycle, Key owns the key and both NonceSequences and exposes Seal/Open
// methods directly, with an explicit, strictly monotonic big-endian nonce
// counter per direction.
package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/go-portal/portal/internal/aead"
)

// Direction tags which side of the connection a confirmation token or nonce
// sequence belongs to.
type Direction uint8

const (
	DirectionSender Direction = iota
	DirectionReceiver
)

func (d Direction) String() string {
	if d == DirectionSender {
		return "sender"
	}
	return "receiver"
}

// ConfirmTokenSize is a direction byte plus a 32-byte HKDF output.
const ConfirmTokenSize = 33

const (
	infoSessionKey      = "portal-aead-key"
	infoConfirmSender   = "portal-confirm-sender"
	infoConfirmReceiver = "portal-confirm-receiver"
)

var (
	// ErrNonceExhausted indicates a NonceSequence has reached its maximum
	// value and cannot emit another chunk under this key.
	ErrNonceExhausted = errors.New("session: nonce sequence exhausted")
	// ErrConfirmationMismatch indicates a peer's Confirm token did not match
	// the expected value. Per the error-kinds table this is treated as an
	// active attack, not a transient condition.
	ErrConfirmationMismatch = errors.New("session: confirmation token mismatch")
)

// NonceSequence is a per-direction monotonic counter bound to one session
// key. It is 96 bits wide on the wire (big-endian) but Go's architecture
// makes a uint64 counter sufficient in practice; wraparound at 2^64-1 is
// treated as exhaustion rather than silently wrapping into the high 32 bits.
type NonceSequence struct {
	mu      sync.Mutex
	counter uint64
	maxed   bool
}

// Next returns the next 96-bit big-endian nonce and advances the counter.
// It returns ErrNonceExhausted instead of reusing a nonce once the counter
// would wrap.
func (n *NonceSequence) Next() ([aead.NonceSize]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out [aead.NonceSize]byte
	if n.maxed {
		return out, ErrNonceExhausted
	}
	if n.counter == ^uint64(0) {
		n.maxed = true
		return out, ErrNonceExhausted
	}

	// 96-bit big-endian counter: top 4 bytes are always zero since a
	// uint64 counter can never set them, leaving room for future
	// extension without changing the wire nonce width.
	v := n.counter
	out[4] = byte(v >> 56)
	out[5] = byte(v >> 48)
	out[6] = byte(v >> 40)
	out[7] = byte(v >> 32)
	out[8] = byte(v >> 24)
	out[9] = byte(v >> 16)
	out[10] = byte(v >> 8)
	out[11] = byte(v)

	n.counter++
	return out, nil
}

// Key owns the derived session key, both per-direction confirmation tokens,
// and the send/receive nonce sequences for one connection. The same Key
// instance is used to seal outbound chunks and open inbound chunks; callers
// never hold the raw key material directly.
type Key struct {
	cipher aead.Cipher

	confirmSender   [32]byte
	confirmReceiver [32]byte

	sendSeq *NonceSequence
	recvSeq *NonceSequence
}

// Derive expands a raw PAKE output S into a session key and both
// confirmation sub-keys via HKDF-SHA256 with an empty salt and
// purpose-bound info strings, per the wire-level key schedule.
func Derive(pakeSecret []byte) (*Key, error) {
	sessionKey, err := hkdfExpand(pakeSecret, infoSessionKey, aead.KeySize)
	if err != nil {
		return nil, err
	}
	confirmSender, err := hkdfExpand(pakeSecret, infoConfirmSender, 32)
	if err != nil {
		return nil, err
	}
	confirmReceiver, err := hkdfExpand(pakeSecret, infoConfirmReceiver, 32)
	if err != nil {
		return nil, err
	}

	cipher, err := aead.New(sessionKey)
	if err != nil {
		return nil, err
	}

	k := &Key{
		cipher:  cipher,
		sendSeq: &NonceSequence{},
		recvSeq: &NonceSequence{},
	}
	copy(k.confirmSender[:], confirmSender)
	copy(k.confirmReceiver[:], confirmReceiver)

	zero(sessionKey)
	zero(confirmSender)
	zero(confirmReceiver)
	return k, nil
}

func hkdfExpand(secret []byte, info string, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("session: hkdf expand %q: %w", info, err)
	}
	return out, nil
}

// OwnConfirmToken returns the 33-byte Confirm token this side should send
// for the given direction (the direction this endpoint is playing).
func (k *Key) OwnConfirmToken(dir Direction) [ConfirmTokenSize]byte {
	var out [ConfirmTokenSize]byte
	out[0] = byte(dir)
	if dir == DirectionSender {
		copy(out[1:], k.confirmSender[:])
	} else {
		copy(out[1:], k.confirmReceiver[:])
	}
	return out
}

// VerifyPeerConfirmToken checks a received Confirm token against the
// expected value for the peer's direction, in constant time.
func (k *Key) VerifyPeerConfirmToken(peerDir Direction, token [ConfirmTokenSize]byte) error {
	expected := k.OwnConfirmToken(peerDir)
	if subtle.ConstantTimeCompare(expected[:], token[:]) != 1 {
		return ErrConfirmationMismatch
	}
	return nil
}

// Seal encrypts one chunk for the outbound direction, advancing the send
// nonce sequence. AAD is always empty per the chunk format.
func (k *Key) Seal(plaintext []byte) ([]byte, error) {
	nonce, err := k.sendSeq.Next()
	if err != nil {
		return nil, err
	}
	return k.cipher.Seal(nonce[:], nil, plaintext), nil
}

// Open decrypts one received chunk, advancing the receive nonce sequence.
// A mismatch between the sender's and receiver's nonce sequences (due to
// reordering, omission, or duplication) surfaces here as an AEAD failure,
// since the two sides would no longer agree on the nonce for this call.
func (k *Key) Open(ciphertext []byte) ([]byte, error) {
	nonce, err := k.recvSeq.Next()
	if err != nil {
		return nil, err
	}
	return k.cipher.Open(nonce[:], nil, ciphertext)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
