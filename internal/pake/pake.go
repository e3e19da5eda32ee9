// Package pake implements Portal's password-authenticated key exchange: a
// symmetric SPAKE2 over the ristretto255 prime-order group.
//
// Unlike SPAKE2+ (which assigns asymmetric Prover/Verifier roles with
// distinct blinding generators M and N — see RFC 9383), Portal's two
// endpoints are interchangeable: both Sender and Receiver know the password
// directly and run the identical algorithm with a single shared blinding
// point M. Symmetry is restored at the confirmation step by canonically
// sorting the two transcript elements before hashing them into the shared
// secret, so neither side needs to know in advance which message it sent
// versus received.
package pake

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/gtank/ristretto255"
)

// MsgSize is the wire length of a pake_msg: one encoded ristretto255 element.
const MsgSize = 32

// blindingPoint is a fixed, public, non-generator element used to blind the
// password term in the key-exchange message. It is derived once at package
// init from a domain-separated hash-to-scalar of a constant string, the same
// construction used by implementations that lack a dedicated hash-to-group
// function (the Matter SPAKE2+ reference hardcodes its M/N instead; Portal
// derives its single shared M the same way so the constant is auditable
// from source rather than an opaque byte literal).
var blindingPoint = func() *ristretto255.Element {
	h := sha512.Sum512([]byte("portal-spake2-symmetric-blinding-point-v1"))
	s := ristretto255.NewScalar().FromUniformBytes(h[:])
	return ristretto255.NewElement().ScalarBaseMult(s)
}()

var (
	// ErrInvalidMessage indicates a peer's pake_msg failed to decode or was
	// the group identity (a low-order / invalid point submission attack).
	ErrInvalidMessage = errors.New("pake: invalid peer message")
	// ErrAlreadyFinished indicates Finish was called more than once on the
	// same State.
	ErrAlreadyFinished = errors.New("pake: state already consumed")
)

// State is an in-progress SPAKE2 instance bound to one (password, channelID)
// pair. It is single-use: Finish consumes the ephemeral scalar and zeroes
// it, matching the one-shot semantics of a real key exchange.
type State struct {
	w       *ristretto255.Scalar // blinding scalar derived from password+channelID
	x       *ristretto255.Scalar // ephemeral secret scalar
	ourMsg  *ristretto255.Element
	ourWire [MsgSize]byte
	done    bool
}

// New constructs a State bound to password and channelID, and computes this
// side's outgoing pake_msg (T = x*G + w*M).
func New(password []byte, channelID string) (*State, error) {
	w := deriveBlindingScalar(password, channelID)

	x := ristretto255.NewScalar()
	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("pake: generating ephemeral scalar: %w", err)
	}
	x.FromUniformBytes(seed[:])

	wM := ristretto255.NewElement().ScalarMult(w, blindingPoint)
	xG := ristretto255.NewElement().ScalarBaseMult(x)
	t := ristretto255.NewElement().Add(xG, wM)

	s := &State{w: w, x: x, ourMsg: t}
	copy(s.ourWire[:], t.Encode(nil))
	return s, nil
}

// Message returns this side's pake_msg to send as Init.pake_msg /
// InitAck.peer_pake_msg.
func (s *State) Message() []byte {
	out := make([]byte, MsgSize)
	copy(out, s.ourWire[:])
	return out
}

// Finish consumes the peer's pake_msg and this State's ephemeral secret,
// producing the raw SPAKE2 output S that is fed into HKDF. It is an error to
// call Finish twice.
func (s *State) Finish(peerMsg []byte) ([]byte, error) {
	if s.done {
		return nil, ErrAlreadyFinished
	}
	if len(peerMsg) != MsgSize {
		return nil, ErrInvalidMessage
	}

	peerT := ristretto255.NewElement()
	if err := peerT.Decode(peerMsg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if peerT.Equal(ristretto255.NewElement()) == 1 {
		// The group identity is never a legitimate share.
		return nil, ErrInvalidMessage
	}

	wM := ristretto255.NewElement().ScalarMult(s.w, blindingPoint)
	unblinded := ristretto255.NewElement().Subtract(peerT, wM)
	k := ristretto255.NewElement().ScalarMult(s.x, unblinded)

	transcript := sortTranscript(s.ourWire[:], peerMsg)

	h := sha256.New()
	h.Write(s.w.Encode(nil))
	h.Write(transcript[0])
	h.Write(transcript[1])
	h.Write(k.Encode(nil))
	out := h.Sum(nil)

	s.x.FromUniformBytes(make([]byte, 64)) // overwrite the scalar with zero
	s.x = nil
	s.done = true
	return out, nil
}

// sortTranscript returns [a, b] in canonical (lexicographically ascending)
// order so both sides of the symmetric exchange hash the two transcript
// elements identically regardless of which one was "ours" versus "theirs".
func sortTranscript(a, b []byte) [2][]byte {
	if bytes.Compare(a, b) <= 0 {
		return [2][]byte{a, b}
	}
	return [2][]byte{b, a}
}

// deriveBlindingScalar computes w = reduce(SHA-512(password || 0x00 || channelID)).
func deriveBlindingScalar(password []byte, channelID string) *ristretto255.Scalar {
	h := sha512.New()
	h.Write(password)
	h.Write([]byte{0x00})
	h.Write([]byte(channelID))
	sum := h.Sum(nil)
	return ristretto255.NewScalar().FromUniformBytes(sum)
}
