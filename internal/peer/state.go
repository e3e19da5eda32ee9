// Package peer orchestrates the wire codec, PAKE engine, session key, and
// metadata exchange into the two halves of Portal's protocol: Sender and
// Receiver. Each exposes a single blocking SendFiles/RecvFiles call driving
// the handshake (which sets no read or write deadline of its own) followed
// by metadata exchange and chunk streaming. Both sides send Init to the relay and wait for an InitAck
// carrying the counter-party's PAKE message, rather than one side dialing
// the other directly.
package peer

// State enumerates the peer-side protocol's progress through handshake,
// metadata exchange, and transfer, including the distinct ways a session
// can terminate abnormally.
type State int

const (
	StateInit State = iota
	StateConnected
	StateHandshakeSent
	StateKeyDerived
	StateConfirmed
	StateMetadataExchanged
	StateTransferring
	StateDone
	StateAbortedProtocol
	StateAbortedCrypto
	StateAbortedIO
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnected:
		return "CONNECTED"
	case StateHandshakeSent:
		return "HANDSHAKE_SENT"
	case StateKeyDerived:
		return "KEY_DERIVED"
	case StateConfirmed:
		return "CONFIRMED"
	case StateMetadataExchanged:
		return "METADATA_EXCHANGED"
	case StateTransferring:
		return "TRANSFERRING"
	case StateDone:
		return "DONE"
	case StateAbortedProtocol:
		return "ABORTED_PROTOCOL"
	case StateAbortedCrypto:
		return "ABORTED_CRYPTO"
	case StateAbortedIO:
		return "ABORTED_IO"
	default:
		return "UNKNOWN"
	}
}

// ChunkSize is the compile-time plaintext chunk size both peers must agree
// on; a mismatch manifests as AEAD failures rather than a negotiated value.
const ChunkSize = 65536

// MaxRecordSize bounds the wire record length a Reader will allocate for,
// rejecting oversized frames before allocation.
const MaxRecordSize = ChunkSize + 64

// ProgressFunc is invoked synchronously on the transfer path after each
// successful chunk, with the cumulative transferred byte count for the
// current file (starting from zero). It must not be installed as global
// state and is never called from a goroutine other than the one driving
// the transfer.
type ProgressFunc func(fileIndex int, bytesSoFar, fileSize int64)

// ConfirmFunc lets the Receiver's caller accept or decline an advertised
// manifest. A nil ConfirmFunc accepts unconditionally.
type ConfirmFunc func(files []ManifestEntry) bool

// ManifestEntry is the subset of transfer.FileMetadata exposed to a
// ConfirmFunc, keeping internal/transfer's JSON-tagged wire type out of the
// CLI collaborator's surface.
type ManifestEntry struct {
	Path          string
	PlaintextSize int64
}
