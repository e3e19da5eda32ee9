// Package wire implements Portal's length-prefixed record framing.
//
// Every message exchanged between peers, and between a peer and the relay
// during the handshake-accumulate phase, is a single record: a u64
// little-endian length prefix followed by that many bytes of payload. The
// payload is a width-tagged binary encoding of one of the RecordType
// variants below. Decoding fails closed on any structural error.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RecordType identifies which variant of the tagged union a record carries.
type RecordType uint8

const (
	TypeInit RecordType = iota
	TypeInitAck
	TypeConfirm
	TypeMetadata
	TypeMetadataAck
	TypeFileHeader
	TypeChunk
	TypeEndOfFile
	TypeError
)

func (t RecordType) String() string {
	switch t {
	case TypeInit:
		return "Init"
	case TypeInitAck:
		return "InitAck"
	case TypeConfirm:
		return "Confirm"
	case TypeMetadata:
		return "Metadata"
	case TypeMetadataAck:
		return "MetadataAck"
	case TypeFileHeader:
		return "FileHeader"
	case TypeChunk:
		return "Chunk"
	case TypeEndOfFile:
		return "EndOfFile"
	case TypeError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// ConfirmTokenSize is the wire length of a Confirm token: one direction byte
// plus a 32-byte HMAC-equivalent HKDF output.
const ConfirmTokenSize = 33

// Record is the decoded form of one wire record. Exactly one of the typed
// fields is meaningful, selected by Type.
type Record struct {
	Type RecordType

	// Init
	ChannelID string
	Direction uint8
	PakeMsg   []byte

	// InitAck
	PeerPakeMsg []byte

	// Confirm
	Token [ConfirmTokenSize]byte

	// Metadata, FileHeader: ciphertext of a serialized structure
	Ciphertext []byte

	// MetadataAck
	Accepted bool

	// Chunk: ciphertext of one chunk (≤ CHUNK_SIZE+16 bytes)
	Chunk []byte

	// Error
	Code    uint16
	Message string
}

// Sentinel errors for structural decode failures.
var (
	ErrTruncated     = fmt.Errorf("wire: truncated record")
	ErrRecordTooLarge = fmt.Errorf("wire: record exceeds maximum size")
	ErrUnknownType   = fmt.Errorf("wire: unknown record type")
	ErrTrailingBytes = fmt.Errorf("wire: trailing bytes after payload")
	ErrMalformed     = fmt.Errorf("wire: malformed payload")
)

func putString(buf []byte, s string) []byte {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, b...)
	return buf
}

func takeString(b []byte) (string, []byte, error) {
	raw, rest, err := takeBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(raw), rest, nil
}

func takeBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 8 {
		return nil, nil, ErrTruncated
	}
	n := binary.LittleEndian.Uint64(b[:8])
	b = b[8:]
	if uint64(len(b)) < n {
		return nil, nil, ErrTruncated
	}
	return b[:n], b[n:], nil
}

// Encode serializes a record's tagged-union payload (without the outer
// length prefix; Write adds that).
func (r *Record) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(r.Type))

	switch r.Type {
	case TypeInit:
		buf = putString(buf, r.ChannelID)
		buf = append(buf, r.Direction)
		buf = putBytes(buf, r.PakeMsg)
	case TypeInitAck:
		buf = putBytes(buf, r.PeerPakeMsg)
	case TypeConfirm:
		buf = append(buf, r.Token[:]...)
	case TypeMetadata, TypeFileHeader:
		buf = putBytes(buf, r.Ciphertext)
	case TypeMetadataAck:
		if r.Accepted {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TypeChunk:
		buf = putBytes(buf, r.Chunk)
	case TypeEndOfFile:
		// no fields
	case TypeError:
		var codeBuf [2]byte
		binary.LittleEndian.PutUint16(codeBuf[:], r.Code)
		buf = append(buf, codeBuf[:]...)
		buf = putString(buf, r.Message)
	}
	return buf
}

// DecodeRecord parses a record's tagged-union payload.
func DecodeRecord(payload []byte) (*Record, error) {
	if len(payload) < 1 {
		return nil, ErrTruncated
	}
	t := RecordType(payload[0])
	rest := payload[1:]
	r := &Record{Type: t}

	var err error
	switch t {
	case TypeInit:
		r.ChannelID, rest, err = takeString(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, ErrTruncated
		}
		r.Direction = rest[0]
		rest = rest[1:]
		r.PakeMsg, rest, err = takeBytes(rest)
		if err != nil {
			return nil, err
		}
	case TypeInitAck:
		r.PeerPakeMsg, rest, err = takeBytes(rest)
		if err != nil {
			return nil, err
		}
	case TypeConfirm:
		if len(rest) < ConfirmTokenSize {
			return nil, ErrTruncated
		}
		copy(r.Token[:], rest[:ConfirmTokenSize])
		rest = rest[ConfirmTokenSize:]
	case TypeMetadata, TypeFileHeader:
		r.Ciphertext, rest, err = takeBytes(rest)
		if err != nil {
			return nil, err
		}
	case TypeMetadataAck:
		if len(rest) < 1 {
			return nil, ErrTruncated
		}
		r.Accepted = rest[0] != 0
		rest = rest[1:]
	case TypeChunk:
		r.Chunk, rest, err = takeBytes(rest)
		if err != nil {
			return nil, err
		}
	case TypeEndOfFile:
		// no fields
	case TypeError:
		if len(rest) < 2 {
			return nil, ErrTruncated
		}
		r.Code = binary.LittleEndian.Uint16(rest[:2])
		rest = rest[2:]
		r.Message, rest, err = takeString(rest)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownType
	}

	if len(rest) != 0 {
		return nil, ErrTrailingBytes
	}
	return r, nil
}

// Reader reads length-prefixed records from an io.Reader, rejecting any
// record whose declared length exceeds maxRecordSize before allocating a
// buffer for it.
type Reader struct {
	r             io.Reader
	maxRecordSize uint64
}

// NewReader wraps r, enforcing maxRecordSize as the hard upper bound on
// record payload length.
func NewReader(r io.Reader, maxRecordSize uint64) *Reader {
	return &Reader{r: r, maxRecordSize: maxRecordSize}
}

// ReadRecord reads one length-prefixed record and decodes it.
func (fr *Reader) ReadRecord() (*Record, error) {
	payload, err := fr.ReadRaw()
	if err != nil {
		return nil, err
	}
	return DecodeRecord(payload)
}

// ReadRaw reads one length-prefixed record and returns its raw payload
// without decoding, used by the relay's handshake-accumulate phase which
// only needs to parse the first Init record.
func (fr *Reader) ReadRaw() ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n > fr.maxRecordSize {
		return nil, ErrRecordTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Writer writes length-prefixed records to an io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRecord encodes and writes r.
func (fw *Writer) WriteRecord(r *Record) error {
	return fw.WriteRaw(r.Encode())
}

// WriteRaw writes a raw payload with its length prefix.
func (fw *Writer) WriteRaw(payload []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := fw.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}
