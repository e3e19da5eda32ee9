package peer

import (
	"context"
	"io"
	"os"

	"github.com/go-portal/portal/internal/portalerr"
	"github.com/go-portal/portal/internal/session"
	"github.com/go-portal/portal/internal/transfer"
	"github.com/go-portal/portal/internal/wire"
)

// Sender drives the sending half of a Portal session: connect, handshake,
// advertise a manifest, then stream each file's chunks in order. Entirely
// synchronous from the caller's perspective — each SendFiles call blocks
// until completion or error, and all I/O happens on the caller-supplied
// conn.
type Sender struct {
	State State

	// RateLimitBytesPerSecond caps how fast file contents are read off
	// disk before sealing, via transfer.RateLimited. Zero means
	// unlimited.
	RateLimitBytesPerSecond int64
}

// NewSender returns a Sender in its initial state.
func NewSender() *Sender {
	return &Sender{State: StateInit}
}

// SendFiles runs the complete Sender protocol over conn: handshake, manifest
// advertisement, and (if accepted) streaming every file in paths. progress,
// if non-nil, is invoked synchronously after each chunk is sealed.
//
// A clean receiver decline (MetadataAck{accepted=false}) returns a nil
// error: the Sender exits successfully in that case, and only the
// Receiver reports the PeerDeclined kind.
func (s *Sender) SendFiles(conn io.ReadWriter, channelID string, password []byte, paths []string, progress ProgressFunc) error {
	s.State = StateConnected

	r, w, key, err := handshake(conn, channelID, password, session.DirectionSender)
	if err != nil {
		s.State = stateForError(err)
		return err
	}
	s.State = StateConfirmed

	info, sources, err := transfer.BuildManifest(paths, ChunkSize)
	if err != nil {
		s.State = StateAbortedIO
		return err
	}

	encodedInfo, err := info.Encode()
	if err != nil {
		s.State = StateAbortedProtocol
		return portalerr.New(portalerr.Protocol, err)
	}
	sealedInfo, err := key.Seal(encodedInfo)
	if err != nil {
		s.State = StateAbortedCrypto
		return portalerr.New(portalerr.NonceExhaustion, err)
	}
	if err := w.WriteRecord(&wire.Record{Type: wire.TypeMetadata, Ciphertext: sealedInfo}); err != nil {
		s.State = StateAbortedIO
		return portalerr.New(portalerr.Io, err)
	}

	ackRec, err := r.ReadRecord()
	if err != nil {
		s.State = StateAbortedIO
		return portalerr.New(portalerr.Io, err)
	}
	if ackRec.Type != wire.TypeMetadataAck {
		s.State = StateAbortedProtocol
		return portalerr.Wrap(portalerr.Protocol, "expected MetadataAck, got %s", ackRec.Type)
	}
	if !ackRec.Accepted {
		s.State = StateDone
		return nil
	}
	s.State = StateMetadataExchanged

	for i, meta := range info.Files {
		s.State = StateTransferring
		if err := s.sendFile(w, key, meta, sources[i], i, progress); err != nil {
			s.State = stateForError(err)
			return err
		}
	}

	s.State = StateDone
	return nil
}

func (s *Sender) sendFile(w *wire.Writer, key *session.Key, meta transfer.FileMetadata, sourcePath string, index int, progress ProgressFunc) error {
	headerBytes, err := meta.Encode()
	if err != nil {
		return portalerr.New(portalerr.Protocol, err)
	}
	sealedHeader, err := key.Seal(headerBytes)
	if err != nil {
		return portalerr.New(portalerr.NonceExhaustion, err)
	}
	if err := w.WriteRecord(&wire.Record{Type: wire.TypeFileHeader, Ciphertext: sealedHeader}); err != nil {
		return portalerr.New(portalerr.Io, err)
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return portalerr.New(portalerr.Io, err)
	}
	defer f.Close()

	var src io.Reader = f
	if s.RateLimitBytesPerSecond > 0 {
		src = transfer.RateLimited(context.Background(), f, s.RateLimitBytesPerSecond, ChunkSize)
	}

	var sent int64
	buf := make([]byte, ChunkSize)
	for first := true; ; first = false {
		n, readErr := io.ReadFull(src, buf)
		// A zero-byte file is still sent as one empty chunk (one tag),
		// matching transfer.CiphertextSize.
		if n > 0 || first {
			ct, err := key.Seal(buf[:n])
			if err != nil {
				return portalerr.New(portalerr.NonceExhaustion, err)
			}
			if err := w.WriteRecord(&wire.Record{Type: wire.TypeChunk, Chunk: ct}); err != nil {
				return portalerr.New(portalerr.Io, err)
			}
			sent += int64(n)
			if progress != nil {
				progress(index, sent, meta.PlaintextSize)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return portalerr.New(portalerr.Io, readErr)
		}
	}

	if err := w.WriteRecord(&wire.Record{Type: wire.TypeEndOfFile}); err != nil {
		return portalerr.New(portalerr.Io, err)
	}
	return nil
}

func stateForError(err error) State {
	kind := portalerr.Protocol
	if pe, ok := err.(*portalerr.Error); ok {
		kind = pe.Kind
	}
	switch kind {
	case portalerr.PakeMismatch, portalerr.ConfirmationMismatch, portalerr.AeadFailure, portalerr.NonceExhaustion:
		return StateAbortedCrypto
	case portalerr.Io:
		return StateAbortedIO
	default:
		return StateAbortedProtocol
	}
}
