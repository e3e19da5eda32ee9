package peer

import (
	"io"

	"github.com/go-portal/portal/internal/portalerr"
	"github.com/go-portal/portal/internal/session"
	"github.com/go-portal/portal/internal/transfer"
	"github.com/go-portal/portal/internal/wire"
)

// Receiver drives the receiving half of a Portal session: connect,
// handshake, accept or decline an advertised manifest, then materialise
// each file from its chunk stream.
type Receiver struct {
	State State
}

// NewReceiver returns a Receiver in its initial state.
func NewReceiver() *Receiver {
	return &Receiver{State: StateInit}
}

// RecvFiles runs the complete Receiver protocol over conn. confirm, if
// non-nil, is invoked once with the advertised manifest; returning false
// declines the transfer (no file is created) and RecvFiles returns a
// *portalerr.Error with Kind == PeerDeclined, a clean termination rather
// than a fault. downloadRoot is the directory every declared relative path
// is created under; opts controls overwrite behavior.
func (rc *Receiver) RecvFiles(conn io.ReadWriter, channelID string, password []byte, downloadRoot string, confirm ConfirmFunc, progress ProgressFunc, opts transfer.WriteOptions) error {
	rc.State = StateConnected

	r, w, key, err := handshake(conn, channelID, password, session.DirectionReceiver)
	if err != nil {
		rc.State = stateForError(err)
		return err
	}
	rc.State = StateConfirmed

	metaRec, err := r.ReadRecord()
	if err != nil {
		rc.State = StateAbortedIO
		return portalerr.New(portalerr.Io, err)
	}
	if metaRec.Type != wire.TypeMetadata {
		rc.State = StateAbortedProtocol
		return portalerr.Wrap(portalerr.Protocol, "expected Metadata, got %s", metaRec.Type)
	}

	plainInfo, err := key.Open(metaRec.Ciphertext)
	if err != nil {
		rc.State = StateAbortedCrypto
		return portalerr.New(portalerr.AeadFailure, err)
	}
	info, err := transfer.DecodeTransferInfo(plainInfo)
	if err != nil {
		rc.State = StateAbortedProtocol
		return err
	}

	for _, f := range info.Files {
		if err := transfer.ValidateRelativePath(f.Path); err != nil {
			rc.State = StateAbortedProtocol
			if werr := w.WriteRecord(&wire.Record{Type: wire.TypeMetadataAck, Accepted: false}); werr != nil {
				return portalerr.New(portalerr.Io, werr)
			}
			return err
		}
	}

	accepted := true
	if confirm != nil {
		entries := make([]ManifestEntry, len(info.Files))
		for i, f := range info.Files {
			entries[i] = ManifestEntry{Path: f.Path, PlaintextSize: f.PlaintextSize}
		}
		accepted = confirm(entries)
	}

	if err := w.WriteRecord(&wire.Record{Type: wire.TypeMetadataAck, Accepted: accepted}); err != nil {
		rc.State = StateAbortedIO
		return portalerr.New(portalerr.Io, err)
	}
	if !accepted {
		rc.State = StateDone
		return portalerr.New(portalerr.PeerDeclined, nil)
	}
	rc.State = StateMetadataExchanged

	for i, meta := range info.Files {
		rc.State = StateTransferring
		if err := rc.recvFile(r, key, meta, downloadRoot, i, progress, opts); err != nil {
			rc.State = stateForError(err)
			return err
		}
	}

	rc.State = StateDone
	return nil
}

func (rc *Receiver) recvFile(r *wire.Reader, key *session.Key, meta transfer.FileMetadata, downloadRoot string, index int, progress ProgressFunc, opts transfer.WriteOptions) error {
	headerRec, err := r.ReadRecord()
	if err != nil {
		return portalerr.New(portalerr.Io, err)
	}
	if headerRec.Type != wire.TypeFileHeader {
		return portalerr.Wrap(portalerr.Protocol, "expected FileHeader, got %s", headerRec.Type)
	}
	plainHeader, err := key.Open(headerRec.Ciphertext)
	if err != nil {
		return portalerr.New(portalerr.AeadFailure, err)
	}
	header, err := transfer.DecodeFileMetadata(plainHeader)
	if err != nil {
		return err
	}
	if header.Path != meta.Path || header.PlaintextSize != meta.PlaintextSize {
		return portalerr.Wrap(portalerr.Protocol, "file header %q does not match advertised manifest entry", header.Path)
	}

	f, err := transfer.CreateFile(downloadRoot, header.Path, 0o644, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	var received int64
	for {
		rec, err := r.ReadRecord()
		if err != nil {
			return portalerr.New(portalerr.Io, err)
		}
		switch rec.Type {
		case wire.TypeChunk:
			if len(rec.Chunk) > ChunkSize+16 {
				return portalerr.Wrap(portalerr.Protocol, "chunk exceeds maximum size")
			}
			pt, err := key.Open(rec.Chunk)
			if err != nil {
				return portalerr.New(portalerr.AeadFailure, err)
			}
			if _, err := f.Write(pt); err != nil {
				return portalerr.New(portalerr.Io, err)
			}
			received += int64(len(pt))
			if progress != nil {
				progress(index, received, header.PlaintextSize)
			}
		case wire.TypeEndOfFile:
			if received != header.PlaintextSize {
				return portalerr.Wrap(portalerr.Io, "truncated transfer for %q: got %d bytes, want %d", header.Path, received, header.PlaintextSize)
			}
			return nil
		default:
			return portalerr.Wrap(portalerr.Protocol, "expected Chunk or EndOfFile, got %s", rec.Type)
		}
	}
}
