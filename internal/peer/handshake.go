package peer

import (
	"io"

	"github.com/go-portal/portal/internal/pake"
	"github.com/go-portal/portal/internal/portalerr"
	"github.com/go-portal/portal/internal/session"
	"github.com/go-portal/portal/internal/wire"
)

// opposite returns the direction the other side of a session is playing.
func opposite(d session.Direction) session.Direction {
	if d == session.DirectionSender {
		return session.DirectionReceiver
	}
	return session.DirectionSender
}

// handshake runs the Init/InitAck/Confirm exchange up to and including key
// confirmation, returning the framing reader/writer and the derived session
// key. Both Sender and Receiver call this identically except for the
// direction tag: each side sends Init and waits for InitAck from the relay
// rather than dialing one another, so one code path serves both roles.
func handshake(conn io.ReadWriter, channelID string, password []byte, direction session.Direction) (*wire.Reader, *wire.Writer, *session.Key, error) {
	r := wire.NewReader(conn, MaxRecordSize)
	w := wire.NewWriter(conn)

	pakeState, err := pake.New(password, channelID)
	if err != nil {
		return nil, nil, nil, portalerr.New(portalerr.PakeMismatch, err)
	}

	if err := w.WriteRecord(&wire.Record{
		Type:      wire.TypeInit,
		ChannelID: channelID,
		Direction: uint8(direction),
		PakeMsg:   pakeState.Message(),
	}); err != nil {
		return nil, nil, nil, portalerr.New(portalerr.Io, err)
	}

	ackRec, err := r.ReadRecord()
	if err != nil {
		return nil, nil, nil, portalerr.New(portalerr.Io, err)
	}
	if ackRec.Type == wire.TypeError {
		return nil, nil, nil, portalerr.Wrap(portalerr.Protocol, "relay error %d: %s", ackRec.Code, ackRec.Message)
	}
	if ackRec.Type != wire.TypeInitAck {
		return nil, nil, nil, portalerr.Wrap(portalerr.Protocol, "expected InitAck, got %s", ackRec.Type)
	}

	secret, err := pakeState.Finish(ackRec.PeerPakeMsg)
	if err != nil {
		return nil, nil, nil, portalerr.New(portalerr.PakeMismatch, err)
	}

	key, err := session.Derive(secret)
	if err != nil {
		return nil, nil, nil, portalerr.New(portalerr.PakeMismatch, err)
	}

	ownToken := key.OwnConfirmToken(direction)
	if err := w.WriteRecord(&wire.Record{Type: wire.TypeConfirm, Token: ownToken}); err != nil {
		return nil, nil, nil, portalerr.New(portalerr.Io, err)
	}

	confirmRec, err := r.ReadRecord()
	if err != nil {
		return nil, nil, nil, portalerr.New(portalerr.Io, err)
	}
	if confirmRec.Type != wire.TypeConfirm {
		return nil, nil, nil, portalerr.Wrap(portalerr.Protocol, "expected Confirm, got %s", confirmRec.Type)
	}
	if err := key.VerifyPeerConfirmToken(opposite(direction), confirmRec.Token); err != nil {
		return nil, nil, nil, portalerr.New(portalerr.ConfirmationMismatch, err)
	}

	return r, w, key, nil
}
