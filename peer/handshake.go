package peer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/btchs/btchs/wire"
)

// maxSkippedMessages is the number of non-verack messages tolerated between
// the remote version and the remote verack before the handshake is treated
// as stalled.  Real nodes interleave benign chatter such as ping here; an
// unbounded skip would let a hostile peer hold the session open forever.
const maxSkippedMessages = 3

var (
	// ErrSelfConnection is returned when the remote version message
	// carries a nonce this process recently sent, meaning the node
	// connected to itself.
	ErrSelfConnection = errors.New("disconnecting peer connected to self")

	// ErrUnexpectedMessage is returned when the remote peer sends a
	// message out of handshake order, such as a verack before its
	// version.
	ErrUnexpectedMessage = errors.New("message received out of handshake order")

	// ErrStalledHandshake is returned when the remote peer keeps the
	// connection busy without ever completing the handshake.
	ErrStalledHandshake = errors.New("peer stalled before completing handshake")
)

// handshakeState tracks how far the version/verack exchange has progressed.
type handshakeState uint8

const (
	stateInit handshakeState = iota
	stateVersionSent
	stateVersionReceived
	stateVerAckSent
	stateEstablished
)

// String returns the handshake state as a human-readable string.
func (s handshakeState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateVersionSent:
		return "versionsent"
	case stateVersionReceived:
		return "versionreceived"
	case stateVerAckSent:
		return "veracksent"
	case stateEstablished:
		return "established"
	}
	return fmt.Sprintf("unknown state (%d)", uint8(s))
}

// HandshakeError describes a failed handshake attempt.  State names the
// point the exchange had reached when the failure occurred and Err carries
// the cause, which may be one of the sentinels in this package, a
// *wire.MessageError, or a network error.
type HandshakeError struct {
	State string
	Err   error
}

// Error satisfies the error interface.
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed in state %s: %v", e.State, e.Err)
}

// Unwrap returns the underlying cause.
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// localVersionMsg creates a version message that can be used to send to the
// remote peer.
func (p *Peer) localVersionMsg() (*wire.MsgVersion, error) {
	// Generate a unique nonce for this peer so self connections can be
	// detected.  This is accomplished by adding it to a size-limited map
	// of recently seen nonces.
	nonce, err := p.cfg.NonceGenerator()
	if err != nil {
		return nil, err
	}
	sentNonces.Add(nonce)

	p.flagsMtx.Lock()
	p.nonce = nonce
	p.flagsMtx.Unlock()

	theirNA := newNetAddress(p.conn.RemoteAddr(), 0)

	// A passive handshake client is not reachable, so advertise a zero
	// address and no services for the local side.
	ourNA := wire.NewNetAddressIPPort(net.IPv4zero, 0, p.cfg.Services)

	// Version message.
	msg := wire.NewMsgVersion(ourNA, theirNA, nonce, 0)
	err = msg.AddUserAgent(p.cfg.UserAgentName, p.cfg.UserAgentVersion,
		p.cfg.UserAgentComments...)
	if err != nil {
		return nil, err
	}

	// Advertise local services and the configured protocol version.
	msg.Services = p.cfg.Services
	msg.ProtocolVersion = int32(p.cfg.ProtocolVersion)

	return msg, nil
}

// writeLocalVersionMsg writes our version message to the remote peer.
func (p *Peer) writeLocalVersionMsg() error {
	localVerMsg, err := p.localVersionMsg()
	if err != nil {
		return err
	}

	if err := p.writeMessage(localVerMsg); err != nil {
		return err
	}

	p.chain.add(newEvent(wire.CmdVersion, EventOut))
	return nil
}

// readRemoteVersionMsg waits for the next message to arrive from the remote
// peer.  If the next message is not a version message or the version is not
// acceptable then return an error.
func (p *Peer) readRemoteVersionMsg() error {
	// Read their version message.
	remoteMsg, _, err := p.readMessage()
	if err != nil {
		// An unknown command here is still a message out of handshake
		// order.
		if errors.Is(err, wire.ErrUnknownMessage) {
			return ErrUnexpectedMessage
		}
		return err
	}

	// Notify and disconnect clients if the first message is not a version
	// message.
	msg, ok := remoteMsg.(*wire.MsgVersion)
	if !ok {
		log.Debugf("Expected version message from %s, got %s", p,
			remoteMsg.Command())
		return ErrUnexpectedMessage
	}

	// Detect self connections.
	if sentNonces.Contains(msg.Nonce) {
		return ErrSelfConnection
	}

	// Notify and disconnect clients that have a protocol version that is
	// too old.
	if uint32(msg.ProtocolVersion) < wire.MultipleAddressVersion {
		return fmt.Errorf("protocol version must be %d or greater",
			wire.MultipleAddressVersion)
	}

	// Updating a bunch of stats including block based stats, and the
	// peer's time offset.
	p.flagsMtx.Lock()
	p.protocolVersion = minUint32(p.protocolVersion,
		uint32(msg.ProtocolVersion))
	p.versionKnown = true
	p.services = msg.Services
	p.userAgent = msg.UserAgent
	p.startingHeight = msg.LastBlock
	p.flagsMtx.Unlock()

	log.Debugf("Negotiated protocol version %d for peer %s",
		p.ProtocolVersion(), p)

	ev := newEvent(wire.CmdVersion, EventIn)
	ev.setAttr("vers", strconv.FormatInt(int64(msg.ProtocolVersion), 10))
	ev.setAttr("agent", msg.UserAgent)
	p.chain.add(ev)
	return nil
}

// writeVerAckMsg acknowledges the remote version message.  The verack is
// sent as soon as the remote version is accepted rather than waiting for the
// remote verack first; the two directions of the exchange are independent.
func (p *Peer) writeVerAckMsg() error {
	if err := p.writeMessage(wire.NewMsgVerAck()); err != nil {
		return err
	}

	p.chain.add(newEvent(wire.CmdVerAck, EventOut))
	return nil
}

// waitForVerAck reads messages until the remote verack arrives.  Benign
// chatter such as ping, and commands this package does not handle, are
// skipped up to maxSkippedMessages times.
func (p *Peer) waitForVerAck() error {
	for skipped := 0; ; skipped++ {
		if skipped > maxSkippedMessages {
			return ErrStalledHandshake
		}

		remoteMsg, _, err := p.readMessage()
		if err != nil {
			if errors.Is(err, wire.ErrUnknownMessage) {
				log.Debugf("Skipping unknown message from %s "+
					"during handshake", p)
				continue
			}
			return err
		}

		if _, ok := remoteMsg.(*wire.MsgVerAck); !ok {
			log.Debugf("Skipping %s from %s during handshake",
				remoteMsg.Command(), p)
			continue
		}

		p.flagsMtx.Lock()
		p.verAckReceived = true
		p.flagsMtx.Unlock()

		p.chain.add(newEvent(wire.CmdVerAck, EventIn))
		return nil
	}
}

// Negotiate performs the version/verack handshake with the remote peer: it
// sends the local version message, waits for the remote version, acknowledges
// it with a verack, and waits for the remote verack, skipping a bounded
// amount of unrelated chatter.  The whole exchange runs under the configured
// handshake timeout; expiry at any step fails the attempt with a network
// timeout error.
//
// On failure the connection is closed and a *HandshakeError naming the state
// reached is returned.  On success the remote peer's advertised protocol
// version, services, user agent, and starting height are available via the
// corresponding accessors, and EventChain records the exchange.
func (p *Peer) Negotiate() error {
	// One deadline bounds every read and write in the exchange.
	if p.cfg.HandshakeTimeout > 0 {
		deadline := time.Now().Add(p.cfg.HandshakeTimeout)
		if err := p.conn.SetDeadline(deadline); err != nil {
			p.Disconnect()
			return &HandshakeError{State: stateInit.String(), Err: err}
		}
	}

	p.chain = newEventChain(p.addr)

	state := stateInit
	fail := func(err error) error {
		hsErr := &HandshakeError{State: state.String(), Err: err}
		log.Debugf("Handshake with %s failed: %v", p, hsErr)
		p.Disconnect()
		return hsErr
	}

	if err := p.writeLocalVersionMsg(); err != nil {
		return fail(err)
	}
	state = stateVersionSent

	if err := p.readRemoteVersionMsg(); err != nil {
		return fail(err)
	}
	state = stateVersionReceived

	if err := p.writeVerAckMsg(); err != nil {
		return fail(err)
	}
	state = stateVerAckSent

	if err := p.waitForVerAck(); err != nil {
		return fail(err)
	}
	state = stateEstablished

	p.chain.markAsComplete()
	p.conn.SetDeadline(time.Time{})

	log.Debugf("Handshake with %s complete (%s)", p, state)
	return nil
}

// minUint32 is a helper function to return the minimum of two uint32s.
// This avoids a math import and the need to cast to floats.
func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
