// Package peer provides an outbound bitcoin peer session: a single owned TCP
// connection with framed message I/O and the version/verack negotiation that
// establishes the session.
package peer

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/lru"

	"github.com/btchs/btchs/chaincfg"
	"github.com/btchs/btchs/wire"
)

const (
	// MaxProtocolVersion is the max protocol version the peer supports.
	MaxProtocolVersion = wire.ProtocolVersion

	// DefaultConnectTimeout is the default duration to wait for the TCP
	// connect to complete before giving up on the peer.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultHandshakeTimeout is the default duration the whole
	// version/verack exchange may take before the session is abandoned.
	DefaultHandshakeTimeout = 10 * time.Second
)

// sentNonces houses the unique nonces that are generated when pushing version
// messages that are used to detect self connections.
var sentNonces = lru.NewCache(50)

// ConnectionError identifies a failure to establish the TCP connection to a
// peer.  The wrapped error preserves the dial stage detail (refused, timeout,
// resolution failure).
type ConnectionError struct {
	Addr string
	Err  error
}

// Error satisfies the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying dial error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Config is the struct to hold configuration options useful to Peer.
type Config struct {
	// UserAgentName specifies the user agent name to advertise.  It is
	// highly recommended to specify this value.
	UserAgentName string

	// UserAgentVersion specifies the user agent version to advertise.  It
	// is highly recommended to specify this value and that it follows the
	// form "major.minor.revision" e.g. "2.6.41".
	UserAgentVersion string

	// UserAgentComments specify the user agent comments to advertise.
	// These values must not contain the illegal characters specified in
	// BIP 14: '/', ':', '(', ')'.
	UserAgentComments []string

	// ChainParams identifies which chain parameters the peer is
	// associated with.  It is highly recommended to specify this field,
	// however it can be omitted in which case the test network will be
	// used.
	ChainParams *chaincfg.Params

	// Services specifies which services to advertise as supported by the
	// local peer.  This field can be omitted in which case it will be 0
	// and therefore advertise no supported services.
	Services wire.ServiceFlag

	// ProtocolVersion specifies the maximum protocol version to use and
	// advertise.  This field can be omitted in which case
	// peer.MaxProtocolVersion will be used.
	ProtocolVersion uint32

	// ConnectTimeout bounds the TCP connect performed by Dial.  It
	// defaults to DefaultConnectTimeout when zero.
	ConnectTimeout time.Duration

	// HandshakeTimeout bounds the entire version/verack exchange.  It
	// defaults to DefaultHandshakeTimeout when zero.
	HandshakeTimeout time.Duration

	// NonceGenerator supplies the random nonce placed in the local
	// version message.  It defaults to wire.RandomUint64 and exists so
	// tests can inject a deterministic source.
	NonceGenerator func() (uint64, error)
}

// Peer provides a bitcoin peer for handling the connection-establishment
// portion of the bitcoin protocol.  It owns exactly one outbound TCP
// connection, provides framed reading and writing of whole wire messages on
// it, and drives the initial version/verack negotiation via Negotiate.
// Querying of information about the remote peer such as its address, user
// agent, and advertised protocol version is safe for concurrent access once
// Negotiate has returned.
type Peer struct {
	// The following variables must only be used atomically.
	bytesReceived uint64
	bytesSent     uint64
	connected     int32
	disconnect    int32

	conn net.Conn
	addr string
	cfg  Config

	flagsMtx        sync.Mutex // protects the peer flags below
	nonce           uint64     // nonce sent in our version message
	protocolVersion uint32     // negotiated protocol version
	versionKnown    bool
	verAckReceived  bool
	services        wire.ServiceFlag // services advertised by remote
	userAgent       string
	startingHeight  int32

	chain *EventChain
}

// String returns the peer's address and directionality as a human-readable
// string.
func (p *Peer) String() string {
	return fmt.Sprintf("%s (outbound)", p.addr)
}

// Addr returns the peer address.
func (p *Peer) Addr() string {
	return p.addr
}

// ProtocolVersion returns the negotiated peer protocol version.
//
// This function is safe for concurrent access.
func (p *Peer) ProtocolVersion() uint32 {
	p.flagsMtx.Lock()
	protocolVersion := p.protocolVersion
	p.flagsMtx.Unlock()

	return protocolVersion
}

// Services returns the services flag of the remote peer.
//
// This function is safe for concurrent access.
func (p *Peer) Services() wire.ServiceFlag {
	p.flagsMtx.Lock()
	services := p.services
	p.flagsMtx.Unlock()

	return services
}

// UserAgent returns the user agent of the remote peer.
//
// This function is safe for concurrent access.
func (p *Peer) UserAgent() string {
	p.flagsMtx.Lock()
	userAgent := p.userAgent
	p.flagsMtx.Unlock()

	return userAgent
}

// StartingHeight returns the last known height the remote peer reported in
// its version message.
//
// This function is safe for concurrent access.
func (p *Peer) StartingHeight() int32 {
	p.flagsMtx.Lock()
	startingHeight := p.startingHeight
	p.flagsMtx.Unlock()

	return startingHeight
}

// VersionKnown returns the whether or not the version of a peer is known
// locally.
//
// This function is safe for concurrent access.
func (p *Peer) VersionKnown() bool {
	p.flagsMtx.Lock()
	versionKnown := p.versionKnown
	p.flagsMtx.Unlock()

	return versionKnown
}

// VerAckReceived returns whether or not a verack message was received by the
// peer.
//
// This function is safe for concurrent access.
func (p *Peer) VerAckReceived() bool {
	p.flagsMtx.Lock()
	verAckReceived := p.verAckReceived
	p.flagsMtx.Unlock()

	return verAckReceived
}

// BytesSent returns the total number of bytes sent by the peer.
//
// This function is safe for concurrent access.
func (p *Peer) BytesSent() uint64 {
	return atomic.LoadUint64(&p.bytesSent)
}

// BytesReceived returns the total number of bytes received by the peer.
//
// This function is safe for concurrent access.
func (p *Peer) BytesReceived() uint64 {
	return atomic.LoadUint64(&p.bytesReceived)
}

// EventChain returns the record of the messages exchanged by the most recent
// Negotiate call.  It is nil before Negotiate runs and must not be read until
// Negotiate returns.
func (p *Peer) EventChain() *EventChain {
	return p.chain
}

// Connected returns whether or not the peer is currently connected.
//
// This function is safe for concurrent access.
func (p *Peer) Connected() bool {
	return atomic.LoadInt32(&p.connected) != 0 &&
		atomic.LoadInt32(&p.disconnect) == 0
}

// Disconnect closes the peer connection.  It is idempotent: calling it on an
// already disconnected peer does nothing.
func (p *Peer) Disconnect() {
	if atomic.AddInt32(&p.disconnect, 1) != 1 {
		return
	}

	log.Tracef("Disconnecting %s", p)
	if atomic.LoadInt32(&p.connected) != 0 {
		p.conn.Close()
	}
}

// readMessage reads the next bitcoin message from the peer.
func (p *Peer) readMessage() (wire.Message, []byte, error) {
	n, msg, buf, err := wire.ReadMessageN(p.conn,
		p.ProtocolVersion(), p.cfg.ChainParams.Net)
	atomic.AddUint64(&p.bytesReceived, uint64(n))
	if err != nil {
		return nil, nil, err
	}

	log.Debugf("Received %v from %s", msg.Command(), p)
	return msg, buf, nil
}

// writeMessage sends a bitcoin message to the peer.  A write failure leaves
// the connection in an unusable state since an unknown portion of the
// message may have hit the wire.
func (p *Peer) writeMessage(msg wire.Message) error {
	n, err := wire.WriteMessageN(p.conn, msg,
		p.ProtocolVersion(), p.cfg.ChainParams.Net)
	atomic.AddUint64(&p.bytesSent, uint64(n))
	if err != nil {
		return err
	}

	log.Debugf("Sent %v to %s", msg.Command(), p)
	return nil
}

// newNetAddress attempts to extract the IP address and port from the passed
// net.Addr interface and create a bitcoin NetAddress structure using that
// information.
func newNetAddress(addr net.Addr, services wire.ServiceFlag) *wire.NetAddress {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return wire.NewNetAddress(tcpAddr, services)
	}

	// For the most part, addr should be one of the two above cases, but
	// to be safe, fall back to a zero address for anything else, e.g. a
	// pipe used in tests.
	return wire.NewNetAddressIPPort(net.IPv4zero, 0, services)
}

// NewOutboundPeer returns a peer that wraps an existing outbound connection
// to the given address.  Defaults are applied for any Config fields left at
// their zero value.
func NewOutboundPeer(conn net.Conn, addr string, cfg *Config) *Peer {
	// Copy so the caller can reuse and mutate its own Config.
	c := *cfg
	if c.ChainParams == nil {
		c.ChainParams = &chaincfg.TestNet3Params
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = MaxProtocolVersion
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.NonceGenerator == nil {
		c.NonceGenerator = wire.RandomUint64
	}

	p := &Peer{
		conn:            conn,
		addr:            addr,
		cfg:             c,
		protocolVersion: c.ProtocolVersion,
	}
	atomic.StoreInt32(&p.connected, 1)
	return p
}

// Dial opens a TCP connection to addr with the configured connect timeout
// and returns an outbound peer wrapping it.  Dial failures, including
// refused connections, connect timeouts, and name resolution errors, are
// returned as a *ConnectionError.
func Dial(addr string, cfg *Config) (*Peer, error) {
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	log.Debugf("Connected to %s", conn.RemoteAddr())
	return NewOutboundPeer(conn, addr, cfg), nil
}
