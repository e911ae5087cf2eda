package wire

import (
	"bytes"
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// TestVersion tests the MsgVersion API.
func TestVersion(t *testing.T) {
	pver := ProtocolVersion

	// Create version message data.
	tcpAddrMe := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8333}
	me := NewNetAddress(tcpAddrMe, SFNodeNetwork)
	tcpAddrYou := &net.TCPAddr{IP: net.ParseIP("192.168.0.1"), Port: 8333}
	you := NewNetAddress(tcpAddrYou, SFNodeNetwork)
	nonce, err := RandomUint64()
	if err != nil {
		t.Errorf("RandomUint64: error generating nonce: %v", err)
	}

	// Ensure we get the correct data back out.
	msg := NewMsgVersion(me, you, nonce, 0)
	if msg.ProtocolVersion != int32(pver) {
		t.Errorf("NewMsgVersion: wrong protocol version - got %v, want %v",
			msg.ProtocolVersion, pver)
	}
	if !reflect.DeepEqual(&msg.AddrMe, me) {
		t.Errorf("NewMsgVersion: wrong me address - got %v, want %v",
			spew.Sdump(&msg.AddrMe), spew.Sdump(me))
	}
	if !reflect.DeepEqual(&msg.AddrYou, you) {
		t.Errorf("NewMsgVersion: wrong you address - got %v, want %v",
			spew.Sdump(&msg.AddrYou), spew.Sdump(you))
	}
	if msg.Nonce != nonce {
		t.Errorf("NewMsgVersion: wrong nonce - got %v, want %v",
			msg.Nonce, nonce)
	}
	if msg.UserAgent != DefaultUserAgent {
		t.Errorf("NewMsgVersion: wrong user agent - got %v, want %v",
			msg.UserAgent, DefaultUserAgent)
	}
	if msg.LastBlock != 0 {
		t.Errorf("NewMsgVersion: wrong last block - got %v, want 0",
			msg.LastBlock)
	}
	if msg.DisableRelay {
		t.Errorf("NewMsgVersion: disable relay is set by default")
	}

	err = msg.AddUserAgent("myclient", "1.2.3", "optional", "comments")
	if err != nil {
		t.Errorf("AddUserAgent: %v", err)
	}
	customUserAgent := DefaultUserAgent + "myclient:1.2.3(optional; comments)/"
	if msg.UserAgent != customUserAgent {
		t.Errorf("AddUserAgent: wrong user agent - got %s, want %s",
			msg.UserAgent, customUserAgent)
	}

	err = msg.AddUserAgent("mygeneratedclient", "4.5.6")
	if err != nil {
		t.Errorf("AddUserAgent: %v", err)
	}
	customUserAgent += "mygeneratedclient:4.5.6/"
	if msg.UserAgent != customUserAgent {
		t.Errorf("AddUserAgent: wrong user agent - got %s, want %s",
			msg.UserAgent, customUserAgent)
	}

	// Version message should not have any services set by default.
	if msg.Services != 0 {
		t.Errorf("NewMsgVersion: wrong default services - got %v, want 0",
			msg.Services)
	}
	if msg.HasService(SFNodeNetwork) {
		t.Errorf("HasService: SFNodeNetwork service is set")
	}

	// Ensure the command is expected value.
	wantCmd := "version"
	if cmd := msg.Command(); cmd != wantCmd {
		t.Errorf("NewMsgVersion: wrong command - got %v want %v",
			cmd, wantCmd)
	}

	// Ensure max payload is expected value.
	// Protocol version 4 bytes + services 8 bytes + timestamp 8 bytes +
	// remote and local net addresses + nonce 8 bytes + length of user
	// agent (varInt) + max allowed user agent length + last block 4 bytes +
	// relay transactions flag 1 byte.
	wantPayload := uint32(350)
	maxPayload := msg.MaxPayloadLength(pver)
	if maxPayload != wantPayload {
		t.Errorf("MaxPayloadLength: wrong max payload length for "+
			"protocol version %d - got %v, want %v", pver,
			maxPayload, wantPayload)
	}

	// Ensure adding the full service node flag works.
	msg.AddService(SFNodeNetwork)
	if msg.Services != SFNodeNetwork {
		t.Errorf("AddService: wrong services - got %v, want %v",
			msg.Services, SFNodeNetwork)
	}
	if !msg.HasService(SFNodeNetwork) {
		t.Errorf("HasService: SFNodeNetwork service not set")
	}
}

// baseVersion is used in the various tests as a baseline MsgVersion.
var baseVersion = &MsgVersion{
	ProtocolVersion: 70013,
	Services:        SFNodeNetwork,
	Timestamp:       time.Unix(0x495fab29, 0), // 2009-01-03 12:15:05 -0600 CST
	AddrYou: NetAddress{
		Services: SFNodeNetwork,
		IP:       net.ParseIP("192.168.0.1"),
		Port:     8333,
	},
	AddrMe: NetAddress{
		Services: SFNodeNetwork,
		IP:       net.ParseIP("127.0.0.1"),
		Port:     8333,
	},
	Nonce:     123123, // 0x1e0f3
	UserAgent: "/btchstest:0.0.1/",
	LastBlock: 234234, // 0x392fa
}

// baseVersionEncoded is the wire encoded bytes for baseVersion using protocol
// version 70013 and is used in the various tests.
var baseVersionEncoded = []byte{
	0x7d, 0x11, 0x01, 0x00, // Protocol version 70013
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // SFNodeNetwork
	0x29, 0xab, 0x5f, 0x49, 0x00, 0x00, 0x00, 0x00, // 64-bit Timestamp
	// AddrYou -- No timestamp for NetAddress in version message
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // SFNodeNetwork
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0xff, 0xff, 0xc0, 0xa8, 0x00, 0x01, // IP 192.168.0.1
	0x20, 0x8d, // Port 8333 in big-endian
	// AddrMe -- No timestamp for NetAddress in version message
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // SFNodeNetwork
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0xff, 0xff, 0x7f, 0x00, 0x00, 0x01, // IP 127.0.0.1
	0x20, 0x8d, // Port 8333 in big-endian
	0xf3, 0xe0, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, // Nonce
	0x11, // Varint for user agent length
	0x2f, 0x62, 0x74, 0x63, 0x68, 0x73, 0x74, 0x65,
	0x73, 0x74, 0x3a, 0x30, 0x2e, 0x30, 0x2e, 0x31,
	0x2f, // User agent "/btchstest:0.0.1/"
	0xfa, 0x92, 0x03, 0x00, // Last block
	0x01, // Relay tx
}

// TestVersionWire tests the MsgVersion wire encode and decode against the
// exact protocol byte layout.
func TestVersionWire(t *testing.T) {
	pver := ProtocolVersion

	// Encode the message to wire format.
	var buf bytes.Buffer
	err := baseVersion.BtcEncode(&buf, pver)
	if err != nil {
		t.Fatalf("BtcEncode error %v", err)
	}
	if !bytes.Equal(buf.Bytes(), baseVersionEncoded) {
		t.Fatalf("BtcEncode\n got: %s want: %s",
			spew.Sdump(buf.Bytes()), spew.Sdump(baseVersionEncoded))
	}

	// Decode the message from wire format.
	var msg MsgVersion
	rbuf := bytes.NewBuffer(baseVersionEncoded)
	err = msg.BtcDecode(rbuf, pver)
	if err != nil {
		t.Fatalf("BtcDecode error %v", err)
	}
	if !reflect.DeepEqual(&msg, baseVersion) {
		t.Fatalf("BtcDecode\n got: %s want: %s",
			spew.Sdump(&msg), spew.Sdump(baseVersion))
	}
}

// TestVersionWireErrors performs negative tests against wire encode and
// decode of MsgVersion to confirm error paths work correctly.
func TestVersionWireErrors(t *testing.T) {
	pver := ProtocolVersion

	// Decode through a plain reader must be rejected; the decoder relies
	// on buffer semantics for the optional trailing fields.
	var msg MsgVersion
	err := msg.BtcDecode(bytes.NewReader(baseVersionEncoded), pver)
	if err == nil {
		t.Fatal("BtcDecode accepted a non-buffer reader")
	}

	// Truncations at every offset must error, never panic, except at the
	// offsets where the message legitimately ends early because all
	// fields past the you address are optional.
	optionalBoundaries := map[int]bool{
		46:  true, // through AddrYou
		72:  true, // through AddrMe
		80:  true, // through Nonce
		98:  true, // through UserAgent
		102: true, // through LastBlock (no relay flag)
	}
	for i := 0; i < len(baseVersionEncoded); i++ {
		var tmsg MsgVersion
		rbuf := bytes.NewBuffer(baseVersionEncoded[:i])
		err := tmsg.BtcDecode(rbuf, pver)
		if optionalBoundaries[i] {
			if err != nil {
				t.Fatalf("BtcDecode rejected optional boundary "+
					"at %d bytes: %v", i, err)
			}
			continue
		}
		if err == nil {
			t.Fatalf("BtcDecode accepted truncation at %d bytes", i)
		}
	}

	// Encoding a user agent beyond the cap must be rejected.
	exceedAgent := strings.Repeat("x", MaxUserAgentLen+1)
	badAgentVersion := *baseVersion
	badAgentVersion.UserAgent = exceedAgent
	var buf bytes.Buffer
	err = badAgentVersion.BtcEncode(&buf, pver)
	if !errors.Is(err, ErrOversizedField) {
		t.Fatalf("BtcEncode oversized agent: wrong error %v", err)
	}

	// Decoding a user agent beyond the cap must be rejected too.  Build
	// the payload by hand since the encoder refuses to produce it.
	var obuf bytes.Buffer
	writeElements(&obuf, baseVersion.ProtocolVersion, baseVersion.Services,
		baseVersion.Timestamp.Unix())
	writeNetAddress(&obuf, pver, &baseVersion.AddrYou, false)
	writeNetAddress(&obuf, pver, &baseVersion.AddrMe, false)
	writeElement(&obuf, baseVersion.Nonce)
	WriteVarString(&obuf, pver, exceedAgent)
	var dmsg MsgVersion
	err = dmsg.BtcDecode(bytes.NewBuffer(obuf.Bytes()), pver)
	if !errors.Is(err, ErrOversizedField) {
		t.Fatalf("BtcDecode oversized agent: wrong error %v", err)
	}
}

// TestVersionOptionalFields performs tests to ensure that an encoded version
// messages that omit optional fields are handled correctly.
func TestVersionOptionalFields(t *testing.T) {
	pver := ProtocolVersion

	// onlyRequiredVersion is a version message that only contains the
	// required versions and all other values set to their default values.
	onlyRequiredVersion := MsgVersion{
		ProtocolVersion: 70013,
		Services:        SFNodeNetwork,
		Timestamp:       time.Unix(0x495fab29, 0),
		AddrYou: NetAddress{
			Services: SFNodeNetwork,
			IP:       net.ParseIP("192.168.0.1"),
			Port:     8333,
		},
	}
	onlyRequiredVersionEncoded := make([]byte, len(baseVersionEncoded)-57)
	copy(onlyRequiredVersionEncoded, baseVersionEncoded)

	// addrMeVersion is a version message that contains all fields through
	// the AddrMe field.
	addrMeVersion := onlyRequiredVersion
	addrMeVersion.AddrMe = NetAddress{
		Services: SFNodeNetwork,
		IP:       net.ParseIP("127.0.0.1"),
		Port:     8333,
	}
	addrMeVersionEncoded := make([]byte, len(baseVersionEncoded)-31)
	copy(addrMeVersionEncoded, baseVersionEncoded)

	// nonceVersion is a version message that contains all fields through
	// the Nonce field.
	nonceVersion := addrMeVersion
	nonceVersion.Nonce = 123123 // 0x1e0f3
	nonceVersionEncoded := make([]byte, len(baseVersionEncoded)-23)
	copy(nonceVersionEncoded, baseVersionEncoded)

	tests := []struct {
		msg *MsgVersion // Expected message
		buf []byte      // Wire encoding
	}{
		{&onlyRequiredVersion, onlyRequiredVersionEncoded},
		{&addrMeVersion, addrMeVersionEncoded},
		{&nonceVersion, nonceVersionEncoded},
	}

	for i, test := range tests {
		// Decode the message from wire format.
		var msg MsgVersion
		rbuf := bytes.NewBuffer(test.buf)
		err := msg.BtcDecode(rbuf, pver)
		if err != nil {
			t.Errorf("BtcDecode #%d error %v", i, err)
			continue
		}
		if !reflect.DeepEqual(&msg, test.msg) {
			t.Errorf("BtcDecode #%d\n got: %s want: %s", i,
				spew.Sdump(&msg), spew.Sdump(test.msg))
			continue
		}
	}
}
