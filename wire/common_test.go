package wire

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// TestVarIntWire tests wire encode and decode for variable length integers.
func TestVarIntWire(t *testing.T) {
	pver := ProtocolVersion

	tests := []struct {
		in  uint64 // Value to encode
		buf []byte // Wire encoding
	}{
		// Single byte
		{0, []byte{0x00}},
		// Max single byte
		{0xfc, []byte{0xfc}},
		// Min 2-byte
		{0xfd, []byte{0xfd, 0xfd, 0x00}},
		// Max 2-byte
		{0xffff, []byte{0xfd, 0xff, 0xff}},
		// Min 4-byte
		{0x10000, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}},
		// Max 4-byte
		{0xffffffff, []byte{0xfe, 0xff, 0xff, 0xff, 0xff}},
		// Min 8-byte
		{
			0x100000000,
			[]byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00},
		},
		// Max 8-byte
		{
			0xffffffffffffffff,
			[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		},
	}

	for i, test := range tests {
		// Encode to wire format.
		var buf bytes.Buffer
		err := WriteVarInt(&buf, pver, test.in)
		if err != nil {
			t.Errorf("WriteVarInt #%d error %v", i, err)
			continue
		}
		if !bytes.Equal(buf.Bytes(), test.buf) {
			t.Errorf("WriteVarInt #%d\n got: %s want: %s", i,
				spew.Sdump(buf.Bytes()), spew.Sdump(test.buf))
			continue
		}

		// Decode from wire format.
		rbuf := bytes.NewReader(test.buf)
		val, err := ReadVarInt(rbuf, pver)
		if err != nil {
			t.Errorf("ReadVarInt #%d error %v", i, err)
			continue
		}
		if val != test.in {
			t.Errorf("ReadVarInt #%d\n got: %d want: %d", i,
				val, test.in)
			continue
		}
	}
}

// TestVarIntNonCanonical ensures variable length integers that are not
// encoded canonically return the expected error.
func TestVarIntNonCanonical(t *testing.T) {
	pver := ProtocolVersion

	tests := []struct {
		name string
		in   []byte // Wire encoding
	}{
		{"0 encoded with 3 bytes", []byte{0xfd, 0x00, 0x00}},
		{"max single-byte encoded with 3 bytes", []byte{0xfd, 0xfc, 0x00}},
		{"0 encoded with 5 bytes", []byte{0xfe, 0x00, 0x00, 0x00, 0x00}},
		{
			"max three-byte encoded with 5 bytes",
			[]byte{0xfe, 0xff, 0xff, 0x00, 0x00},
		},
		{
			"0 encoded with 9 bytes",
			[]byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		},
		{
			"max five-byte encoded with 9 bytes",
			[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00},
		},
	}

	for i, test := range tests {
		rbuf := bytes.NewReader(test.in)
		val, err := ReadVarInt(rbuf, pver)
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("ReadVarInt #%d (%s) unexpected error %v", i,
				test.name, err)
			continue
		}
		if val != 0 {
			t.Errorf("ReadVarInt #%d (%s): have %d, want 0", i,
				test.name, val)
			continue
		}
	}
}

// TestVarStringWire tests wire encode and decode for variable length strings.
func TestVarStringWire(t *testing.T) {
	pver := ProtocolVersion

	// str256 is a string that takes a 2-byte varint to encode.
	str256 := strings.Repeat("test", 64)

	tests := []struct {
		in  string // String to encode
		buf []byte // Wire encoding
	}{
		// Empty string
		{"", []byte{0x00}},
		// Single byte varint + string
		{"Test", append([]byte{0x04}, []byte("Test")...)},
		// 2-byte varint + string
		{str256, append([]byte{0xfd, 0x00, 0x01}, []byte(str256)...)},
	}

	for i, test := range tests {
		// Encode to wire format.
		var buf bytes.Buffer
		err := WriteVarString(&buf, pver, test.in)
		if err != nil {
			t.Errorf("WriteVarString #%d error %v", i, err)
			continue
		}
		if !bytes.Equal(buf.Bytes(), test.buf) {
			t.Errorf("WriteVarString #%d\n got: %s want: %s", i,
				spew.Sdump(buf.Bytes()), spew.Sdump(test.buf))
			continue
		}

		// Decode from wire format.
		rbuf := bytes.NewReader(test.buf)
		val, err := ReadVarString(rbuf, pver)
		if err != nil {
			t.Errorf("ReadVarString #%d error %v", i, err)
			continue
		}
		if val != test.in {
			t.Errorf("ReadVarString #%d\n got: %s want: %s", i,
				val, test.in)
			continue
		}
	}
}

// TestVarStringOverflowErrors performs tests to ensure deserializing variable
// length strings intentionally crafted to use large values for the string
// length are handled properly.  This could otherwise potentially be used as
// an attack vector.
func TestVarStringOverflowErrors(t *testing.T) {
	pver := ProtocolVersion

	tests := []struct {
		buf  []byte // Wire encoding
		want error  // Expected sentinel
	}{
		// Declared length larger than the max message payload.
		{
			[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			ErrOversizedField,
		},
		{
			[]byte{0xfe, 0xff, 0xff, 0xff, 0xff},
			ErrOversizedField,
		},
		// Declared length exceeds the remaining bytes.
		{
			[]byte{0x04, 0x54},
			io.ErrUnexpectedEOF,
		},
	}

	for i, test := range tests {
		rbuf := bytes.NewReader(test.buf)
		_, err := ReadVarString(rbuf, pver)
		if !errors.Is(err, test.want) {
			t.Errorf("ReadVarString #%d wrong error got: %v, want: %v",
				i, err, test.want)
			continue
		}
	}
}

// TestRandomUint64 exercises the randomness of the random number generator on
// the system by ensuring the probability of the generated numbers.  If the RNG
// is evenly distributed as a proper cryptographic RNG should be, there really
// should only be 1 number < 2^56 in 2^8 tries for a 64-bit number.  However,
// use a higher number of 5 to really ensure the test doesn't fail unless the
// RNG is just horrendous.
func TestRandomUint64(t *testing.T) {
	tries := 1 << 8              // 2^8
	watermark := uint64(1 << 56) // 2^56
	maxHits := 5

	numHits := 0
	for i := 0; i < tries; i++ {
		nonce, err := RandomUint64()
		if err != nil {
			t.Errorf("RandomUint64 iteration %d failed - err %v",
				i, err)
			return
		}
		if nonce < watermark {
			numHits++
		}
		if numHits > maxHits {
			str := "The random number generator on this system is " +
				"clearly terrible since we got %d values less than %d in %d runs " +
				"when only %d was expected"
			t.Errorf(str, numHits, watermark, tries, maxHits)
			return
		}
	}
}

// TestRandomUint64Uniqueness generates a large batch of nonces and ensures
// there are no duplicates.  Nonce reuse across sessions would defeat self
// connection detection.
func TestRandomUint64Uniqueness(t *testing.T) {
	const numNonces = 10000

	seen := make(map[uint64]struct{}, numNonces)
	for i := 0; i < numNonces; i++ {
		nonce, err := RandomUint64()
		if err != nil {
			t.Fatalf("RandomUint64 iteration %d failed - err %v", i, err)
		}
		if _, ok := seen[nonce]; ok {
			t.Fatalf("duplicate nonce %d after %d generations", nonce, i)
		}
		seen[nonce] = struct{}{}
	}
}

// TestElementRoundTrip ensures the element helpers used by the concrete
// message types survive a round trip for every field width the protocol
// uses.
func TestElementRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := struct {
		u8  uint8
		u16 uint16
		i32 int32
		u32 uint32
		i64 int64
		u64 uint64
		sf  ServiceFlag
		b   bool
	}{
		u8: 0x01, u16: 0x0203, i32: -4, u32: 0x05060708,
		i64: -9, u64: 0x0a0b0c0d0e0f1011, sf: SFNodeNetwork, b: true,
	}
	err := writeElements(&buf, in.u8, in.u16, in.i32, in.u32, in.i64,
		in.u64, in.sf, in.b)
	if err != nil {
		t.Fatalf("writeElements: %v", err)
	}

	out := in
	out.u8, out.u16, out.i32, out.u32 = 0, 0, 0, 0
	out.i64, out.u64, out.sf, out.b = 0, 0, 0, false
	err = readElements(&buf, &out.u8, &out.u16, &out.i32, &out.u32,
		&out.i64, &out.u64, &out.sf, &out.b)
	if err != nil {
		t.Fatalf("readElements: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("element round trip mismatch\n got: %s want: %s",
			spew.Sdump(out), spew.Sdump(in))
	}
}
