package wire

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by MessageError.  Callers use errors.Is against
// these to distinguish framing failures without string matching.
var (
	// ErrBadMagic is returned when a message header carries a network
	// magic that does not match the configured network.
	ErrBadMagic = errors.New("message from wrong bitcoin network")

	// ErrMalformedHeader is returned when the fixed 24-byte header is
	// structurally invalid, such as a command containing non-null bytes
	// after the first null terminator.
	ErrMalformedHeader = errors.New("malformed message header")

	// ErrUnknownMessage is returned when a header declares a command this
	// package does not handle.  The payload is drained from the stream so
	// the connection remains framed and usable.
	ErrUnknownMessage = errors.New("unhandled message command")

	// ErrPayloadTooLarge is returned when a declared payload length
	// exceeds the maximum allowed for the message or the protocol.
	ErrPayloadTooLarge = errors.New("message payload exceeds max length")

	// ErrChecksumMismatch is returned when the double SHA-256 of the
	// payload does not match the checksum carried in the header.
	ErrChecksumMismatch = errors.New("payload checksum mismatch")

	// ErrMalformedPayload is returned when a known message's payload
	// fails structural decoding.
	ErrMalformedPayload = errors.New("malformed message payload")

	// ErrOversizedField is returned when a variable-length field declares
	// a length beyond its sane maximum, such as an oversized user agent.
	ErrOversizedField = errors.New("variable length field exceeds maximum")

	// ErrInvalidCommand is returned when encoding a message whose command
	// does not fit in the fixed 12-byte header field.
	ErrInvalidCommand = errors.New("command exceeds max length")
)

// MessageError describes an issue with a message such as a malformed header,
// an unknown command, or a payload that exceeds the maximum allowed length.
// It wraps one of the sentinel errors above so callers can classify the
// failure with errors.Is while still getting full context from Error.
type MessageError struct {
	Func        string // Function name
	Description string // Human readable description of the issue
	Err         error  // Underlying sentinel, if any
}

// Error satisfies the error interface and prints human-readable errors.
func (e *MessageError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("%v: %v", e.Func, e.Description)
	}
	return e.Description
}

// Unwrap returns the wrapped sentinel error.
func (e *MessageError) Unwrap() error {
	return e.Err
}

// messageError creates an error for the given function and description
// wrapping the given sentinel.
func messageError(f string, err error, desc string) *MessageError {
	return &MessageError{Func: f, Description: desc, Err: err}
}
