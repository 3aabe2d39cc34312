package session

import (
	"errors"

	"github.com/MrWong99/medinterp/internal/delta"
	"github.com/MrWong99/medinterp/internal/protocol"
	"github.com/MrWong99/medinterp/pkg/audio"
)

// Kind tags a surfaced error for the UI.
type Kind string

const (
	// KindNotConnected: an operation needed the service connection and it
	// was not open, or it dropped.
	KindNotConnected Kind = "not_connected"

	// KindDecode: a transport frame or audio payload was malformed.
	KindDecode Kind = "decode"

	// KindProtocol: an event or command arrived in a state that does not
	// accept it.
	KindProtocol Kind = "protocol_violation"

	// KindDevice: the microphone or speaker failed.
	KindDevice Kind = "device"

	// KindRemote: the service reported a failure.
	KindRemote Kind = "remote"
)

// Command rejections. They are wrapped in an [*Error].
var (
	ErrNotConnected  = errors.New("not connected to interpretation service")
	ErrBusy          = errors.New("another turn or response is in progress")
	ErrNoActiveTurn  = errors.New("no turn is being recorded")
	ErrNoTranscripts = errors.New("nothing to summarize yet")
	ErrUnknownRole   = errors.New("unknown role")
	ErrConnLost      = errors.New("connection to interpretation service lost")
)

// Error is a tagged, human-readable failure surfaced to the UI.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// newError tags err with the kind derived from its cause.
func newError(msg string, err error) *Error {
	return &Error{Kind: KindOf(err), Message: msg, Err: err}
}

// KindOf classifies err. Errors already tagged keep their kind; anything not
// recognised came from the connection itself and is reported as
// [KindNotConnected].
func KindOf(err error) Kind {
	var se *Error
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, audio.ErrDecode), errors.Is(err, protocol.ErrMalformed):
		return KindDecode
	case errors.Is(err, delta.ErrProtocolViolation):
		return KindProtocol
	case errors.Is(err, audio.ErrDevice), errors.Is(err, audio.ErrInvalidRate):
		return KindDevice
	default:
		// transport.ErrNotConnected, dial and write failures.
		return KindNotConnected
	}
}

