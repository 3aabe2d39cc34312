// Package protocol defines the JSON envelopes exchanged with the remote
// interpretation service. Every WebSocket text frame carries exactly one
// [Envelope].
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type names an envelope.
type Type string

// Client → service.
const (
	TypeConnect           Type = "connect"
	TypePatientSpeech     Type = "patient_speech"
	TypeDoctorSpeech      Type = "doctor_speech"
	TypeBeginConversation Type = "begin_conversation"
	TypeGetSummary        Type = "get_summary"
)

// Service → client.
const (
	TypeSession            Type = "session"
	TypeServiceReady       Type = "openai_connected"
	TypeTextResponseDelta  Type = "text_response_delta"
	TypeTextResponseDone   Type = "text_response_done"
	TypeAudioResponseDelta Type = "audio_response_delta"
	TypeAudioResponseDone  Type = "audio_response_done"
	TypeResponseDone       Type = "response_done"
	TypeSummary            Type = "summary"
	TypeActionExecuted     Type = "action_executed"
	TypeError              Type = "error"
)

// Envelope is the union of all message fields. Only the fields relevant to
// Type are set; the rest are omitted on the wire.
type Envelope struct {
	Type Type `json:"type"`

	// session
	SessionID string `json:"session_id,omitempty"`

	// *_speech, begin_conversation: base64 PCM16 @ 24kHz.
	Audio string `json:"audio,omitempty"`

	// begin_conversation, text_response_done.
	Role string `json:"role,omitempty"`

	// text_response_delta, audio_response_delta.
	Delta string `json:"delta,omitempty"`

	// text_response_done.
	Text string `json:"text,omitempty"`

	// summary.
	Summary string `json:"summary,omitempty"`

	// action_executed.
	Action string `json:"action,omitempty"`

	// error.
	Message string `json:"message,omitempty"`
}

// ErrMalformed is returned by [Decode] for frames that are not a JSON object
// with a non-empty "type".
var ErrMalformed = errors.New("protocol: malformed envelope")

// Encode marshals env for transmission.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformed)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", env.Type, err)
	}
	return data, nil
}

// Decode parses one frame.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Connect returns the handshake sent after every transport open.
func Connect() Envelope { return Envelope{Type: TypeConnect} }

// GetSummary returns a summary request.
func GetSummary() Envelope { return Envelope{Type: TypeGetSummary} }
