// Package session implements the interpretation session state machine.
//
// A [Machine] owns the only session in the process. It tracks the connection
// status, which role holds the floor, and the in-flight response; it turns UI
// commands ([Machine.StartTurn], [Machine.StopTurn], [Machine.RequestSummary])
// into protocol envelopes and service envelopes into UI [Event]s.
//
// All state lives on the goroutine running [Machine.Run]. Commands and
// transport callbacks are posted to that goroutine and processed one at a
// time, so no two transitions ever run concurrently.
package session

import (
	"fmt"

	"github.com/MrWong99/medinterp/pkg/audio"
)

// Role identifies who is speaking in a turn.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Roles lists every role in display order.
var Roles = []Role{RolePatient, RoleDoctor}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RolePatient || r == RoleDoctor
}

// ParseRole converts s to a [Role].
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("session: unknown role %q", s)
	}
	return r, nil
}

// State is the position of the session in the turn cycle.
type State int

const (
	// StateIdle means no turn is active and no response is in flight.
	StateIdle State = iota

	// StateTurnActive means the microphone is capturing for a role.
	StateTurnActive

	// StateAwaitingResponse means the turn was submitted and text and audio
	// deltas are accumulating.
	StateAwaitingResponse

	// StateSummaryRequested means a conversation summary is in flight.
	StateSummaryRequested
)

// String returns the name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTurnActive:
		return "turn_active"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateSummaryRequested:
		return "summary_requested"
	default:
		return "unknown"
	}
}

// Status is the connection status as seen by the UI. It only becomes
// [StatusConnected] once the service reports that its backend is ready.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Profile selects the client→service envelope dialect.
type Profile string

const (
	// ProfileTurn submits turns as patient_speech / doctor_speech.
	ProfileTurn Profile = "turn"

	// ProfileConversation submits turns as begin_conversation with a role
	// field and expects role-tagged completions.
	ProfileConversation Profile = "conversation"
)

// IsValid reports whether p is a known profile.
func (p Profile) IsValid() bool {
	return p == ProfileTurn || p == ProfileConversation
}

// EventKind classifies an [Event].
type EventKind string

const (
	EventConnectionState     EventKind = "connection_state"
	EventTranslationProgress EventKind = "translation_progress"
	EventTurnCompleted       EventKind = "turn_completed"
	EventAudioReady          EventKind = "audio_ready"
	EventSummaryReady        EventKind = "summary_ready"
	EventNotice              EventKind = "notice"
	EventError               EventKind = "error"
)

// Event is what the machine reports to the UI collaborator. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind EventKind

	// Status is set for EventConnectionState.
	Status Status

	// Role is set for EventTurnCompleted.
	Role Role

	// Text carries the cumulative progress text, the finalized utterance,
	// the summary or the notice, depending on Kind. An empty progress text
	// means the live display should be cleared.
	Text string

	// Audio is set for EventAudioReady.
	Audio audio.AudioBuffer

	// Err is set for EventError.
	Err *Error
}

// Snapshot is a copy of the session state at one point in time.
type Snapshot struct {
	Status    Status
	State     State
	SessionID string

	// Role holds the floor while State is StateTurnActive or
	// StateAwaitingResponse.
	Role Role

	// Progress is the text streamed so far for the in-flight response.
	Progress string

	// Summary is the last conversation summary received.
	Summary string

	// Transcripts holds the finalized utterances per role, oldest first.
	Transcripts map[Role][]string
}
