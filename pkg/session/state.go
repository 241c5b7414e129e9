package session

import "time"

// State is a session's lifecycle stage. Stages only move forward.
type State int32

const (
	Connecting State = iota
	AwaitingParticipant
	Active
	Ending
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case AwaitingParticipant:
		return "AWAITING_PARTICIPANT"
	case Active:
		return "ACTIVE"
	case Ending:
		return "ENDING"
	case Terminated:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// EventType names what an Event reports.
type EventType string

const (
	EventState      EventType = "state"
	EventTurnState  EventType = "turn_state"
	EventTranscript EventType = "transcript"
	EventToolCall   EventType = "tool_call"
	EventError      EventType = "error"
)

// Event is a lifecycle or conversation update, published to observers.
type Event struct {
	Type    EventType `json:"type"`
	Session string    `json:"session"`
	Room    string    `json:"room"`
	Time    time.Time `json:"time"`

	State string `json:"state,omitempty"`
	Text  string `json:"text,omitempty"`
	Tool  string `json:"tool,omitempty"`
	Error string `json:"error,omitempty"`
}
