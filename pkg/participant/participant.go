// Package participant describes the people in a call room and how they
// come and go. It has no media dependencies so that call logic can consume
// room events without linking the codec.
package participant

import "strings"

// EventType classifies room events.
type EventType int

const (
	Joined EventType = iota
	Left
	Disconnected
)

func (t EventType) String() string {
	switch t {
	case Joined:
		return "participant_joined"
	case Left:
		return "participant_left"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event is a participant or connection change.
type Event struct {
	Type     EventType
	Identity string

	// SIP is set for telephone callers.
	SIP bool
}

// IsSIP reports whether identity belongs to a SIP caller.
func IsSIP(identity string) bool {
	return strings.HasPrefix(identity, "sip_")
}

// JoinedEvent is the event for identity entering the room.
func JoinedEvent(identity string) Event {
	return Event{Type: Joined, Identity: identity, SIP: IsSIP(identity)}
}

// LeftEvent is the event for identity leaving the room.
func LeftEvent(identity string) Event {
	return Event{Type: Left, Identity: identity, SIP: IsSIP(identity)}
}
