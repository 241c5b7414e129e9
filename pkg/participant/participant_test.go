package participant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSIP(t *testing.T) {
	assert.True(t, IsSIP("sip_+56912345678"))
	assert.False(t, IsSIP("agent"))
	assert.False(t, IsSIP("web-sip_x"))
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "participant_joined", Joined.String())
	assert.Equal(t, "participant_left", Left.String())
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "unknown", EventType(9).String())
}

func TestEvents(t *testing.T) {
	assert.Equal(t, Event{Type: Joined, Identity: "sip_+1", SIP: true}, JoinedEvent("sip_+1"))
	assert.Equal(t, Event{Type: Left, Identity: "web-caller"}, LeftEvent("web-caller"))
}
