package turn

// State is the controller's view of who holds the floor.
type State int32

const (
	Listening State = iota
	UserSpeaking
	Thinking
	AssistantSpeaking
	Interrupted
)

func (s State) String() string {
	switch s {
	case Listening:
		return "LISTENING"
	case UserSpeaking:
		return "USER_SPEAKING"
	case Thinking:
		return "THINKING"
	case AssistantSpeaking:
		return "ASSISTANT_SPEAKING"
	case Interrupted:
		return "INTERRUPTED"
	}
	return "UNKNOWN"
}
