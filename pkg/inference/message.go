package inference

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation sent to the model.
//
// An assistant message with ToolCalls is followed by one RoleTool message
// per call, each naming the call it answers in ToolCallID. Servers reject
// a tool message whose call is missing, so history must keep those groups
// whole.
type Message struct {
	Role       Role
	Content    string
	Name       string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a function call requested by the model. Arguments is the raw
// JSON object the model produced and may be malformed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool is a function definition offered to the model.
type Tool struct {
	Type     string
	Function ToolFunction
}

// ToolFunction names a function and its JSON Schema parameters.
type ToolFunction struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolCallMessage records the assistant's request for calls. content is
// whatever text the model spoke before asking.
func NewToolCallMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage answers the call identified by toolCallID.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// NewTool builds a function tool definition.
func NewTool(name, description string, parameters map[string]any) Tool {
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// TrimHistory keeps every system message of msgs and at most max of the
// others, in order. The kept conversation starts at a user message so that
// no tool result loses the assistant message that requested it; when no
// user message is in range the conversation is dropped. max <= 0 disables
// trimming.
func TrimHistory(msgs []Message, max int) []Message {
	if max <= 0 {
		return msgs
	}
	var turns []int
	for i, m := range msgs {
		if m.Role != RoleSystem {
			turns = append(turns, i)
		}
	}
	if len(turns) <= max {
		return msgs
	}

	start := len(turns) - max
	for start < len(turns) && msgs[turns[start]].Role != RoleUser {
		start++
	}
	cut := len(msgs)
	if start < len(turns) {
		cut = turns[start]
	}
	out := make([]Message, 0, len(msgs)-len(turns)+len(turns)-start)
	for i, m := range msgs {
		if m.Role == RoleSystem || i >= cut {
			out = append(out, m)
		}
	}
	return out
}
