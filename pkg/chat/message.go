package chat

// Role identifies the author of a chat message as seen by the model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Attachment carries file content fed to the model alongside a message.
// Data is populated by fetching StorageURL back from blob storage.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url,omitempty"`
	Data      []byte `json:"-"`
}

// ToolCall is a function invocation requested by the model. Arguments is the
// raw JSON string as streamed back.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one role-tagged entry in the ordered sequence fed to the model.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// ToolCalls is set on assistant messages that requested tool invocations.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ToolCallID links a tool-result message back to the call that produced it.
	ToolCallID string `json:"toolCallID,omitempty"`
	// ToolName is set on tool-result messages.
	ToolName string `json:"toolName,omitempty"`
}

func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

func NewToolCallMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func NewToolResultMessage(toolCallID, toolName, result string) Message {
	return Message{Role: RoleTool, Content: result, ToolCallID: toolCallID, ToolName: toolName}
}
