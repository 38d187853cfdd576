package anthropic

import (
	"encoding/json"
	"strings"
)

// Block types shared by requests and responses.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons the tool loop branches on.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageRequest is one Messages API call.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Tools       []Tool
	Temperature *float64
}

// SystemBlock is a system prompt block, optionally with cache control.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl configures caching for a content block.
type CacheControl struct {
	TTL string
}

// Tool declares a client-side tool the model may call.
type Tool struct {
	Name        string
	Description string
	// Properties is the JSON schema "properties" object for the input.
	Properties map[string]any
	Required   []string
}

// Message is one conversational turn. Content is used for plain text
// turns; Blocks carries tool_use and tool_result turns.
type Message struct {
	Role    string
	Content string
	Blocks  []ContentBlock
}

// UserText returns a plain user turn.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// ContentBlock is a block of content in a request or response.
type ContentBlock struct {
	Type string
	Text string

	// tool_use
	ID    string
	Name  string
	Input json.RawMessage

	// tool_result
	ToolUseID string
	IsError   bool
}

// ToolResult answers the tool_use block with the given id.
func ToolResult(toolUseID, output string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Text: output, IsError: isError}
}

// MessageResponse is the result of CreateMessage.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	Usage        TokenUsage
	StopSequence string
}

// ToolUses returns the tool_use blocks of the response in emission order.
func (r *MessageResponse) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Text joins the response's text blocks.
func (r *MessageResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type != BlockText || b.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}
