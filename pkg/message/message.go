// Package message defines the closed set of content blocks and messages
// that make up a session transcript.
package message

import "time"

// Role is the role a message was authored under. The transcript never
// carries a distinct "tool" role: tool results always ride inside a user
// message as tool_result blocks.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the variant a ContentBlock carries.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged variant over {text, tool_use, tool_result}.
// Only the fields for the block's Type are meaningful; this mirrors the
// flat tagged-struct shape used throughout the codebase for closed,
// small variant sets (session entries, lifecycle events) rather than an
// interface hierarchy.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Text is a convenience constructor.
func Text(s string) ContentBlock { return ContentBlock{Type: BlockText, Text: s} }

// ToolUse is a convenience constructor.
func ToolUse(id, name string, input map[string]interface{}) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResult is a convenience constructor.
func ToolResult(toolUseID, name, content string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Name: name, Content: content}
}

// Message is one entry in a session transcript.
type Message struct {
	// EntryID is assigned by the log on append; empty until persisted.
	EntryID   string         `json:"entry_id,omitempty"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// PlainText returns a single-block text message.
func PlainText(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{Text(text)}, Timestamp: time.Now()}
}

// JoinText concatenates every text block's content, in order.
func (m Message) JoinText() string {
	out := ""
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUseBlocks returns every tool_use block in the message.
func (m Message) ToolUseBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResultBlocks returns every tool_result block in the message.
func (m Message) ToolResultBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// IsToolResultCarrier reports whether the message is a user message whose
// content is entirely (and non-emptily) tool_result blocks.
func (m Message) IsToolResultCarrier() bool {
	if m.Role != RoleUser || len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}

// CharLen returns the total character length of a message's content,
// used by the pruner and compactor as the token-estimation basis.
func (m Message) CharLen() int {
	n := 0
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
			n += len(b.Text)
		case BlockToolUse:
			n += len(b.Name) + 16
			for k, v := range b.Input {
				n += len(k) + estimateValueChars(v)
			}
		case BlockToolResult:
			n += len(b.Content)
		}
	}
	return n
}

func estimateValueChars(v interface{}) int {
	switch t := v.(type) {
	case string:
		return len(t)
	default:
		return 16
	}
}

// CHARSPerTokenEstimate is the fixed char-to-token ratio used everywhere
// in the runtime that needs a token estimate without a real tokenizer.
const CharsPerTokenEstimate = 4

// EstimateTokens sums CharLen across messages and divides by the fixed
// chars-per-token ratio.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += m.CharLen()
	}
	return (total + CharsPerTokenEstimate - 1) / CharsPerTokenEstimate
}
