// Package provider defines the streaming LLM contract the turn loop
// consumes and adapts it across Anthropic, OpenAI, and Gemini backends.
// Providers are collaborators, not core logic: the loop only depends on
// StreamFn and CompleteSimple.
package provider

import (
	"context"

	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/tool"
)

// ModelDef identifies which model/provider pairing to call.
type ModelDef struct {
	Provider string
	Model    string
	APIKey   string
}

// CallContext is everything the turn loop already knows and passes
// through unchanged: message history, system prompt, and tool defs.
type CallContext struct {
	Messages     []message.Message
	SystemPrompt string
	Tools        []tool.Definition
}

// CallOptions carries per-call knobs the loop controls (temperature,
// token cap); it does not carry retry policy, which lives in turnloop.
type CallOptions struct {
	Temperature float64
	MaxTokens   int
}

// ToolCall is a completed tool invocation the provider extracted from
// the model's response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// LLMEventType discriminates the small streaming taxonomy a provider
// emits mid-call.
type LLMEventType string

const (
	LLMEventTextDelta     LLMEventType = "text_delta"
	LLMEventTextEnd       LLMEventType = "text_end"
	LLMEventToolCallStart LLMEventType = "toolcall_start"
	LLMEventToolCallEnd   LLMEventType = "toolcall_end"
)

// LLMEvent is the flat tagged variant a provider's stream carries.
type LLMEvent struct {
	Type LLMEventType

	Delta    string
	Content  string
	ToolCall ToolCall
}

// Usage reports token accounting for one call, when the backend exposes it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the terminal value of an LLM streaming call.
type Result struct {
	Usage Usage
	Err   error
}

// StreamFn is the contract every backend adapter implements: given a
// model, the call context, and per-call options, begin streaming
// LLMEvents and settle with a Result.
type StreamFn func(ctx context.Context, model ModelDef, call CallContext, opts CallOptions) *eventstream.Stream[LLMEvent, Result]

// CompleteSimple is a non-streaming text-in/text-out convenience the
// compactor's Summarizer is built from: send a system+user prompt, get
// back the full text.
type CompleteSimple func(ctx context.Context, model ModelDef, system, userPrompt string, maxTokens int) (string, error)

func TextDelta(delta string) LLMEvent   { return LLMEvent{Type: LLMEventTextDelta, Delta: delta} }
func TextEnd(content string) LLMEvent   { return LLMEvent{Type: LLMEventTextEnd, Content: content} }
func ToolCallStart() LLMEvent           { return LLMEvent{Type: LLMEventToolCallStart} }
func ToolCallEnd(call ToolCall) LLMEvent {
	return LLMEvent{Type: LLMEventToolCallEnd, ToolCall: call}
}
