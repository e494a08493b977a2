package provider

import (
	"context"
	"fmt"

	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/message"
)

// Registry resolves a provider name to its StreamFn, mirroring the
// teacher's ProviderFactory switch but returning a stream constructor
// instead of a blocking client.
type Registry struct {
	streams map[string]StreamFn
}

// NewRegistry wires up the built-in backends.
func NewRegistry() *Registry {
	return &Registry{
		streams: map[string]StreamFn{
			"anthropic": AnthropicStream,
			"openai":    OpenAIStream,
			"gemini":    GeminiStream,
		},
	}
}

// Register installs or overrides a backend, e.g. a test double.
func (r *Registry) Register(name string, fn StreamFn) {
	r.streams[name] = fn
}

// Stream resolves model.Provider and begins streaming, or returns a
// stream that immediately ends with an "unsupported provider" error.
func (r *Registry) Stream(ctx context.Context, model ModelDef, call CallContext, opts CallOptions) *eventstream.Stream[LLMEvent, Result] {
	fn, ok := r.streams[model.Provider]
	if !ok {
		out := eventstream.New[LLMEvent, Result](1)
		out.End(Result{Err: fmt.Errorf("unsupported provider: %s", model.Provider)})
		return out
	}
	return fn(ctx, model, call, opts)
}

// CompleteSimple drains a Stream into a single string, for callers (the
// compactor's Summarizer) that only need text-in/text-out.
func (r *Registry) CompleteSimple(ctx context.Context, model ModelDef, system, userPrompt string, maxTokens int) (string, error) {
	call := CallContext{
		Messages:     nil,
		SystemPrompt: system,
	}
	call.Messages = append(call.Messages, message.PlainText(message.RoleUser, userPrompt))

	stream := r.Stream(ctx, model, call, CallOptions{MaxTokens: maxTokens})

	var text string
	for event := range stream.Events() {
		if event.Type == LLMEventTextEnd {
			text = event.Content
		}
	}
	result := stream.Result()
	if result.Err != nil {
		return "", result.Err
	}
	return text, nil
}
