package turnloop

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelrun/agentcore/pkg/compactor"
	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/guard"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/provider"
	"github.com/kestrelrun/agentcore/pkg/pruner"
	"github.com/kestrelrun/agentcore/pkg/session"
	"github.com/kestrelrun/agentcore/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *guard.Guard {
	t.Helper()
	store, err := session.New(t.TempDir())
	require.NoError(t, err)
	return guard.New(store)
}

type scriptedClassifier struct {
	rateLimit       func(error) bool
	contextOverflow func(error) bool
}

func (c scriptedClassifier) IsRateLimit(err error) bool {
	if c.rateLimit == nil {
		return false
	}
	return c.rateLimit(err)
}

func (c scriptedClassifier) IsContextOverflow(err error) bool {
	if c.contextOverflow == nil {
		return false
	}
	return c.contextOverflow(err)
}

func textOnlyStream(text string) provider.StreamFn {
	return func(ctx context.Context, model provider.ModelDef, call provider.CallContext, opts provider.CallOptions) *eventstream.Stream[provider.LLMEvent, provider.Result] {
		out := eventstream.New[provider.LLMEvent, provider.Result](4)
		go func() {
			out.Push(provider.TextDelta(text))
			out.Push(provider.TextEnd(text))
			out.End(provider.Result{})
		}()
		return out
	}
}

func baseParams(t *testing.T, stream provider.StreamFn) Params {
	return Params{
		SessionKey:          "agent:test:main",
		Guard:               newTestGuard(t),
		Stream:              stream,
		Model:               provider.ModelDef{Provider: "fake", Model: "fake-model"},
		ContextWindowTokens: 200000,
		MaxTurns:            20,
		PrunerOptions:       pruner.Defaults(),
		CompactorOptions:    compactor.Defaults(),
		Retry:               DefaultRetryOptions(),
	}
}

func drainAll(stream *eventstream.Stream[eventstream.Event, Result]) []eventstream.Event {
	var events []eventstream.Event
	for e := range stream.Events() {
		events = append(events, e)
	}
	return events
}

func TestRun_SimpleTextReplyEndsWithoutToolCalls(t *testing.T) {
	params := baseParams(t, textOnlyStream("hello there"))
	params.InitialMessages = []message.Message{message.PlainText(message.RoleUser, "hi")}

	stream := Run(context.Background(), params)
	events := drainAll(stream)
	result := stream.Result()

	require.NoError(t, result.Err)
	assert.Equal(t, "hello there", result.FinalText)
	assert.Equal(t, 0, result.TotalToolCalls)

	assert.Equal(t, eventstream.EventAgentStart, events[0].Type)
	assert.Equal(t, eventstream.EventAgentEnd, events[len(events)-1].Type)
}

func TestRun_ExecutesToolCallThenStopsAtFinalText(t *testing.T) {
	callCount := 0
	streamFn := func(ctx context.Context, model provider.ModelDef, call provider.CallContext, opts provider.CallOptions) *eventstream.Stream[provider.LLMEvent, provider.Result] {
		out := eventstream.New[provider.LLMEvent, provider.Result](4)
		callCount++
		n := callCount
		go func() {
			if n == 1 {
				out.Push(provider.ToolCallEnd(provider.ToolCall{ID: "t1", Name: "echo", Arguments: map[string]interface{}{"msg": "hi"}}))
			} else {
				out.Push(provider.TextDelta("done"))
				out.Push(provider.TextEnd("done"))
			}
			out.End(provider.Result{})
		}()
		return out
	}

	params := baseParams(t, streamFn)
	params.InitialMessages = []message.Message{message.PlainText(message.RoleUser, "run echo")}
	params.Tools = []tool.Definition{{
		Name: "echo",
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return "echoed", nil
		},
	}}
	params.Policy = tool.Policy{}

	stream := Run(context.Background(), params)
	events := drainAll(stream)
	result := stream.Result()

	require.NoError(t, result.Err)
	assert.Equal(t, "done", result.FinalText)
	assert.Equal(t, 1, result.TotalToolCalls)

	var sawExecStart, sawExecEnd bool
	for _, e := range events {
		if e.Type == eventstream.EventToolExecutionStart {
			sawExecStart = true
		}
		if e.Type == eventstream.EventToolExecutionEnd {
			sawExecEnd = true
			assert.False(t, e.IsError)
		}
	}
	assert.True(t, sawExecStart)
	assert.True(t, sawExecEnd)
}

func TestRun_DeniedToolProducesErrorResultButContinues(t *testing.T) {
	callCount := 0
	streamFn := func(ctx context.Context, model provider.ModelDef, call provider.CallContext, opts provider.CallOptions) *eventstream.Stream[provider.LLMEvent, provider.Result] {
		out := eventstream.New[provider.LLMEvent, provider.Result](4)
		callCount++
		n := callCount
		go func() {
			if n == 1 {
				out.Push(provider.ToolCallEnd(provider.ToolCall{ID: "t1", Name: "danger", Arguments: nil}))
			} else {
				out.Push(provider.TextDelta("ok"))
				out.Push(provider.TextEnd("ok"))
			}
			out.End(provider.Result{})
		}()
		return out
	}

	params := baseParams(t, streamFn)
	params.InitialMessages = []message.Message{message.PlainText(message.RoleUser, "try danger")}
	params.Tools = []tool.Definition{{Name: "danger", Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return "should not run", nil
	}}}
	params.Policy = tool.Policy{Deny: []string{"danger"}}

	stream := Run(context.Background(), params)
	events := drainAll(stream)
	result := stream.Result()

	require.NoError(t, result.Err)
	found := false
	for _, e := range events {
		if e.Type == eventstream.EventToolExecutionEnd {
			found = true
			assert.True(t, e.IsError)
		}
	}
	assert.True(t, found)
}

func TestRun_RetriesRateLimitThenSucceeds(t *testing.T) {
	attempts := 0
	streamFn := func(ctx context.Context, model provider.ModelDef, call provider.CallContext, opts provider.CallOptions) *eventstream.Stream[provider.LLMEvent, provider.Result] {
		out := eventstream.New[provider.LLMEvent, provider.Result](4)
		attempts++
		n := attempts
		go func() {
			if n < 2 {
				out.End(provider.Result{Err: errors.New("rate limited")})
				return
			}
			out.Push(provider.TextDelta("recovered"))
			out.Push(provider.TextEnd("recovered"))
			out.End(provider.Result{})
		}()
		return out
	}

	params := baseParams(t, streamFn)
	params.InitialMessages = []message.Message{message.PlainText(message.RoleUser, "hi")}
	params.Classify = scriptedClassifier{rateLimit: func(err error) bool { return err != nil }}
	params.Retry = RetryOptions{MaxAttempts: 3, BaseDelay: 0, MaxDelay: 0, Jitter: 0}

	stream := Run(context.Background(), params)
	events := drainAll(stream)
	result := stream.Result()

	require.NoError(t, result.Err)
	assert.Equal(t, "recovered", result.FinalText)
	assert.Equal(t, 2, attempts)

	var sawRetry bool
	for _, e := range events {
		if e.Type == eventstream.EventRetry {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry)
}

func TestRun_NonRateLimitErrorEndsRunImmediately(t *testing.T) {
	streamFn := func(ctx context.Context, model provider.ModelDef, call provider.CallContext, opts provider.CallOptions) *eventstream.Stream[provider.LLMEvent, provider.Result] {
		out := eventstream.New[provider.LLMEvent, provider.Result](1)
		out.End(provider.Result{Err: errors.New("boom")})
		return out
	}

	params := baseParams(t, streamFn)
	params.InitialMessages = []message.Message{message.PlainText(message.RoleUser, "hi")}
	params.Classify = scriptedClassifier{}

	stream := Run(context.Background(), params)
	events := drainAll(stream)
	result := stream.Result()

	require.Error(t, result.Err)
	assert.Equal(t, eventstream.EventAgentError, events[len(events)-1].Type)
}

func TestRun_ContextOverflowTriggersOneShotCompactionThenSucceeds(t *testing.T) {
	callCount := 0
	streamFn := func(ctx context.Context, model provider.ModelDef, call provider.CallContext, opts provider.CallOptions) *eventstream.Stream[provider.LLMEvent, provider.Result] {
		out := eventstream.New[provider.LLMEvent, provider.Result](4)
		callCount++
		n := callCount
		go func() {
			if n == 1 {
				out.End(provider.Result{Err: errors.New("context too large")})
				return
			}
			out.Push(provider.TextDelta("compacted and answered"))
			out.Push(provider.TextEnd("compacted and answered"))
			out.End(provider.Result{})
		}()
		return out
	}

	params := baseParams(t, streamFn)
	params.InitialMessages = []message.Message{message.PlainText(message.RoleUser, "hi")}
	params.Classify = scriptedClassifier{contextOverflow: func(err error) bool { return err != nil }}
	params.Summarize = func(ctx context.Context, req compactor.SummarizeRequest) (string, error) {
		return "summary of prior turns", nil
	}

	stream := Run(context.Background(), params)
	events := drainAll(stream)
	result := stream.Result()

	require.NoError(t, result.Err)
	assert.Equal(t, "compacted and answered", result.FinalText)

	var sawOverflow bool
	for _, e := range events {
		if e.Type == eventstream.EventContextOverflowCompact {
			sawOverflow = true
		}
	}
	assert.True(t, sawOverflow)
}

func TestRun_OuterLoopReentersForFollowUpMessages(t *testing.T) {
	params := baseParams(t, textOnlyStream("second reply"))
	params.InitialMessages = []message.Message{message.PlainText(message.RoleUser, "first")}

	followUpsSent := false
	params.GetFollowUpMessages = func() []message.Message {
		if followUpsSent {
			return nil
		}
		followUpsSent = true
		return []message.Message{message.PlainText(message.RoleUser, "one more thing")}
	}

	stream := Run(context.Background(), params)
	_ = drainAll(stream)
	result := stream.Result()

	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Turns)
}

func TestRun_RespectsMaxTurns(t *testing.T) {
	streamFn := func(ctx context.Context, model provider.ModelDef, call provider.CallContext, opts provider.CallOptions) *eventstream.Stream[provider.LLMEvent, provider.Result] {
		out := eventstream.New[provider.LLMEvent, provider.Result](4)
		go func() {
			out.Push(provider.ToolCallEnd(provider.ToolCall{ID: "loop", Name: "noop", Arguments: nil}))
			out.End(provider.Result{})
		}()
		return out
	}

	params := baseParams(t, streamFn)
	params.MaxTurns = 3
	params.InitialMessages = []message.Message{message.PlainText(message.RoleUser, "hi")}
	params.Tools = []tool.Definition{{Name: "noop", Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return "ok", nil
	}}}

	stream := Run(context.Background(), params)
	_ = drainAll(stream)
	result := stream.Result()

	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Turns)
}
