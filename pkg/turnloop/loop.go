// Package turnloop implements the dual-level agent turn loop (C5): an
// outer loop that re-enters for follow-up messages, and an inner loop
// that alternates model calls and serial tool execution while draining
// the steering queue at fixed checkpoints.
package turnloop

import (
	"context"
	"math/rand"
	"time"

	"github.com/kestrelrun/agentcore/pkg/compactor"
	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/guard"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/provider"
	"github.com/kestrelrun/agentcore/pkg/pruner"
	"github.com/kestrelrun/agentcore/pkg/tool"
	"github.com/rs/zerolog/log"
)

const skippedToolContent = "skipped due to queued user message"

// ErrorClassifier lets the loop recognize provider-specific failure
// modes without depending on any one backend's error types.
type ErrorClassifier interface {
	IsRateLimit(err error) bool
	IsContextOverflow(err error) bool
}

// RetryOptions tunes the LLM-call retry loop.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultRetryOptions returns the spec-mandated retry tuning.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: 0.1}
}

// Params configures one runLoop invocation. It is intentionally free of
// any dependency on the run controller: steering and follow-up messages
// are supplied as callbacks so turnloop stays a pure function of its
// inputs plus those two hooks.
type Params struct {
	SessionKey string

	Guard    *guard.Guard
	Stream   provider.StreamFn
	Model    provider.ModelDef
	Classify ErrorClassifier

	SystemPrompt string
	Tools        []tool.Definition
	Policy       tool.Policy

	ContextWindowTokens int
	MaxTurns            int
	Temperature         float64
	MaxTokens           int

	PrunerOptions    pruner.Options
	CompactorOptions compactor.Options
	Summarize        compactor.Summarizer

	InitialMessages []message.Message

	GetSteeringMessages func() []message.Message
	GetFollowUpMessages func() []message.Message

	Retry RetryOptions
}

// Result is the terminal value of the loop's event stream.
type Result struct {
	FinalText      string
	Turns          int
	TotalToolCalls int
	Err            error
}

// toolLookup resolves a tool by name for execution.
func toolLookup(tools []tool.Definition) map[string]tool.Definition {
	m := make(map[string]tool.Definition, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return m
}

// Run starts the loop and returns synchronously; events begin flowing
// from a detached goroutine.
func Run(ctx context.Context, params Params) *eventstream.Stream[eventstream.Event, Result] {
	out := eventstream.New[eventstream.Event, Result](64)
	go runLoop(ctx, params, out)
	return out
}

type loopState struct {
	currentMessages             []message.Message
	compactionSummary           string
	turns                       int
	totalToolCalls              int
	finalText                   string
	overflowCompactionAttempted bool
}

func runLoop(ctx context.Context, params Params, out *eventstream.Stream[eventstream.Event, Result]) {
	out.Push(eventstream.AgentStart())

	state := &loopState{currentMessages: append([]message.Message{}, params.InitialMessages...)}
	tools := toolLookup(params.Tools)

	defer func() {
		flushCtx := context.WithoutCancel(ctx)
		if err := params.Guard.FlushPending(flushCtx, params.SessionKey); err != nil {
			log.Warn().Err(err).Str("session_key", params.SessionKey).Msg("turnloop: failed to flush pending tool results on exit")
		}
	}()

	pendingMessages := drainSteering(params)

	for {
		if err := runInner(ctx, params, state, tools, out, &pendingMessages); err != nil {
			out.Push(eventstream.AgentError(err))
			out.End(Result{FinalText: state.finalText, Turns: state.turns, TotalToolCalls: state.totalToolCalls, Err: err})
			return
		}

		if params.GetFollowUpMessages != nil {
			followUps := params.GetFollowUpMessages()
			if len(followUps) > 0 {
				pendingMessages = followUps
				continue
			}
		}
		break
	}

	out.Push(eventstream.AgentEnd(state.finalText))
	out.End(Result{FinalText: state.finalText, Turns: state.turns, TotalToolCalls: state.totalToolCalls})
}

func drainSteering(params Params) []message.Message {
	if params.GetSteeringMessages == nil {
		return nil
	}
	return params.GetSteeringMessages()
}

// runInner drives the tool/steering loop for one outer-loop pass.
func runInner(ctx context.Context, params Params, state *loopState, tools map[string]tool.Definition, out *eventstream.Stream[eventstream.Event, Result], pendingMessages *[]message.Message) error {
	hasMoreToolCalls := true

	for hasMoreToolCalls || len(*pendingMessages) > 0 {
		if state.turns >= params.MaxTurns {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state.turns++
		out.Push(eventstream.TurnStart())

		if len(*pendingMessages) > 0 {
			for _, m := range *pendingMessages {
				if _, err := params.Guard.Append(ctx, params.SessionKey, m); err != nil {
					return err
				}
				state.currentMessages = append(state.currentMessages, m)
			}
			*pendingMessages = nil
		}

		messagesForModel := pruner.Prune(state.currentMessages, params.ContextWindowTokens, params.PrunerOptions)
		if state.compactionSummary != "" {
			messagesForModel = append([]message.Message{message.PlainText(message.RoleUser, state.compactionSummary)}, messagesForModel...)
		}

		assistantContent, toolCalls, turnText, err := callWithRetry(ctx, params, messagesForModel, out)
		if err != nil {
			if params.Classify != nil && params.Classify.IsContextOverflow(err) && !state.overflowCompactionAttempted {
				state.overflowCompactionAttempted = true
				out.Push(eventstream.ContextOverflowCompact(err))

				summary, cerr := compactor.Compact(ctx, state.currentMessages, params.ContextWindowTokens, params.CompactorOptions, params.Summarize, state.compactionSummary)
				if cerr != nil {
					return cerr
				}
				state.compactionSummary = summary.JoinText()
				state.turns--
				continue
			}
			return err
		}

		assistantMsg := message.Message{Role: message.RoleAssistant, Content: assistantContent}
		if _, err := params.Guard.Append(ctx, params.SessionKey, assistantMsg); err != nil {
			return err
		}
		state.currentMessages = append(state.currentMessages, assistantMsg)
		out.Push(eventstream.MessageEnd(assistantMsg, turnText))

		if len(toolCalls) == 0 {
			state.finalText = turnText
			out.Push(eventstream.TurnEnd())
			*pendingMessages = drainSteering(params)
			hasMoreToolCalls = false
			continue
		}

		resultBlocks, steered := executeToolsSerially(ctx, params, tools, toolCalls, state, out)
		resultMsg := message.Message{Role: message.RoleUser, Content: resultBlocks}
		if _, err := params.Guard.Append(ctx, params.SessionKey, resultMsg); err != nil {
			return err
		}
		state.currentMessages = append(state.currentMessages, resultMsg)
		out.Push(eventstream.TurnEnd())

		if steered != nil {
			*pendingMessages = steered
		}
		hasMoreToolCalls = true
	}

	return nil
}

// executeToolsSerially runs toolCalls in order, checking the steering
// queue after each one. If steering messages arrive, remaining calls are
// skipped with synthetic results and the drained messages are returned
// for the next turn.
func executeToolsSerially(ctx context.Context, params Params, tools map[string]tool.Definition, toolCalls []provider.ToolCall, state *loopState, out *eventstream.Stream[eventstream.Event, Result]) ([]message.ContentBlock, []message.Message) {
	var blocks []message.ContentBlock
	var steered []message.Message

	for i, call := range toolCalls {
		if steered != nil {
			out.Push(eventstream.ToolSkipped(call.ID, call.Name))
			blocks = append(blocks, message.ToolResult(call.ID, call.Name, skippedToolContent))
			continue
		}

		out.Push(eventstream.ToolExecutionStart(call.ID, call.Name, call.Arguments))
		result, isError := runTool(ctx, params, tools, call)
		state.totalToolCalls++
		out.Push(eventstream.ToolExecutionEnd(call.ID, call.Name, result, isError))
		blocks = append(blocks, message.ToolResult(call.ID, call.Name, toResultString(result)))

		if i == len(toolCalls)-1 {
			continue
		}
		if pending := drainSteering(params); len(pending) > 0 {
			steered = pending
			out.Push(eventstream.Steering(len(pending)))
		}
	}

	return blocks, steered
}

func runTool(ctx context.Context, params Params, tools map[string]tool.Definition, call provider.ToolCall) (interface{}, bool) {
	def, ok := tools[call.Name]
	if !ok {
		return "tool not found: " + call.Name, true
	}
	if !params.Policy.Allows(call.Name) {
		return "tool denied by policy: " + call.Name, true
	}
	if err := def.ValidateInput(call.Arguments); err != nil {
		return err.Error(), true
	}
	result, err := def.Execute(ctx, call.Arguments)
	if err != nil {
		log.Warn().Str("tool", call.Name).Err(err).Msg("turnloop: tool execution failed")
		return err.Error(), true
	}
	return result, false
}

func toResultString(result interface{}) string {
	if s, ok := result.(string); ok {
		return s
	}
	return "" // non-string results are carried by ToolExecutionEnd for observers; the transcript keeps a string.
}

// callWithRetry wraps one LLM streaming call in exponential backoff,
// retrying only on rate-limit classification, never after cancellation.
func callWithRetry(ctx context.Context, params Params, messages []message.Message, out *eventstream.Stream[eventstream.Event, Result]) ([]message.ContentBlock, []provider.ToolCall, string, error) {
	retry := params.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryOptions()
	}

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, nil, "", ctx.Err()
		}

		content, calls, text, err := callOnce(ctx, params, messages, out)
		if err == nil {
			return content, calls, text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, nil, "", ctx.Err()
		}
		if params.Classify == nil || !params.Classify.IsRateLimit(err) {
			return nil, nil, "", err
		}
		if attempt == retry.MaxAttempts {
			break
		}

		delay := backoffDelay(retry, attempt)
		out.Push(eventstream.Retry(attempt, delay.Milliseconds(), err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, nil, "", ctx.Err()
		}
	}

	return nil, nil, "", lastErr
}

func backoffDelay(opts RetryOptions, attempt int) time.Duration {
	d := opts.BaseDelay * time.Duration(1<<uint(attempt-1))
	if d > opts.MaxDelay {
		d = opts.MaxDelay
	}
	jitter := 1 + (rand.Float64()*2-1)*opts.Jitter
	return time.Duration(float64(d) * jitter)
}

// callOnce buffers assistantContent, toolCalls, and turnTextParts for a
// single attempt, clearing them if a mid-stream error aborts the call.
func callOnce(ctx context.Context, params Params, messages []message.Message, out *eventstream.Stream[eventstream.Event, Result]) ([]message.ContentBlock, []provider.ToolCall, string, error) {
	call := provider.CallContext{Messages: messages, SystemPrompt: params.SystemPrompt, Tools: params.Tools}
	opts := provider.CallOptions{Temperature: params.Temperature, MaxTokens: params.MaxTokens}

	stream := params.Stream(ctx, params.Model, call, opts)

	var assistantContent []message.ContentBlock
	var toolCalls []provider.ToolCall
	var turnText string
	messageStarted := false

	for event := range stream.Events() {
		switch event.Type {
		case provider.LLMEventTextDelta:
			if !messageStarted {
				out.Push(eventstream.MessageStart())
				messageStarted = true
			}
			out.Push(eventstream.MessageDelta(event.Delta))
		case provider.LLMEventTextEnd:
			assistantContent = append(assistantContent, message.Text(event.Content))
			turnText += event.Content
		case provider.LLMEventToolCallEnd:
			assistantContent = append(assistantContent, message.ToolUse(event.ToolCall.ID, event.ToolCall.Name, event.ToolCall.Arguments))
			toolCalls = append(toolCalls, event.ToolCall)
		case provider.LLMEventToolCallStart:
			// ignored, per contract
		}
	}

	result := stream.Result()
	if result.Err != nil {
		return nil, nil, "", result.Err
	}
	return assistantContent, toolCalls, turnText, nil
}
