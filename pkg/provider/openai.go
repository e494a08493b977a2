package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/tool"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIStream adapts OpenAI's chat completions endpoint to the StreamFn
// contract. OpenAI's SDK exposes incremental deltas over a different
// event shape than Anthropic's; rather than reconstruct token-level
// streaming here, the full response is fetched once and replayed as a
// single text_delta followed by text_end and any toolcall_end events —
// callers see the same event sequence either way, just delivered in one
// burst instead of many small ones.
func OpenAIStream(ctx context.Context, model ModelDef, call CallContext, opts CallOptions) *eventstream.Stream[LLMEvent, Result] {
	out := eventstream.New[LLMEvent, Result](8)

	go func() {
		client := openai.NewClient(option.WithAPIKey(model.APIKey))

		messages := []openai.ChatCompletionMessageParamUnion{}
		if call.SystemPrompt != "" {
			messages = append(messages, openai.SystemMessage(call.SystemPrompt))
		}
		messages = append(messages, toOpenAIMessages(call.Messages)...)

		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(model.Model),
			Messages: messages,
		}
		if opts.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(opts.MaxTokens))
		}
		if opts.Temperature > 0 {
			params.Temperature = openai.Float(opts.Temperature)
		}
		if len(call.Tools) > 0 {
			params.Tools = toOpenAITools(call.Tools)
		}

		response, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			out.End(Result{Err: err})
			return
		}
		if len(response.Choices) == 0 {
			out.End(Result{Err: fmt.Errorf("openai: no response choices returned")})
			return
		}

		choice := response.Choices[0]
		if choice.Message.Content != "" {
			out.Push(TextDelta(choice.Message.Content))
			out.Push(TextEnd(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{}
			}
			out.Push(ToolCallEnd(ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args}))
		}

		out.End(Result{Usage: Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		}})
	}()

	return out
}

func toOpenAIMessages(messages []message.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		if m.IsToolResultCarrier() {
			for _, b := range m.ToolResultBlocks() {
				out = append(out, openai.ToolMessage(b.ToolUseID, b.Content))
			}
			continue
		}

		switch m.Role {
		case message.RoleUser:
			out = append(out, openai.UserMessage(m.JoinText()))
		case message.RoleAssistant:
			toolUses := m.ToolUseBlocks()
			if len(toolUses) == 0 {
				out = append(out, openai.AssistantMessage(m.JoinText()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(toolUses))
			for _, tu := range toolUses {
				argsJSON, _ := json.Marshal(tu.Input)
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tu.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tu.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   m.JoinText(),
				ToolCalls: toolCalls,
			}
			out = append(out, assistantMsg.ToParam())
		}
	}
	return out
}

func toOpenAITools(defs []tool.Definition) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.InputSchema),
			},
		})
	}
	return out
}
