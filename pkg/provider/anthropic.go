package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/tool"
	"github.com/rs/zerolog/log"
)

// AnthropicStream adapts the Anthropic SDK's server-sent-event stream to
// the StreamFn contract: text_delta/text_end/toolcall_end events settled
// by a Usage-bearing Result.
func AnthropicStream(ctx context.Context, model ModelDef, call CallContext, opts CallOptions) *eventstream.Stream[LLMEvent, Result] {
	out := eventstream.New[LLMEvent, Result](32)

	go func() {
		client := anthropic.NewClient(option.WithAPIKey(model.APIKey))

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model.Model),
			Messages:  toAnthropicMessages(call.Messages),
			MaxTokens: int64(opts.MaxTokens),
		}
		if call.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: call.SystemPrompt}}
		}
		if opts.Temperature > 0 {
			params.Temperature = anthropic.Float(opts.Temperature)
		}
		if len(call.Tools) > 0 {
			params.Tools = toAnthropicTools(call.Tools)
		}

		stream := client.Messages.NewStreaming(ctx, params)

		var textBuf strings.Builder
		var toolInputBuf strings.Builder
		var currentTool ToolCall
		var usage Usage

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				usage.InputTokens = int(ms.Message.Usage.InputTokens)

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					currentTool = ToolCall{ID: toolUse.ID, Name: toolUse.Name}
					toolInputBuf.Reset()
					out.Push(ToolCallStart())
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						textBuf.WriteString(delta.Text)
						out.Push(TextDelta(delta.Text))
					}
				case "input_json_delta":
					toolInputBuf.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if currentTool.Name != "" {
					var args map[string]interface{}
					raw := toolInputBuf.String()
					if raw != "" {
						if err := json.Unmarshal([]byte(raw), &args); err != nil {
							log.Warn().Err(err).Str("tool", currentTool.Name).Msg("anthropic: malformed tool input JSON")
							args = map[string]interface{}{}
						}
					}
					currentTool.Arguments = args
					out.Push(ToolCallEnd(currentTool))
					currentTool = ToolCall{}
				} else if textBuf.Len() > 0 {
					out.Push(TextEnd(textBuf.String()))
					textBuf.Reset()
				}

			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(md.Usage.OutputTokens)
				}
			}
		}

		if err := stream.Err(); err != nil {
			out.End(Result{Usage: usage, Err: err})
			return
		}
		out.End(Result{Usage: usage})
	}()

	return out
}

func toAnthropicMessages(messages []message.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		if m.IsToolResultCarrier() {
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range m.ToolResultBlocks() {
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, false))
			}
			out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleUser, Content: blocks})
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Type {
			case message.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case message.BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
			}
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == message.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func toAnthropicTools(defs []tool.Definition) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, d := range defs {
		properties, _ := d.InputSchema["properties"].(map[string]interface{})
		toolParam := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: properties},
		}
		if required, ok := d.InputSchema["required"].([]string); ok {
			toolParam.InputSchema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}
