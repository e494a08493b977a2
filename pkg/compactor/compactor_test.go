package compactor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longMessages(n int, size int) []message.Message {
	var out []message.Message
	for i := 0; i < n; i++ {
		out = append(out, message.PlainText(message.RoleUser, strings.Repeat("x", size)))
	}
	return out
}

func TestShouldCompact_TriggersPastReserve(t *testing.T) {
	opts := Defaults()
	opts.ReserveTokens = 100

	small := longMessages(1, 40)
	assert.False(t, ShouldCompact(small, 1000, opts))

	big := longMessages(1, 4000)
	assert.True(t, ShouldCompact(big, 1000, opts))
}

func TestCompact_ProducesSingleSummaryMessage(t *testing.T) {
	msgs := []message.Message{
		message.PlainText(message.RoleUser, "please build a login form"),
		message.PlainText(message.RoleAssistant, "sure, working on it"),
	}

	summarize := func(ctx context.Context, req SummarizeRequest) (string, error) {
		return "Goals\n- build login form", nil
	}

	result, err := Compact(context.Background(), msgs, 8000, Defaults(), summarize, "")
	require.NoError(t, err)
	assert.Equal(t, message.RoleUser, result.Role)
	assert.Contains(t, result.JoinText(), "Goals")
}

func TestCompact_UpdatePromptUsedWhenPreviousSummaryPresent(t *testing.T) {
	var capturedPrompt string
	summarize := func(ctx context.Context, req SummarizeRequest) (string, error) {
		capturedPrompt = req.UserPrompt
		return "updated summary", nil
	}

	msgs := []message.Message{message.PlainText(message.RoleUser, "continue please")}
	_, err := Compact(context.Background(), msgs, 8000, Defaults(), summarize, "previous summary text")
	require.NoError(t, err)
	assert.Contains(t, capturedPrompt, "previous summary text")
	assert.Contains(t, capturedPrompt, "New messages")
}

func TestCompact_ChunksLargeInputAndMerges(t *testing.T) {
	opts := Defaults()
	opts.ChunkParts = 2
	opts.ChunkRatioBaseline = 0.01 // force chunking on a small input

	msgs := longMessages(20, 500)

	var calls int
	summarize := func(ctx context.Context, req SummarizeRequest) (string, error) {
		calls++
		if strings.Contains(req.UserPrompt, "Merge") || strings.Contains(req.UserPrompt, "Part 1") {
			return "merged summary", nil
		}
		return "partial summary", nil
	}

	result, err := Compact(context.Background(), msgs, 8000, opts, summarize, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 2)
	assert.NotEmpty(t, result.JoinText())
}

func TestCompact_FallsBackAfterRetryFailure(t *testing.T) {
	msgs := longMessages(3, 100)

	summarize := func(ctx context.Context, req SummarizeRequest) (string, error) {
		return "", errors.New("provider unavailable")
	}

	result, err := Compact(context.Background(), msgs, 8000, Defaults(), summarize, "")
	require.NoError(t, err)
	assert.Contains(t, result.JoinText(), "Summary unavailable due to size limits")
}

func TestCompact_FileOpsAppendixSeparatesModifiedFromReadOnly(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleAssistant, Content: []message.ContentBlock{
			message.ToolUse("t1", "read", map[string]interface{}{"path": "a.go"}),
			message.ToolUse("t2", "write", map[string]interface{}{"path": "b.go"}),
			message.ToolUse("t3", "read", map[string]interface{}{"path": "b.go"}),
			message.ToolUse("t4", "edit", map[string]interface{}{"path": "c.go"}),
		}},
	}

	summarize := func(ctx context.Context, req SummarizeRequest) (string, error) {
		return "summary body", nil
	}

	result, err := Compact(context.Background(), msgs, 8000, Defaults(), summarize, "")
	require.NoError(t, err)
	text := result.JoinText()
	assert.Contains(t, text, "<modified-files>")
	assert.Contains(t, text, "b.go")
	assert.Contains(t, text, "c.go")
	assert.Contains(t, text, "<read-files>")
	assert.Contains(t, text, "a.go")
	// b.go was written, so it must not also appear in read-files.
	readSection := text[strings.Index(text, "<read-files>"):]
	assert.NotContains(t, readSection, "b.go")
}

func TestSplitBalanced_PreservesOrderAndCoverage(t *testing.T) {
	msgs := longMessages(9, 100)
	parts := splitBalanced(msgs, 3)

	require.LessOrEqual(t, len(parts), 3)
	var flattened []message.Message
	for _, p := range parts {
		flattened = append(flattened, p...)
	}
	require.Len(t, flattened, len(msgs))
	for i := range msgs {
		assert.Equal(t, msgs[i].JoinText(), flattened[i].JoinText())
	}
}
