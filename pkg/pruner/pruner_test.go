package pruner

import (
	"strings"
	"testing"

	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigToolResult(id, name string, size int) message.Message {
	return message.Message{
		Role: message.RoleUser,
		Content: []message.ContentBlock{
			message.ToolResult(id, name, strings.Repeat("x", size)),
		},
	}
}

func TestPrune_NoOpUnderThreshold(t *testing.T) {
	msgs := []message.Message{message.PlainText(message.RoleUser, "hello")}
	out := Prune(msgs, 100000, Defaults())
	assert.Equal(t, msgs[0].JoinText(), out[0].JoinText())
}

func TestPrune_SoftTrimShrinksLargeToolResult(t *testing.T) {
	msgs := []message.Message{
		message.PlainText(message.RoleUser, "start"),
		bigToolResult("t1", "read_file", 10000),
	}
	// small window so ratio trips softTrimRatio without tripping hardClear.
	out := Prune(msgs, 100, Defaults())
	result := out[1].Content[0].Content
	assert.Less(t, len(result), 10000)
	assert.Contains(t, result, "...")
}

func TestPrune_IdempotentOnAlreadyPrunedTranscript(t *testing.T) {
	msgs := []message.Message{
		message.PlainText(message.RoleUser, "start"),
		bigToolResult("t1", "read_file", 10000),
	}
	once := Prune(msgs, 100, Defaults())
	twice := Prune(once, 100, Defaults())
	require.Equal(t, len(once), len(twice))
	assert.Equal(t, once[1].Content[0].Content, twice[1].Content[0].Content)
}

func TestPrune_HardClearAppliesWhenPrunableCharsAboveMinimum(t *testing.T) {
	opts := Defaults()
	opts.MinPrunableToolChars = 1000

	msgs := []message.Message{
		message.PlainText(message.RoleUser, "start"),
		bigToolResult("t1", "read_file", 20000),
		bigToolResult("t2", "read_file", 20000),
	}
	out := Prune(msgs, 50, opts)

	cleared := 0
	for _, m := range out {
		for _, b := range m.Content {
			if b.Type == message.BlockToolResult && b.Content == hardClearPlaceholder {
				cleared++
			}
		}
	}
	assert.Greater(t, cleared, 0)
}

func TestPrune_HardClearSkippedBelowMinimumPrunableChars(t *testing.T) {
	opts := Defaults()
	opts.MinPrunableToolChars = 1_000_000

	msgs := []message.Message{
		message.PlainText(message.RoleUser, "start"),
		bigToolResult("t1", "read_file", 20000),
	}
	out := Prune(msgs, 50, opts)

	for _, m := range out {
		for _, b := range m.Content {
			assert.NotEqual(t, hardClearPlaceholder, b.Content)
		}
	}
}

func TestPrune_MessageDropProtectsRecentAssistants(t *testing.T) {
	opts := Defaults()
	opts.KeepLastAssistants = 1

	var msgs []message.Message
	for i := 0; i < 50; i++ {
		msgs = append(msgs, message.PlainText(message.RoleUser, strings.Repeat("a", 200)))
		msgs = append(msgs, message.PlainText(message.RoleAssistant, strings.Repeat("b", 200)))
	}

	out := Prune(msgs, 50, opts)
	require.NotEmpty(t, out)
	assert.Equal(t, message.RoleAssistant, msgs[len(msgs)-1].Role)
	assert.Contains(t, out[len(out)-1].JoinText(), "b")
}

func TestPrune_RespectsDenyOverridesAllowOnPrunability(t *testing.T) {
	opts := Defaults()
	opts.Policy = tool.Policy{Deny: []string{"protected_tool"}}

	msgs := []message.Message{
		bigToolResult("t1", "protected_tool", 10000),
	}
	out := Prune(msgs, 100, opts)
	assert.Equal(t, strings.Repeat("x", 10000), out[0].Content[0].Content)
}

func TestPrune_DoesNotMutateInput(t *testing.T) {
	msgs := []message.Message{
		bigToolResult("t1", "read_file", 10000),
	}
	original := msgs[0].Content[0].Content
	_ = Prune(msgs, 100, Defaults())
	assert.Equal(t, original, msgs[0].Content[0].Content)
}
