package guard

import (
	"context"
	"testing"

	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Guard, string) {
	store, err := session.New(t.TempDir())
	require.NoError(t, err)
	return New(store), "agent:test:main"
}

func TestGuard_ResolvesMatchingToolResult(t *testing.T) {
	g, key := setup(t)
	ctx := context.Background()

	assistant := message.Message{Role: message.RoleAssistant, Content: []message.ContentBlock{
		message.ToolUse("t1", "list", nil),
	}}
	_, err := g.Append(ctx, key, assistant)
	require.NoError(t, err)
	assert.True(t, g.hasPending(key))

	result := message.Message{Role: message.RoleUser, Content: []message.ContentBlock{
		message.ToolResult("t1", "list", "a\nb"),
	}}
	_, err = g.Append(ctx, key, result)
	require.NoError(t, err)
	assert.False(t, g.hasPending(key))
}

func TestGuard_SynthesizesOnNonToolResultAppend(t *testing.T) {
	g, key := setup(t)
	ctx := context.Background()

	assistant := message.Message{Role: message.RoleAssistant, Content: []message.ContentBlock{
		message.ToolUse("t1", "list", nil),
	}}
	_, err := g.Append(ctx, key, assistant)
	require.NoError(t, err)

	// Next append is a plain text user message, not a tool_result carrier.
	_, err = g.Append(ctx, key, message.PlainText(message.RoleUser, "hello again"))
	require.NoError(t, err)

	msgs, err := g.Store().Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Len(t, msgs[1].Content, 1)
	assert.Equal(t, message.BlockToolResult, msgs[1].Content[0].Type)
	assert.Equal(t, "t1", msgs[1].Content[0].ToolUseID)
	assert.Equal(t, SyntheticErrorContent, msgs[1].Content[0].Content)
}

func TestGuard_FlushPendingOnRunTermination(t *testing.T) {
	g, key := setup(t)
	ctx := context.Background()

	assistant := message.Message{Role: message.RoleAssistant, Content: []message.ContentBlock{
		message.ToolUse("t1", "exec", nil),
	}}
	_, err := g.Append(ctx, key, assistant)
	require.NoError(t, err)

	require.NoError(t, g.FlushPending(ctx, key))

	msgs, err := g.Store().Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsToolResultCarrier())
	assert.Equal(t, "t1", msgs[1].Content[0].ToolUseID)
}

func TestGuard_MultiplePendingFlushedTogether(t *testing.T) {
	g, key := setup(t)
	ctx := context.Background()

	assistant := message.Message{Role: message.RoleAssistant, Content: []message.ContentBlock{
		message.ToolUse("t1", "read", nil),
		message.ToolUse("t2", "write", nil),
	}}
	_, err := g.Append(ctx, key, assistant)
	require.NoError(t, err)

	require.NoError(t, g.FlushPending(ctx, key))

	msgs, err := g.Store().Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Len(t, msgs[1].Content, 2)
}
