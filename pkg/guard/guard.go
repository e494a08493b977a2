// Package guard decorates a session.Store to maintain the tool_use /
// tool_result pairing invariant: every tool_use block appended in an
// assistant message is eventually matched by a tool_result block with the
// same id, synthesizing placeholders whenever a run terminates without one.
package guard

import (
	"context"
	"sync"

	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/session"
	"github.com/rs/zerolog/log"
)

// SyntheticErrorContent is the fixed placeholder used for any tool_use
// left without a matching result at flush time.
const SyntheticErrorContent = "Tool execution did not complete: no result was recorded before the run ended."

type pendingCall struct {
	toolUseID string
	toolName  string
}

// Guard wraps one session.Store and tracks, per session key, the set of
// tool_use ids awaiting a tool_result. It is safe to install once and
// share across sessions: each session key gets its own pending set.
type Guard struct {
	store *session.Store

	mu      sync.Mutex
	pending map[string][]pendingCall
}

// New installs a guard over store. Installation is idempotent: wrapping
// the same store more than once produces independent pending maps, but
// callers should keep exactly one Guard per store instance.
func New(store *session.Store) *Guard {
	return &Guard{
		store:   store,
		pending: make(map[string][]pendingCall),
	}
}

// Append forwards msg to the underlying store, first flushing any pending
// tool_use ids as synthetic tool_results if msg is not itself a
// tool_result carrier, and finally recording any new tool_use ids the
// message introduces.
func (g *Guard) Append(ctx context.Context, sessionKey string, msg message.Message) (message.Message, error) {
	if msg.IsToolResultCarrier() {
		g.resolve(sessionKey, msg)
		return g.store.Append(ctx, sessionKey, msg)
	}

	if g.hasPending(sessionKey) {
		if err := g.flushSynthetic(ctx, sessionKey); err != nil {
			return message.Message{}, err
		}
	}

	saved, err := g.store.Append(ctx, sessionKey, msg)
	if err != nil {
		return message.Message{}, err
	}

	if msg.Role == message.RoleAssistant {
		g.record(sessionKey, msg.ToolUseBlocks())
	}

	return saved, nil
}

func (g *Guard) hasPending(sessionKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending[sessionKey]) > 0
}

func (g *Guard) record(sessionKey string, toolUses []message.ContentBlock) {
	if len(toolUses) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range toolUses {
		g.pending[sessionKey] = append(g.pending[sessionKey], pendingCall{toolUseID: b.ID, toolName: b.Name})
	}
}

func (g *Guard) resolve(sessionKey string, msg message.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()

	resolved := make(map[string]bool)
	for _, b := range msg.ToolResultBlocks() {
		resolved[b.ToolUseID] = true
	}

	remaining := g.pending[sessionKey][:0]
	for _, p := range g.pending[sessionKey] {
		if !resolved[p.toolUseID] {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		delete(g.pending, sessionKey)
	} else {
		g.pending[sessionKey] = remaining
	}
}

// flushSynthetic appends one user message carrying a synthetic
// tool_result for every currently pending id, then clears the pending set.
func (g *Guard) flushSynthetic(ctx context.Context, sessionKey string) error {
	g.mu.Lock()
	calls := g.pending[sessionKey]
	delete(g.pending, sessionKey)
	g.mu.Unlock()

	if len(calls) == 0 {
		return nil
	}

	blocks := make([]message.ContentBlock, 0, len(calls))
	for _, c := range calls {
		blocks = append(blocks, message.ToolResult(c.toolUseID, c.toolName, SyntheticErrorContent))
	}

	log.Warn().Str("session_key", sessionKey).Int("count", len(blocks)).
		Msg("synthesizing placeholder tool results for orphaned tool_use blocks")

	_, err := g.store.Append(ctx, sessionKey, message.Message{Role: message.RoleUser, Content: blocks})
	return err
}

// FlushPending must be called on run termination (success, error, or
// cancellation): it appends synthetic results for any tool_use ids the
// run leaves unmatched.
func (g *Guard) FlushPending(ctx context.Context, sessionKey string) error {
	return g.flushSynthetic(ctx, sessionKey)
}

// Store returns the wrapped session store, for callers that need direct
// read access (Load, List, Clear are not guard-mediated).
func (g *Guard) Store() *session.Store {
	return g.store
}
