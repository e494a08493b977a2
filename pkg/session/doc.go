// Package session manages the append-only per-session message transcript
// using JSONL files.
//
// Invariants:
// - Session keys are validated and path-safe.
// - Writes for the same session are serialized.
// - Append/load/clear operations are observable via tracing and metrics.
//
// Usage:
//
//	store, _ := session.New("/tmp/agentcore/sessions")
//	_, _ = store.Append(ctx, "agent:main:main", message.PlainText(message.RoleUser, "hello"))
//	msgs, _ := store.Load(ctx, "agent:main:main")
//	_ = msgs
package session
