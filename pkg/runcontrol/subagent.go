package runcontrol

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/guard"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/turnloop"
	"github.com/rs/zerolog/log"
)

const subagentSummaryMaxChars = 600

// SpawnParams describes one spawnSubagent tool invocation.
type SpawnParams struct {
	Task    string
	Label   string
	Cleanup bool
}

// SpawnFn runs a full child turn loop and returns its final text, given
// the child's session key and task prompt. Controller.SpawnSubagent
// builds this from the same ingredients as the parent's own run.
type SpawnFn func(ctx context.Context, childSessionKey, task string) (string, error)

// SubagentSpawner enforces the one-level nesting rule and produces the
// parent-session summary append and subagent_summary/subagent_error
// events the spec requires.
type SubagentSpawner struct {
	agentID string
	guard   *guard.Guard
	spawn   SpawnFn
}

// NewSubagentSpawner builds a spawner bound to one agent's guard and run function.
func NewSubagentSpawner(agentID string, g *guard.Guard, spawn SpawnFn) *SubagentSpawner {
	return &SubagentSpawner{agentID: agentID, guard: g, spawn: spawn}
}

// Spawn runs params.Task in a fresh child session and reports the
// outcome onto out (the parent run's event stream) and into the parent
// session's transcript. parentSessionKey must not itself be a subagent
// session: nested subagents are rejected outright.
func (s *SubagentSpawner) Spawn(ctx context.Context, parentSessionKey string, params SpawnParams, out *eventstream.Stream[eventstream.Event, turnloop.Result]) (string, error) {
	if IsSubagentKey(parentSessionKey) {
		return "", fmt.Errorf("runcontrol: subagents may not spawn further subagents (parent %q is already a subagent session)", parentSessionKey)
	}

	childKey := SubagentSessionKey(s.agentID, uuid.NewString())

	log.Info().Str("parent", parentSessionKey).Str("child", childKey).Str("label", params.Label).
		Msg("runcontrol: spawning subagent")

	summary, err := s.spawn(ctx, childKey, params.Task)
	if err != nil {
		if out != nil {
			out.Push(eventstream.SubagentError(childKey, params.Task, err))
		}
		return "", err
	}

	truncated := summary
	if len(truncated) > subagentSummaryMaxChars {
		truncated = truncated[:subagentSummaryMaxChars]
	}

	appendMsg := message.PlainText(message.RoleUser, "[Sub-agent summary] "+truncated)
	if _, err := s.guard.Append(ctx, parentSessionKey, appendMsg); err != nil {
		return "", fmt.Errorf("runcontrol: failed to append subagent summary to parent session: %w", err)
	}

	if out != nil {
		out.Push(eventstream.SubagentSummary(childKey, params.Task, truncated))
	}

	if params.Cleanup {
		if err := s.guard.Store().Clear(ctx, childKey); err != nil {
			log.Warn().Err(err).Str("child", childKey).Msg("runcontrol: failed to clear subagent session")
		}
	}

	return summary, nil
}
