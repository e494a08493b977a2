// Package runcontrol drives one top-level agent invocation (C8): it owns
// session-key normalization, the run cancellation graph, the per-session
// steering queue, system-prompt assembly, tool resolution, subagent
// spawning, and the pre-flight context-window guard, then hands off to
// the turn loop (pkg/turnloop) to actually run the model/tool cycle.
package runcontrol

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/kestrelrun/agentcore/pkg/compactor"
	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/guard"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/provider"
	"github.com/kestrelrun/agentcore/pkg/pruner"
	"github.com/kestrelrun/agentcore/pkg/tool"
	"github.com/kestrelrun/agentcore/pkg/turnloop"
	"github.com/rs/zerolog/log"
)

// Controller composes the run-level collaborators shared across every
// invocation of one agent.
type Controller struct {
	AgentID string

	Guard    *guard.Guard
	Cancel   *CancellationGraph
	Steering *SteeringQueue

	Provider provider.StreamFn
	Model    provider.ModelDef
	Classify turnloop.ErrorClassifier

	AllTools []tool.Definition
	Policy   tool.Policy
	Sandbox  SandboxSettings

	Workspace *BootstrapLoader

	Skills         []SkillInfo
	MemoryGuidance string

	ContextWindowTokens int
	MaxTurns            int
	Thresholds          ContextWindowThresholds

	PrunerOptions    pruner.Options
	CompactorOptions compactor.Options
	Summarize        compactor.Summarizer
	Temperature      float64
	MaxTokens        int
	Retry            turnloop.RetryOptions

	spawner *SubagentSpawner
}

// NewController builds a Controller with the pruner/compactor/retry
// tuning defaulted, matching how every other component in this runtime
// exposes a Defaults() for its own Options.
func NewController(agentID string, g *guard.Guard) *Controller {
	return &Controller{
		AgentID:          agentID,
		Guard:            g,
		Cancel:           NewCancellationGraph(),
		Steering:         NewSteeringQueue(),
		Thresholds:          DefaultContextWindowThresholds(),
		PrunerOptions:       pruner.Defaults(),
		CompactorOptions:    compactor.Defaults(),
		Retry:               turnloop.DefaultRetryOptions(),
		MaxTurns:            20,
		ContextWindowTokens: 200000,
	}
}

// RunRequest starts one top-level run.
type RunRequest struct {
	SessionKey string
	SessionID  string
	Message    string
	RunID      string
}

// Run normalizes the session key, checks the context window, assembles
// the system prompt, resolves tools, registers cancellation, and starts
// the turn loop, returning its event stream directly to the caller.
func (c *Controller) Run(ctx context.Context, req RunRequest) (*eventstream.Stream[eventstream.Event, turnloop.Result], error) {
	sessionKey, err := NormalizeSessionKey(c.AgentID, req.SessionKey, req.SessionID)
	if err != nil {
		return nil, err
	}

	if warn, err := CheckContextWindow(c.ContextWindowTokens, c.Thresholds); err != nil {
		return nil, err
	} else if warn {
		log.Warn().Int("context_window", c.ContextWindowTokens).Msg("runcontrol: configured context window is low")
	}

	runID := req.RunID
	if runID == "" {
		runID = "run_" + gonanoid.Must()
	}
	runCtx, release := c.Cancel.Register(ctx, runID)

	tools, effectivePolicy := ResolveTools(c.AllTools, c.Policy, c.Sandbox)
	tools, effectivePolicy = c.withSpawnSubagentTool(tools, effectivePolicy, sessionKey)

	history, err := c.Guard.Store().Load(runCtx, sessionKey)
	if err != nil {
		release()
		return nil, fmt.Errorf("runcontrol: failed to load session history: %w", err)
	}

	systemPrompt, err := c.buildSystemPrompt(IsSubagentKey(sessionKey))
	if err != nil {
		release()
		return nil, err
	}

	userMsg := message.PlainText(message.RoleUser, req.Message)
	if _, err := c.Guard.Append(runCtx, sessionKey, userMsg); err != nil {
		release()
		return nil, fmt.Errorf("runcontrol: failed to append user message: %w", err)
	}

	params := turnloop.Params{
		SessionKey:          sessionKey,
		Guard:               c.Guard,
		Stream:              c.Provider,
		Model:               c.Model,
		Classify:            c.Classify,
		SystemPrompt:        systemPrompt,
		Tools:               tools,
		Policy:              effectivePolicy,
		ContextWindowTokens: c.ContextWindowTokens,
		MaxTurns:            c.MaxTurns,
		Temperature:         c.Temperature,
		MaxTokens:           c.MaxTokens,
		PrunerOptions:       c.PrunerOptions,
		CompactorOptions:    c.CompactorOptions,
		Summarize:           c.Summarize,
		InitialMessages:     append(history, userMsg),
		GetSteeringMessages: c.Steering.BindGetter(sessionKey),
		Retry:               c.Retry,
	}

	stream := turnloop.Run(runCtx, params)
	go func() {
		<-stream.Done()
		release()
	}()
	return stream, nil
}

// Abort cancels one run, or every active run if runID is empty.
func (c *Controller) Abort(runID string) int {
	if runID == "" {
		return c.Cancel.AbortAll()
	}
	if c.Cancel.Abort(runID) {
		return 1
	}
	return 0
}

// Steer enqueues a steering message for a session.
func (c *Controller) Steer(sessionKey, text string) {
	c.Steering.Steer(sessionKey, text)
}

func (c *Controller) buildSystemPrompt(forSubagent bool) (string, error) {
	var files []ProjectFile
	if c.Workspace != nil {
		f, err := c.Workspace.LoadProjectFiles(forSubagent)
		if err != nil {
			return "", err
		}
		files = f
	}

	sandboxNote := ""
	if c.Sandbox.Enabled {
		sandboxNote = fmt.Sprintf("Running in a sandboxed workspace (exec=%t, write=%t). Tools outside this policy are unavailable.", c.Sandbox.AllowExec, c.Sandbox.AllowWrite)
	}

	return AssembleSystemPrompt(SystemPromptOptions{
		Base:           basePrompt,
		ProjectFiles:   files,
		Skills:         visibleSkills(c.Skills),
		MemoryGuidance: c.MemoryGuidance,
		SandboxNote:    sandboxNote,
	}), nil
}

func visibleSkills(skills []SkillInfo) []SkillInfo {
	// Skills marked disable-model-invocation are filtered by the skill
	// router before reaching the controller; this pass-through keeps the
	// controller decoupled from that filtering rule's implementation.
	return skills
}

const basePrompt = "You are an autonomous coding and task-execution agent. Use the tools available to you to accomplish the user's request efficiently and safely."

// SetSpawner installs the subagent spawner once the caller has a SpawnFn
// (usually a closure over this same Controller.Run, bound to a fresh
// child session key) ready to wire in.
func (c *Controller) SetSpawner(spawn SpawnFn) {
	c.spawner = NewSubagentSpawner(c.AgentID, c.Guard, spawn)
}

func (c *Controller) withSpawnSubagentTool(tools []tool.Definition, policy tool.Policy, sessionKey string) ([]tool.Definition, tool.Policy) {
	if c.spawner == nil || IsSubagentKey(sessionKey) {
		return tools, policy
	}

	if len(policy.Allow) > 0 {
		policy.Allow = append(append([]string{}, policy.Allow...), "spawnSubagent")
	}

	spawnTool := tool.Definition{
		Name:        "spawnSubagent",
		Description: "Delegate a self-contained task to an independent sub-agent and receive a short summary of its result.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task":    map[string]interface{}{"type": "string"},
				"label":   map[string]interface{}{"type": "string"},
				"cleanup": map[string]interface{}{"type": "boolean"},
			},
			"required": []string{"task"},
		},
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			task, _ := input["task"].(string)
			label, _ := input["label"].(string)
			cleanup, _ := input["cleanup"].(bool)
			return c.spawner.Spawn(ctx, sessionKey, SpawnParams{Task: task, Label: label, Cleanup: cleanup}, nil)
		},
	}

	return append(append([]tool.Definition{}, tools...), spawnTool), policy
}
