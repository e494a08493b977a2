package agentcore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/kestrelrun/agentcore/pkg/guard"
	"github.com/kestrelrun/agentcore/pkg/heartbeat"
	"github.com/kestrelrun/agentcore/pkg/lane"
	"github.com/kestrelrun/agentcore/pkg/memory"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/provider"
	"github.com/kestrelrun/agentcore/pkg/runcontrol"
	"github.com/kestrelrun/agentcore/pkg/session"
	"github.com/kestrelrun/agentcore/pkg/skills"
	"github.com/rs/zerolog/log"
)

// RunResult is what agent.Run resolves to once the underlying stream
// ends.
type RunResult struct {
	RunID     string
	Text      string
	Turns     int
	ToolCalls int
	Err       error
}

// Listener receives every event pushed on any run of this Agent, in
// push order, until Unsubscribe is called.
type Listener func(runID string, event eventstream.Event)

// Agent is the public facade over the whole runtime: one Agent owns one
// session store, one run controller, and (optionally) memory, skills,
// and a heartbeat scheduler.
type Agent struct {
	cfg Config

	store      *session.Store
	guard      *guard.Guard
	controller *runcontrol.Controller
	lanes      *lane.Scheduler

	memory *memory.Manager
	skills *skills.Router

	heartbeat *heartbeat.Scheduler

	mu           sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// New constructs an Agent from Config, wiring whichever collaborator
// subsystems the feature flags enable.
func New(cfg Config) (*Agent, error) {
	cfg = cfg.withDefaults()
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agentcore: AgentID is required")
	}

	store, err := session.New(cfg.SessionDir)
	if err != nil {
		return nil, fmt.Errorf("agentcore: failed to open session store: %w", err)
	}
	g := guard.New(store)

	controller := runcontrol.NewController(cfg.AgentID, g)
	controller.Provider = cfg.resolveStreamFn()
	controller.Model = cfg.resolveModelDef()
	controller.Classify = provider.DefaultClassifier{}
	controller.AllTools = cfg.Tools
	controller.Policy = cfg.ToolPolicy
	controller.Sandbox = cfg.sandboxSettings()
	controller.Temperature = cfg.Temperature
	controller.MaxTurns = cfg.MaxTurns
	controller.ContextWindowTokens = cfg.ContextTokens

	if cfg.WorkspaceDir != "" {
		controller.Workspace = runcontrol.NewBootstrapLoader(cfg.WorkspaceDir)
	}
	if cfg.SystemPrompt != "" {
		controller.MemoryGuidance = cfg.SystemPrompt
	}

	a := &Agent{
		cfg:        cfg,
		store:      store,
		guard:      g,
		controller: controller,
		lanes:      lane.NewScheduler(cfg.MaxConcurrentRuns),
		listeners:  make(map[int]Listener),
	}
	controller.SetSpawner(a.spawnSubagent)

	if cfg.Features.EnableMemory && cfg.MemoryDir != "" {
		mgr, err := memory.NewManager(memory.Config{
			WorkspacePath: cfg.WorkspaceDir,
			DBPath:        filepath.Join(cfg.MemoryDir, "memory.db"),
			Logger:        log.Logger,
		})
		if err != nil {
			log.Warn().Err(err).Msg("agentcore: memory disabled, failed to initialize")
		} else {
			a.memory = mgr
			controller.AllTools = append(controller.AllTools, mgr.ToolDefinitions()...)
		}
	}

	if cfg.Features.EnableSkills && cfg.WorkspaceDir != "" {
		loader := skills.NewLoader("", "", filepath.Join(cfg.WorkspaceDir, "skills"), log.Logger)
		loaded, err := loader.Load()
		if err != nil {
			log.Warn().Err(err).Msg("agentcore: skills disabled, failed to load")
		} else {
			a.skills = skills.NewRouter(loaded)
			infos := make([]runcontrol.SkillInfo, 0, len(loaded))
			for _, s := range skills.InvocableByModel(loaded) {
				infos = append(infos, runcontrol.SkillInfo{Name: s.Name, Description: s.Description, Location: s.Location})
			}
			controller.Skills = infos
		}
	}

	if cfg.Features.EnableHeartbeat {
		var contentFn heartbeat.ContentFn
		if controller.Workspace != nil {
			contentFn = controller.Workspace.LoadHeartbeatContent
		}
		a.heartbeat = heartbeat.New(heartbeat.Options{
			Interval:    cfg.HeartbeatInterval,
			CronExpr:    cfg.HeartbeatCronExpr,
			TZ:          cfg.HeartbeatTZ,
			ReadContent: contentFn,
			Logger:      log.Logger,
		})
	}

	return a, nil
}

// Run enqueues one turn on the session lane (then the global lane) and
// drives it to completion, fanning out every event to subscribed
// listeners as it's pushed.
func (a *Agent) Run(ctx context.Context, sessionKey, userMessage string) (RunResult, error) {
	rewritten := userMessage
	if a.skills != nil {
		if msg, _, ok := a.skills.Dispatch(userMessage); ok {
			rewritten = msg
		}
	}
	rewritten = a.injectMemoryContext(ctx, rewritten)

	result, err := a.lanes.Run(ctx, sessionKey, func(runCtx context.Context) (interface{}, error) {
		stream, err := a.controller.Run(runCtx, runcontrol.RunRequest{SessionKey: sessionKey, Message: rewritten})
		if err != nil {
			return RunResult{}, err
		}

		for ev := range stream.Events() {
			a.broadcast(sessionKey, ev)
		}
		res := stream.Result()
		return RunResult{Text: res.FinalText, Turns: res.Turns, ToolCalls: res.TotalToolCalls, Err: res.Err}, nil
	}, nil)
	if err != nil {
		return RunResult{}, err
	}
	rr := result.(RunResult)
	return rr, rr.Err
}

// Subscribe registers a listener for every event across every run of
// this Agent. The returned func unsubscribes.
func (a *Agent) Subscribe(l Listener) func() {
	a.mu.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = l
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Agent) broadcast(sessionKey string, ev eventstream.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, l := range a.listeners {
		l(sessionKey, ev)
	}
}

// Abort cancels one run (or every active run if runID is "").
func (a *Agent) Abort(runID string) int {
	return a.controller.Abort(runID)
}

// Steer enqueues a steering message for a session's in-flight run.
func (a *Agent) Steer(sessionKey, text string) {
	a.controller.Steer(sessionKey, text)
}

// Reset clears a session's transcript.
func (a *Agent) Reset(ctx context.Context, sessionKey string) error {
	key, err := runcontrol.NormalizeSessionKey(a.cfg.AgentID, sessionKey, "")
	if err != nil {
		return err
	}
	return a.store.Clear(ctx, key)
}

// GetHistory returns a session's full transcript.
func (a *Agent) GetHistory(ctx context.Context, sessionKey string) ([]message.Message, error) {
	key, err := runcontrol.NormalizeSessionKey(a.cfg.AgentID, sessionKey, "")
	if err != nil {
		return nil, err
	}
	return a.store.Load(ctx, key)
}

// ListSessions returns every known session key.
func (a *Agent) ListSessions(ctx context.Context) ([]string, error) {
	return a.store.List(ctx)
}

// StartHeartbeat starts the heartbeat scheduler, registering callback
// as the outbound-message producer (nil clears any previously set
// callback, leaving the scheduler running but always skipping with
// "no-callback").
func (a *Agent) StartHeartbeat(callback heartbeat.Callback) error {
	if a.heartbeat == nil {
		return fmt.Errorf("agentcore: heartbeat feature not enabled")
	}
	a.heartbeat.SetCallback(callback)
	a.heartbeat.Start()
	return nil
}

// StopHeartbeat stops the heartbeat scheduler.
func (a *Agent) StopHeartbeat() {
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
}

// TriggerHeartbeat requests an immediate out-of-band heartbeat wake.
func (a *Agent) TriggerHeartbeat() {
	if a.heartbeat != nil {
		a.heartbeat.TriggerNow(heartbeat.ReasonManual)
	}
}

// injectMemoryContext prepends up to three relevant memory search hits
// to the user's message as a synthetic note, so the model sees prior
// context without the run controller's shared system prompt needing to
// carry per-run state. A search failure degrades silently, per the
// error taxonomy's collaborator-degradation rule.
func (a *Agent) injectMemoryContext(ctx context.Context, userMessage string) string {
	if a.memory == nil {
		return userMessage
	}
	results, err := a.memory.SearchWithContext(ctx, userMessage, &memory.SearchOptions{Limit: 3})
	if err != nil || len(results) == 0 {
		return userMessage
	}

	note := "Relevant memory:\n"
	for _, r := range results {
		note += fmt.Sprintf("- (%s) %s\n", r.FilePath, r.Content)
	}
	return note + "\n" + userMessage
}

// spawnSubagent runs a self-contained child turn to completion and
// returns its final text, wired as the runcontrol.SpawnFn.
func (a *Agent) spawnSubagent(ctx context.Context, childSessionKey, task string) (string, error) {
	stream, err := a.controller.Run(ctx, runcontrol.RunRequest{SessionKey: childSessionKey, Message: task})
	if err != nil {
		return "", err
	}
	for ev := range stream.Events() {
		a.broadcast(childSessionKey, ev)
	}
	res := stream.Result()
	if res.Err != nil {
		return "", res.Err
	}
	return res.FinalText, nil
}
