// Package agentcore is the public facade (§6.1): it composes the
// session log, guard, run controller, lane scheduler, skill router, and
// heartbeat scheduler into the single `Agent` type callers construct.
package agentcore

import (
	"time"

	"github.com/kestrelrun/agentcore/pkg/provider"
	"github.com/kestrelrun/agentcore/pkg/runcontrol"
	"github.com/kestrelrun/agentcore/pkg/tool"
)

// FeatureFlags toggles the optional collaborator subsystems.
type FeatureFlags struct {
	EnableMemory    bool
	EnableContext   bool
	EnableSkills    bool
	EnableHeartbeat bool
}

// SandboxConfig mirrors runcontrol.SandboxSettings at the public
// boundary, so callers don't need to import an internal package.
type SandboxConfig struct {
	Enabled    bool
	AllowExec  bool
	AllowWrite bool
}

// Config constructs an Agent. Only AgentID and Workspace are required;
// everything else defaults per spec.md §6.1.
type Config struct {
	APIKey   string
	Provider string
	Model    string
	StreamFn provider.StreamFn
	ModelDef *provider.ModelDef

	AgentID      string
	SystemPrompt string
	Tools        []tool.Definition
	ToolPolicy   tool.Policy
	Sandbox      SandboxConfig

	Temperature float64
	MaxTurns    int

	SessionDir   string
	WorkspaceDir string
	MemoryDir    string

	Features FeatureFlags

	HeartbeatInterval time.Duration
	HeartbeatCronExpr string
	HeartbeatTZ       string

	ContextTokens     int
	MaxConcurrentRuns int
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 20
	}
	if c.ContextTokens <= 0 {
		c.ContextTokens = 200000
	}
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 4
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Minute
	}
	if c.SessionDir == "" {
		c.SessionDir = "./sessions"
	}
	return c
}

func (c Config) sandboxSettings() runcontrol.SandboxSettings {
	return runcontrol.SandboxSettings{
		Enabled:    c.Sandbox.Enabled,
		AllowExec:  c.Sandbox.AllowExec,
		AllowWrite: c.Sandbox.AllowWrite,
	}
}

func (c Config) resolveStreamFn() provider.StreamFn {
	if c.StreamFn != nil {
		return c.StreamFn
	}
	reg := provider.NewRegistry()
	reg.Register("anthropic", provider.AnthropicStream)
	reg.Register("openai", provider.OpenAIStream)
	reg.Register("gemini", provider.GeminiStream)
	return reg.Stream
}

func (c Config) resolveModelDef() provider.ModelDef {
	if c.ModelDef != nil {
		return *c.ModelDef
	}
	return provider.ModelDef{Provider: c.Provider, Model: c.Model, APIKey: c.APIKey}
}

