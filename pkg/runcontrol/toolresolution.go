package runcontrol

import "github.com/kestrelrun/agentcore/pkg/tool"

// SandboxSettings controls which broad classes of tool a run may use.
type SandboxSettings struct {
	Enabled    bool
	AllowExec  bool
	AllowWrite bool
}

// execToolNames and writeToolNames name the tools each sandbox flag
// gates. A real deployment's tool list may use other names; callers that
// need different gating should build their own deny policy and skip
// SandboxPolicy.
var (
	execToolNames  = []string{"exec", "bash", "shell", "run_command"}
	writeToolNames = []string{"write", "edit", "delete", "move"}
)

// SandboxPolicy derives a deny-only tool.Policy from sandbox settings:
// disabled sandboxing imposes no restriction, otherwise exec tools are
// denied unless AllowExec, and write/edit tools are denied unless
// AllowWrite.
func SandboxPolicy(sandbox SandboxSettings) tool.Policy {
	if !sandbox.Enabled {
		return tool.Policy{}
	}

	policy := tool.Policy{}
	if !sandbox.AllowExec {
		policy.Deny = append(policy.Deny, execToolNames...)
	}
	if !sandbox.AllowWrite {
		policy.Deny = append(policy.Deny, writeToolNames...)
	}
	return policy
}

// ResolveTools filters the configured tool list down to what this run may
// invoke: a tool must pass both the caller's own policy and the
// sandbox-derived policy, matching the spec's "a tool passes only if it
// passes every policy layer" intersection rule.
func ResolveTools(all []tool.Definition, policy tool.Policy, sandbox SandboxSettings) ([]tool.Definition, tool.Policy) {
	effective := policy.Intersect(SandboxPolicy(sandbox))
	return effective.Filter(all), effective
}
