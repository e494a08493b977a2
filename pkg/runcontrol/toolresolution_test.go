package runcontrol

import (
	"testing"

	"github.com/kestrelrun/agentcore/pkg/tool"
	"github.com/stretchr/testify/assert"
)

func toolNames(defs []tool.Definition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func TestSandboxPolicy_DisabledSandboxImposesNoRestriction(t *testing.T) {
	policy := SandboxPolicy(SandboxSettings{Enabled: false})
	assert.Empty(t, policy.Deny)
}

func TestSandboxPolicy_DeniesExecAndWriteByDefault(t *testing.T) {
	policy := SandboxPolicy(SandboxSettings{Enabled: true})
	assert.False(t, policy.Allows("exec"))
	assert.False(t, policy.Allows("write"))
	assert.True(t, policy.Allows("read"))
}

func TestSandboxPolicy_AllowsWhatItsFlagsPermit(t *testing.T) {
	policy := SandboxPolicy(SandboxSettings{Enabled: true, AllowExec: true, AllowWrite: true})
	assert.True(t, policy.Allows("exec"))
	assert.True(t, policy.Allows("write"))
}

func TestResolveTools_IntersectsCallerPolicyAndSandbox(t *testing.T) {
	all := []tool.Definition{{Name: "read"}, {Name: "write"}, {Name: "exec"}}
	callerPolicy := tool.Policy{Deny: []string{"read"}}
	sandbox := SandboxSettings{Enabled: true, AllowExec: false, AllowWrite: true}

	resolved, effective := ResolveTools(all, callerPolicy, sandbox)

	assert.ElementsMatch(t, []string{"write"}, toolNames(resolved))
	assert.False(t, effective.Allows("read"))
	assert.False(t, effective.Allows("exec"))
	assert.True(t, effective.Allows("write"))
}
