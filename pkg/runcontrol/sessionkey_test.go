package runcontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSessionKey_DefaultsToMainKey(t *testing.T) {
	key, err := NormalizeSessionKey("agent-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "agent:agent-1:main", key)
}

func TestNormalizeSessionKey_PrefersExplicitSessionKey(t *testing.T) {
	key, err := NormalizeSessionKey("agent-1", "custom:key", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "custom:key", key)
}

func TestNormalizeSessionKey_FallsBackToSessionID(t *testing.T) {
	key, err := NormalizeSessionKey("agent-1", "", "session-abc")
	require.NoError(t, err)
	assert.Equal(t, "session-abc", key)
}

func TestNormalizeSessionKey_RejectsIllFormedKeys(t *testing.T) {
	_, err := NormalizeSessionKey("agent-1", "bad key with spaces", "")
	assert.Error(t, err)

	_, err = NormalizeSessionKey("agent-1", "bad/../traversal", "")
	assert.Error(t, err)
}

func TestIsSubagentKey(t *testing.T) {
	assert.True(t, IsSubagentKey("agent:a1:subagent:uuid-1"))
	assert.False(t, IsSubagentKey("agent:a1:main"))
}
