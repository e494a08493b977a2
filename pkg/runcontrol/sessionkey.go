package runcontrol

import (
	"fmt"
	"regexp"
)

// sessionKeyPattern matches "agent:<agentId>:main", "agent:<agentId>:subagent:<uuid>",
// and any other colon-delimited key made of alphanumerics, dashes, underscores, and dots.
var sessionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+(:[A-Za-z0-9._-]+)*$`)

// DefaultSessionKey returns the well-known main session key for an agent.
func DefaultSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:main", agentID)
}

// SubagentSessionKey returns the session key for a spawned child run.
func SubagentSessionKey(agentID, runUUID string) string {
	return fmt.Sprintf("agent:%s:subagent:%s", agentID, runUUID)
}

// NormalizeSessionKey resolves the effective session key for a run: it
// accepts an explicit sessionKey, falls back to sessionID (an alias some
// callers use interchangeably), and finally defaults to the agent's main
// session. Ill-formed keys — empty segments, whitespace, or characters
// outside the accepted set — are rejected rather than silently accepted,
// since a malformed key would otherwise silently fragment a session's
// transcript across two different on-disk files.
func NormalizeSessionKey(agentID, sessionKey, sessionID string) (string, error) {
	key := sessionKey
	if key == "" {
		key = sessionID
	}
	if key == "" {
		if agentID == "" {
			return "", fmt.Errorf("runcontrol: agentId is required to derive a default session key")
		}
		return DefaultSessionKey(agentID), nil
	}

	if !sessionKeyPattern.MatchString(key) {
		return "", fmt.Errorf("runcontrol: ill-formed session key %q", key)
	}
	return key, nil
}

// IsSubagentKey reports whether key names a subagent session, per the
// "agent:<id>:subagent:<uuid>" convention.
func IsSubagentKey(key string) bool {
	return subagentKeyPattern.MatchString(key)
}

var subagentKeyPattern = regexp.MustCompile(`^agent:[A-Za-z0-9._-]+:subagent:[A-Za-z0-9._-]+$`)
