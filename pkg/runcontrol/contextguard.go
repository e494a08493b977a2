package runcontrol

import "fmt"

// ContextWindowThresholds tunes the pre-flight budget check.
type ContextWindowThresholds struct {
	WarnBelow   int
	RefuseBelow int
}

// DefaultContextWindowThresholds matches the spec's defaults.
func DefaultContextWindowThresholds() ContextWindowThresholds {
	return ContextWindowThresholds{WarnBelow: 8000, RefuseBelow: 1000}
}

// CheckContextWindow validates a configured token budget before the loop
// starts. It returns a non-nil error only below the hard minimum; a
// budget between the two thresholds is allowed but reported via the
// warn return value so the caller can log it.
func CheckContextWindow(tokens int, thresholds ContextWindowThresholds) (warn bool, err error) {
	if tokens < thresholds.RefuseBelow {
		return false, fmt.Errorf("runcontrol: context window %d tokens is below the minimum of %d", tokens, thresholds.RefuseBelow)
	}
	return tokens < thresholds.WarnBelow, nil
}
