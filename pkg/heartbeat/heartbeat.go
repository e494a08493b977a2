// Package heartbeat implements the coalesced, self-rescheduling wake
// mechanism (C10): a coalescing layer that merges near-simultaneous wake
// requests into one handler invocation, wrapping a policy layer that
// decides whether a given wake actually produces an outbound message.
package heartbeat

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// WakeReason identifies why a heartbeat fired.
type WakeReason string

const (
	ReasonTimer  WakeReason = "timer"
	ReasonExec   WakeReason = "exec"
	ReasonManual WakeReason = "manual"
)

// Input is passed to the registered Callback on a wake that clears the
// active-hours, content, and callback-presence checks.
type Input struct {
	Content string
	Reason  WakeReason
	Source  string
}

// Callback produces the outbound heartbeat text, or "" to acknowledge
// without sending anything.
type Callback func(ctx context.Context, in Input) (string, error)

// ContentFn reads the current HEARTBEAT.md-equivalent content. It may
// return "" with a nil error when no such file exists.
type ContentFn func() (string, error)

// Status is the outcome recorded for one policy-layer wake, mirroring
// the fixed vocabulary from the design: "ran", "ran:ack",
// "skipped:outside-active-hours", "skipped:empty-content",
// "skipped:no-callback", "skipped:duplicate-message",
// "skipped:requests-in-flight".
type Status string

const (
	StatusRan                    Status = "ran"
	StatusRanAck                 Status = "ran:ack"
	StatusSkippedOutsideHours    Status = "skipped:outside-active-hours"
	StatusSkippedEmptyContent    Status = "skipped:empty-content"
	StatusSkippedNoCallback      Status = "skipped:no-callback"
	StatusSkippedDuplicate       Status = "skipped:duplicate-message"
	StatusSkippedRequestsInFlight Status = "skipped:requests-in-flight"
)

var frontMatterPattern = regexp.MustCompile(`(?s)^---\r?\n.*?\r?\n---\r?\n?`)
var htmlCommentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)

// stripContent removes a leading "---"-delimited front-matter block and
// any HTML-style comments, matching the SKILL.md front-matter convention
// used elsewhere in the runtime.
func stripContent(raw string) string {
	stripped := frontMatterPattern.ReplaceAllString(raw, "")
	stripped = htmlCommentPattern.ReplaceAllString(stripped, "")
	return strings.TrimSpace(stripped)
}

// ActiveHours is a daily window expressed in minutes-since-midnight. A
// zero-value ActiveHours (Enabled=false) means "always active". Start >
// End means the window wraps past midnight.
type ActiveHours struct {
	Enabled     bool
	StartMinute int
	EndMinute   int
}

// Contains reports whether t's local time-of-day falls inside the
// window.
func (a ActiveHours) Contains(t time.Time) bool {
	if !a.Enabled {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if a.StartMinute <= a.EndMinute {
		return minute >= a.StartMinute && minute < a.EndMinute
	}
	// wraps past midnight
	return minute >= a.StartMinute || minute < a.EndMinute
}
