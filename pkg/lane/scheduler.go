package lane

import (
	"context"
	"fmt"
	"time"
)

// GlobalLaneName is the single shared lane every run also contends for,
// regardless of session.
const GlobalLaneName = "global"

const sessionLanePrefix = "session:"

// Scheduler enforces the fixed nesting order mandated for agent runs: a
// per-session serial lane (maxConcurrent=1) wraps the shared global lane
// (caller-configured maxConcurrent). A session request first waits for
// any prior request on the same session to finish, then contends for a
// global slot alongside every other session.
type Scheduler struct {
	registry          *Registry
	globalConcurrency int
}

// NewScheduler creates a Scheduler backed by a fresh Registry, with the
// global lane sized to globalConcurrency (at least 1).
func NewScheduler(globalConcurrency int) *Scheduler {
	if globalConcurrency < 1 {
		globalConcurrency = 1
	}
	return &Scheduler{
		registry:          NewRegistry(),
		globalConcurrency: globalConcurrency,
	}
}

func sessionLaneName(sessionKey string) string {
	return sessionLanePrefix + sessionKey
}

// Run submits task to sessionKey's serial lane, which internally submits
// to the shared global lane once it reaches the head of the session
// queue. The task only executes once both lanes have granted a slot.
func (s *Scheduler) Run(ctx context.Context, sessionKey string, task Task, opts *EnqueueOptions) (interface{}, error) {
	sessionTask := func(innerCtx context.Context) (interface{}, error) {
		return s.registry.Enqueue(innerCtx, GlobalLaneName, s.globalConcurrency, task, opts)
	}
	return s.registry.Enqueue(ctx, sessionLaneName(sessionKey), 1, sessionTask, nil)
}

// SetGlobalConcurrency adjusts how many runs may execute concurrently
// across all sessions.
func (s *Scheduler) SetGlobalConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.globalConcurrency = n
	s.registry.SetConcurrency(GlobalLaneName, n)
}

// AbortSession rejects every task still queued (not yet running) on a
// session's own lane, e.g. after a run cancellation.
func (s *Scheduler) AbortSession(sessionKey string) int {
	return s.registry.ClearLane(sessionLaneName(sessionKey))
}

// ResetSession bumps the session lane's generation, invalidating tasks
// that were queued before the reset even if they haven't been rejected
// yet by AbortSession.
func (s *Scheduler) ResetSession(sessionKey string) {
	s.registry.ResetLane(sessionLaneName(sessionKey))
}

// PruneSession deletes a session's lane bookkeeping once idle, so a
// long-lived process doesn't accumulate one lane per session forever.
func (s *Scheduler) PruneSession(sessionKey string) bool {
	return s.registry.DeleteLane(sessionLaneName(sessionKey))
}

// Stats reports queue/running/concurrency for the global lane and every
// currently tracked session lane.
func (s *Scheduler) Stats() map[string]map[string]int {
	return s.registry.Stats()
}

// SessionStats reports the queue/running/concurrency for one session's
// lane, or an error if that session has never enqueued anything.
func (s *Scheduler) SessionStats(sessionKey string) (map[string]int, error) {
	stats := s.registry.Stats()
	name := sessionLaneName(sessionKey)
	entry, ok := stats[name]
	if !ok {
		return nil, fmt.Errorf("no lane for session %q", sessionKey)
	}
	return entry, nil
}

// On subscribes to lane lifecycle events ("enqueued", "completed") across
// every lane, session and global alike.
func (s *Scheduler) On(eventType string, handler EventHandler) {
	s.registry.On(eventType, handler)
}

// WaitIdle blocks until no lane has running tasks, honoring the timeout.
func (s *Scheduler) WaitIdle(timeoutMs int) bool {
	return s.registry.WaitForActive(time.Duration(timeoutMs) * time.Millisecond)
}

// Close shuts down the underlying registry, waiting for in-flight work.
func (s *Scheduler) Close() error {
	return s.registry.Close()
}
