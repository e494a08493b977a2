package runcontrol

import (
	"sync"

	"github.com/kestrelrun/agentcore/pkg/message"
)

// SteeringQueue holds one FIFO of pending user messages per session key.
// The turn loop drains it only at the checkpoints the spec names — start
// of an inner iteration and after each tool call — never mid-stream.
type SteeringQueue struct {
	mu     sync.Mutex
	queues map[string][]message.Message
}

// NewSteeringQueue creates an empty queue set.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{queues: make(map[string][]message.Message)}
}

// Steer enqueues text as a user message onto sessionKey's queue.
func (q *SteeringQueue) Steer(sessionKey, text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[sessionKey] = append(q.queues[sessionKey], message.PlainText(message.RoleUser, text))
}

// Drain returns and clears every pending message for sessionKey. Callers
// pass this bound to a specific session as turnloop.Params.GetSteeringMessages.
func (q *SteeringQueue) Drain(sessionKey string) []message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[sessionKey]
	delete(q.queues, sessionKey)
	return pending
}

// Pending reports how many messages are currently queued for sessionKey.
func (q *SteeringQueue) Pending(sessionKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[sessionKey])
}

// BindGetter returns a closure suitable for turnloop.Params.GetSteeringMessages.
func (q *SteeringQueue) BindGetter(sessionKey string) func() []message.Message {
	return func() []message.Message { return q.Drain(sessionKey) }
}
