package runcontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSteeringQueue_DrainReturnsAndClears(t *testing.T) {
	q := NewSteeringQueue()
	q.Steer("session-1", "hello")
	q.Steer("session-1", "world")

	assert.Equal(t, 2, q.Pending("session-1"))

	drained := q.Drain("session-1")
	assert.Len(t, drained, 2)
	assert.Equal(t, "hello", drained[0].JoinText())
	assert.Equal(t, "world", drained[1].JoinText())

	assert.Equal(t, 0, q.Pending("session-1"))
	assert.Empty(t, q.Drain("session-1"))
}

func TestSteeringQueue_IsolatedBySession(t *testing.T) {
	q := NewSteeringQueue()
	q.Steer("session-1", "a")
	q.Steer("session-2", "b")

	assert.Equal(t, 1, q.Pending("session-1"))
	assert.Equal(t, 1, q.Pending("session-2"))
}

func TestSteeringQueue_BindGetter(t *testing.T) {
	q := NewSteeringQueue()
	q.Steer("session-1", "hi")

	getter := q.BindGetter("session-1")
	msgs := getter()
	assert.Len(t, msgs, 1)
	assert.Empty(t, getter())
}
