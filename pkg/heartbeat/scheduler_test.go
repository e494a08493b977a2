package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScheduler(t *testing.T, content string) *Scheduler {
	t.Helper()
	return New(Options{
		Interval:        time.Hour,
		DuplicateWindow: time.Hour,
		CoalesceDelay:   5 * time.Millisecond,
		RetryDelay:      5 * time.Millisecond,
		ReadContent:     func() (string, error) { return content, nil },
		Logger:          zerolog.Nop(),
	})
}

func TestActiveHours_AlwaysActiveWhenDisabled(t *testing.T) {
	var a ActiveHours
	assert.True(t, a.Contains(time.Now()))
}

func TestActiveHours_PlainWindow(t *testing.T) {
	a := ActiveHours{Enabled: true, StartMinute: 9 * 60, EndMinute: 17 * 60}
	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, a.Contains(noon))
	assert.False(t, a.Contains(midnight))
}

func TestActiveHours_WraparoundPastMidnight(t *testing.T) {
	a := ActiveHours{Enabled: true, StartMinute: 22 * 60, EndMinute: 6 * 60}
	lateNight := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, a.Contains(lateNight))
	assert.True(t, a.Contains(earlyMorning))
	assert.False(t, a.Contains(midday))
}

func TestStripContent_RemovesFrontMatterAndComments(t *testing.T) {
	raw := "---\nname: heartbeat\n---\n<!-- internal note -->\nHello there\n"
	assert.Equal(t, "Hello there", stripContent(raw))
}

func TestScheduler_SkipsOutsideActiveHours(t *testing.T) {
	s := testScheduler(t, "hi")
	s.UpdateActiveHours(ActiveHours{Enabled: true, StartMinute: 0, EndMinute: 1})
	s.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	status, err := s.wake(context.Background(), ReasonTimer)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedOutsideHours, status)
}

func TestScheduler_SkipsEmptyContentUnlessExecReason(t *testing.T) {
	s := testScheduler(t, "   \n")
	s.SetCallback(func(ctx context.Context, in Input) (string, error) {
		t.Fatal("callback should not be invoked for empty content on a non-exec wake")
		return "", nil
	})

	status, err := s.wake(context.Background(), ReasonTimer)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedEmptyContent, status)
}

func TestScheduler_ExecReasonExemptFromEmptyContentSkip(t *testing.T) {
	s := testScheduler(t, "")
	called := false
	s.SetCallback(func(ctx context.Context, in Input) (string, error) {
		called = true
		return "ack", nil
	})

	status, err := s.wake(context.Background(), ReasonExec)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StatusRan, status)
}

func TestScheduler_SkipsNoCallback(t *testing.T) {
	s := testScheduler(t, "hi")
	status, err := s.wake(context.Background(), ReasonTimer)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedNoCallback, status)
}

func TestScheduler_RunsAckOnEmptyCallbackResult(t *testing.T) {
	s := testScheduler(t, "hi")
	s.SetCallback(func(ctx context.Context, in Input) (string, error) { return "", nil })

	status, err := s.wake(context.Background(), ReasonTimer)
	require.NoError(t, err)
	assert.Equal(t, StatusRanAck, status)
}

func TestScheduler_SkipsDuplicateWithinWindow(t *testing.T) {
	s := testScheduler(t, "hi")
	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixedNow }
	s.SetCallback(func(ctx context.Context, in Input) (string, error) { return "same text", nil })

	status1, err := s.wake(context.Background(), ReasonTimer)
	require.NoError(t, err)
	assert.Equal(t, StatusRan, status1)

	status2, err := s.wake(context.Background(), ReasonTimer)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedDuplicate, status2)
}

func TestScheduler_TriggerNowCoalescesIntoCallbackInvocation(t *testing.T) {
	s := testScheduler(t, "hi")
	done := make(chan Input, 1)
	s.SetCallback(func(ctx context.Context, in Input) (string, error) {
		done <- in
		return "sent", nil
	})

	s.TriggerNow(ReasonManual)
	s.TriggerNow(ReasonManual)

	select {
	case in := <-done:
		assert.Equal(t, ReasonManual, in.Reason)
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
}
