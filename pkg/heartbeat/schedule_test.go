package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelay_FixedIntervalWhenNoCronExpr(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	delay, err := nextDelay(now, 30*time.Minute, "", "")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, delay)
}

func TestNextDelay_CronExprTakesPrecedence(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 59, 0, 0, time.UTC)
	delay, err := nextDelay(now, time.Hour, "0 9 * * *", "")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, delay)
}

func TestNextDelay_InvalidCronExprErrors(t *testing.T) {
	_, err := nextDelay(time.Now(), time.Hour, "not a cron expr", "")
	assert.Error(t, err)
}
