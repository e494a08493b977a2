package heartbeat

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser mirrors pkg/cron's minute/hour/dom/month/dow expression
// format, so a heartbeat interval can be given either as a fixed
// duration or as a cron expression (e.g. "0 9 * * MON-FRI" for
// weekday mornings only).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextDelay computes how long to wait before the next timer-driven
// wake. When cronExpr is set it takes precedence over the fixed
// interval.
func nextDelay(now time.Time, interval time.Duration, cronExpr string, tz string) (time.Duration, error) {
	if cronExpr == "" {
		return interval, nil
	}

	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return 0, fmt.Errorf("invalid heartbeat cron expression: %w", err)
	}

	at := now
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return 0, fmt.Errorf("invalid heartbeat timezone: %w", err)
		}
		at = at.In(loc)
	}

	next := sched.Next(at)
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay, nil
}
