package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures a Scheduler.
type Options struct {
	Interval        time.Duration
	CronExpr        string
	TZ              string
	ActiveHours     ActiveHours
	DuplicateWindow time.Duration
	CoalesceDelay   time.Duration
	RetryDelay      time.Duration
	ReadContent     ContentFn
	Logger          zerolog.Logger
}

// Scheduler is the policy layer: it decides, on each coalesced wake,
// whether to actually invoke the registered Callback, and reschedules
// its own next timer-driven wake with time.AfterFunc so drift never
// accumulates the way a ticker would.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	cronExpr string
	tz       string
	active   ActiveHours
	dupeWin  time.Duration
	readFn   ContentFn
	logger   zerolog.Logger

	callback Callback
	lastRun  time.Time

	lastSentText string
	lastSentAt   time.Time

	coalescer *Coalescer
	selfTimer *time.Timer
	stopped   bool

	now func() time.Time
}

// New builds a Scheduler. Interval defaults to 30 minutes if unset.
func New(opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	dupeWin := opts.DuplicateWindow
	if dupeWin <= 0 {
		dupeWin = 24 * time.Hour
	}
	s := &Scheduler{
		interval: interval,
		cronExpr: opts.CronExpr,
		tz:       opts.TZ,
		active:   opts.ActiveHours,
		dupeWin:  dupeWin,
		readFn:   opts.ReadContent,
		logger:   opts.Logger.With().Str("component", "heartbeat").Logger(),
		now:      time.Now,
	}
	s.coalescer = NewCoalescer(s.wake, opts.CoalesceDelay, opts.RetryDelay)
	return s
}

// SetCallback registers (or replaces) the outbound heartbeat callback.
func (s *Scheduler) SetCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

func (s *Scheduler) getCallback() Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callback
}

// Start arms the first timer-driven wake.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
	s.armSelfTimer(s.computeNextDelay(s.now()))
}

// computeNextDelay resolves the next timer-driven wake delay, preferring
// the cron expression over the fixed interval when both are configured.
func (s *Scheduler) computeNextDelay(now time.Time) time.Duration {
	s.mu.Lock()
	interval, cronExpr, tz := s.interval, s.cronExpr, s.tz
	s.mu.Unlock()

	delay, err := nextDelay(now, interval, cronExpr, tz)
	if err != nil {
		s.logger.Warn().Err(err).Msg("heartbeat: falling back to fixed interval")
		return interval
	}
	return delay
}

// Stop clears all timers and drops pending coalescer state. A new Start
// call may be issued afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.selfTimer != nil {
		s.selfTimer.Stop()
		s.selfTimer = nil
	}
	s.mu.Unlock()
	s.coalescer.Stop()
}

// TriggerNow requests an out-of-band wake (e.g. an explicit
// triggerHeartbeat() call, or an exec-triggered check), coalesced with
// any wake already pending.
func (s *Scheduler) TriggerNow(reason WakeReason) {
	s.coalescer.Request(reason)
}

// UpdateInterval hot-reschedules the timer-driven wake to the new fixed
// interval (ignored if a cron expression is configured).
func (s *Scheduler) UpdateInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = interval
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	s.armSelfTimer(s.computeNextDelay(s.now()))
}

// UpdateCronExpr hot-reschedules the timer-driven wake to a cron
// expression, or clears it (falling back to the fixed interval) when
// passed "".
func (s *Scheduler) UpdateCronExpr(expr string) {
	s.mu.Lock()
	s.cronExpr = expr
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	s.armSelfTimer(s.computeNextDelay(s.now()))
}

// UpdateActiveHours hot-swaps the active-hours window without touching
// the current schedule.
func (s *Scheduler) UpdateActiveHours(hours ActiveHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = hours
}

func (s *Scheduler) armSelfTimer(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.selfTimer != nil {
		s.selfTimer.Stop()
	}
	s.selfTimer = time.AfterFunc(delay, func() {
		s.coalescer.Request(ReasonTimer)
	})
}

// wake is the Coalescer's Handler: it implements the four-step policy
// check from the design and, for timer-driven wakes, reschedules the
// next automatic tick regardless of outcome.
func (s *Scheduler) wake(ctx context.Context, reason WakeReason) (Status, error) {
	now := s.now()
	if reason == ReasonTimer {
		defer func() { s.armSelfTimer(s.computeNextDelay(s.now())) }()
	}

	s.mu.Lock()
	s.lastRun = now
	active := s.active
	s.mu.Unlock()

	if !active.Contains(now) {
		s.logger.Debug().Str("reason", string(reason)).Msg("heartbeat skipped: outside active hours")
		return StatusSkippedOutsideHours, nil
	}

	content := ""
	if s.readFn != nil {
		var err error
		content, err = s.readFn()
		if err != nil {
			return "", err
		}
	}
	stripped := stripContent(content)
	if stripped == "" && reason != ReasonExec {
		return StatusSkippedEmptyContent, nil
	}

	cb := s.getCallback()
	if cb == nil {
		return StatusSkippedNoCallback, nil
	}

	text, err := cb(ctx, Input{Content: stripped, Reason: reason, Source: "heartbeat"})
	if err != nil {
		return "", err
	}
	if text == "" {
		return StatusRanAck, nil
	}

	s.mu.Lock()
	duplicate := text == s.lastSentText && now.Sub(s.lastSentAt) < s.dupeWin
	if !duplicate {
		s.lastSentText = text
		s.lastSentAt = now
	}
	s.mu.Unlock()

	if duplicate {
		s.logger.Debug().Msg("heartbeat skipped: duplicate message within window")
		return StatusSkippedDuplicate, nil
	}
	s.logger.Info().Str("reason", string(reason)).Msg("heartbeat sent")
	return StatusRan, nil
}
