// Package tick provides a fixed-timestep scheduler for real-time game
// loops: configurable rate up to 128 Hz, overrun policies, budget
// monitoring, and pause/resume. A rate of 0 selects event-driven mode,
// where the scheduler never fires and a room reacts to messages only.
//
// The scheduler is designed to sit inside a room actor's select loop:
//
//	for {
//		select {
//		case cmd := <-inbox:
//			// handle command
//		case <-sched.C():
//			info := sched.Fire()
//			// run game tick with info.DT
//			sched.RecordTickEnd()
//		}
//	}
//
// C returns nil in event-driven mode and while paused; a nil channel
// never fires, so the select simply serves the other branches.
package tick

import (
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// Policy selects what happens when a tick fires late.
type Policy int

const (
	// PolicySkip drops the missed ticks and reschedules from now.
	// Safest default; prevents death spirals.
	PolicySkip Policy = iota
	// PolicyCatchUp runs up to Config.MaxCatchup extra ticks back to
	// back. Only for games that need deterministic simulation replay.
	PolicyCatchUp
	// PolicyDrop keeps the original cadence; the next tick fires at
	// its originally scheduled time.
	PolicyDrop
)

func (p Policy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyCatchUp:
		return "catchup"
	case PolicyDrop:
		return "drop"
	}
	return "unknown"
}

// MaxRateHz is the highest supported tick rate.
const MaxRateHz = 128

// Config controls a Scheduler.
type Config struct {
	// RateHz is the tick rate. 0 means event-driven: the scheduler
	// never fires.
	RateHz int
	// Policy is the overrun handling policy.
	Policy Policy
	// MaxCatchup caps consecutive catch-up ticks under PolicyCatchUp.
	MaxCatchup int
	// BudgetWarn is the utilization fraction (0..1) above which a
	// warning is logged after each tick.
	BudgetWarn float64
	// BudgetCritical is the utilization fraction above which the
	// warning escalates.
	BudgetCritical float64
	// MetricsEnabled toggles per-tick timing metrics.
	MetricsEnabled bool
	// InitialJitter is the upper bound of the random delay added to
	// the first tick, desynchronizing rooms created at the same
	// instant.
	InitialJitter time.Duration
}

// DefaultConfig returns the event-driven default: no tick loop, skip
// policy, 80%/100% budget thresholds, 2 ms initial jitter.
func DefaultConfig() Config {
	return Config{
		RateHz:         0,
		Policy:         PolicySkip,
		BudgetWarn:     0.80,
		BudgetCritical: 1.0,
		MetricsEnabled: true,
		InitialJitter:  2 * time.Millisecond,
	}
}

// WithRate returns the default config at the given rate.
func WithRate(rateHz int) Config {
	cfg := DefaultConfig()
	cfg.RateHz = rateHz
	return cfg
}

// Validated clamps out-of-range values so the config is safe to use:
// rate capped to MaxRateHz (negative treated as 0), thresholds clamped
// to 0..1 with warn forced below critical, negative jitter zeroed.
func (c Config) Validated() Config {
	if c.RateHz < 0 {
		c.RateHz = 0
	}
	if c.RateHz > MaxRateHz {
		c.RateHz = MaxRateHz
	}
	c.BudgetWarn = clamp01(c.BudgetWarn)
	c.BudgetCritical = clamp01(c.BudgetCritical)
	if c.BudgetWarn > c.BudgetCritical {
		c.BudgetWarn = c.BudgetCritical
	}
	if c.MaxCatchup < 0 {
		c.MaxCatchup = 0
	}
	if c.InitialJitter < 0 {
		c.InitialJitter = 0
	}
	return c
}

// Duration returns the fixed tick length, or 0 in event-driven mode.
func (c Config) Duration() time.Duration {
	if c.RateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(c.RateHz))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TickInfo describes one fired tick.
type TickInfo struct {
	// Tick is the monotonically increasing tick number, starting at 1.
	Tick uint64
	// DT is the fixed delta time, always 1/rate. Game logic should
	// advance by DT, not wall-clock elapsed time, to stay
	// deterministic.
	DT time.Duration
	// Overrun reports that the tick fired more than a tenth of the
	// tick length late.
	Overrun bool
	// TicksSkipped is how many ticks were skipped because of the
	// overrun; 0 in normal operation.
	TicksSkipped uint64
}

// Metrics is a snapshot of scheduler counters. Timing values refer to
// game-logic execution time reported via RecordTickEnd.
type Metrics struct {
	TotalTicks    uint64
	TotalOverruns uint64
	TotalSkipped  uint64
	// AvgTickTime is an exponential moving average with alpha 0.1.
	AvgTickTime time.Duration
	MaxTickTime time.Duration
	// BudgetUtilization is the last tick's execution time over the
	// tick length. Above 1.0 means the tick blew its budget.
	BudgetUtilization float64
}

// Scheduler drives the game loop for a single room. It is owned by one
// goroutine (the room actor) and is not safe for concurrent use.
type Scheduler struct {
	cfg   Config
	dur   time.Duration // 0 = event-driven
	count uint64

	next      time.Time
	timer     *time.Timer
	tickStart time.Time
	paused    bool
	metrics   Metrics

	now func() time.Time
	log zerolog.Logger
}

// NewScheduler builds a scheduler from the validated config. The first
// tick is scheduled with jitter so rooms created together do not all
// fire on the same instant.
func NewScheduler(cfg Config, log zerolog.Logger) *Scheduler {
	cfg = cfg.Validated()
	s := &Scheduler{
		cfg: cfg,
		dur: cfg.Duration(),
		now: time.Now,
		log: log,
	}
	if s.dur > 0 {
		delay := s.dur
		if cfg.InitialJitter > 0 {
			delay += rand.N(cfg.InitialJitter)
		}
		s.next = s.now().Add(delay)
		s.timer = time.NewTimer(delay)
		log.Debug().
			Int("rate_hz", cfg.RateHz).
			Dur("budget", s.dur).
			Stringer("policy", cfg.Policy).
			Msg("tick scheduler created")
	} else {
		log.Debug().Msg("tick scheduler created in event-driven mode")
	}
	return s
}

// C returns the channel the next tick fires on, or nil when the
// scheduler is event-driven or paused. A nil channel blocks forever in
// a select, which is exactly the wanted behavior.
func (s *Scheduler) C() <-chan time.Time {
	if s.dur == 0 || s.paused {
		return nil
	}
	return s.timer.C
}

// Fire consumes the tick that just fired on C: it numbers the tick,
// detects overrun, advances the deadline per the configured policy, and
// re-arms the timer. Call exactly once per receive from C.
func (s *Scheduler) Fire() TickInfo {
	return s.fire(s.now())
}

func (s *Scheduler) fire(now time.Time) TickInfo {
	if s.dur == 0 {
		return TickInfo{}
	}

	s.count++
	s.tickStart = now

	var lateBy time.Duration
	if now.After(s.next) {
		lateBy = now.Sub(s.next)
	}
	overrun := lateBy > s.dur/10
	var skipped uint64

	switch s.cfg.Policy {
	case PolicySkip:
		if overrun {
			skipped = uint64(lateBy / s.dur)
			if skipped > 0 {
				s.log.Warn().
					Uint64("tick", s.count).
					Uint64("skipped", skipped).
					Dur("late_by", lateBy).
					Msg("tick overrun, skipping ahead")
			}
		}
		// Always reschedule from now, not from the missed deadline.
		s.next = now.Add(s.dur)

	case PolicyCatchUp:
		if overrun {
			behind := uint64(lateBy / s.dur)
			max := uint64(s.cfg.MaxCatchup)
			if behind > max {
				skipped = behind - max
			}
			s.log.Warn().
				Uint64("tick", s.count).
				Uint64("behind", behind).
				Uint64("skipping", skipped).
				Int("max_catchup", s.cfg.MaxCatchup).
				Msg("tick overrun, catch-up capped")
			if behind <= max {
				s.next = s.next.Add(s.dur)
			} else {
				s.next = now.Add(s.dur)
			}
		} else {
			s.next = s.next.Add(s.dur)
		}

	case PolicyDrop:
		if overrun {
			s.log.Warn().
				Uint64("tick", s.count).
				Dur("late_by", lateBy).
				Msg("tick overrun, dropping")
		}
		// Keep the original cadence regardless of overrun.
		s.next = s.next.Add(s.dur)
	}

	if s.timer != nil {
		s.timer.Reset(s.next.Sub(now))
	}

	if overrun {
		s.metrics.TotalOverruns++
	}
	s.metrics.TotalSkipped += skipped
	s.metrics.TotalTicks++

	return TickInfo{
		Tick:         s.count,
		DT:           s.dur,
		Overrun:      overrun,
		TicksSkipped: skipped,
	}
}

// RecordTickEnd marks the end of game-logic execution for the current
// tick, driving budget warnings and timing metrics. Without it budget
// warnings never fire.
func (s *Scheduler) RecordTickEnd() {
	s.recordTickEnd(s.now())
}

func (s *Scheduler) recordTickEnd(now time.Time) {
	if s.tickStart.IsZero() {
		return
	}
	elapsed := now.Sub(s.tickStart)
	s.tickStart = time.Time{}

	if s.dur > 0 {
		utilization := elapsed.Seconds() / s.dur.Seconds()
		s.metrics.BudgetUtilization = utilization

		if utilization >= s.cfg.BudgetCritical {
			s.log.Warn().
				Uint64("tick", s.count).
				Dur("elapsed", elapsed).
				Dur("budget", s.dur).
				Float64("utilization", utilization).
				Msg("tick exceeded budget")
		} else if utilization >= s.cfg.BudgetWarn {
			s.log.Warn().
				Uint64("tick", s.count).
				Dur("elapsed", elapsed).
				Dur("budget", s.dur).
				Float64("utilization", utilization).
				Msg("tick approaching budget limit")
		}
	}

	if s.cfg.MetricsEnabled {
		if elapsed > s.metrics.MaxTickTime {
			s.metrics.MaxTickTime = elapsed
		}
		const alpha = 0.1
		prev := s.metrics.AvgTickTime.Seconds()
		s.metrics.AvgTickTime = time.Duration((prev*(1-alpha) + elapsed.Seconds()*alpha) * float64(time.Second))
	}
}

// Pause stops the tick loop; C returns nil until Resume. Idempotent.
func (s *Scheduler) Pause() {
	if s.paused {
		return
	}
	s.paused = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.log.Debug().Uint64("tick", s.count).Msg("tick scheduler paused")
}

// Resume restarts the tick loop after a pause. The deadline resets to
// now plus one tick so time spent paused does not burst into catch-up
// ticks. Idempotent.
func (s *Scheduler) Resume() {
	if !s.paused {
		return
	}
	s.paused = false
	if s.dur > 0 {
		s.next = s.now().Add(s.dur)
		s.timer.Reset(s.dur)
	}
	s.log.Debug().Uint64("tick", s.count).Msg("tick scheduler resumed")
}

// Paused reports whether the scheduler is paused.
func (s *Scheduler) Paused() bool { return s.paused }

// EventDriven reports whether the scheduler has no tick loop.
func (s *Scheduler) EventDriven() bool { return s.dur == 0 }

// TickCount returns how many ticks have fired.
func (s *Scheduler) TickCount() uint64 { return s.count }

// Metrics returns a snapshot of the counters.
func (s *Scheduler) Metrics() Metrics { return s.metrics }

// TickDuration returns the fixed tick length, 0 when event-driven.
func (s *Scheduler) TickDuration() time.Duration { return s.dur }
