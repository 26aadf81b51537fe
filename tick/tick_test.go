package tick

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Overrun behavior is tested by driving fire with fabricated instants
// instead of sleeping, which keeps the policy math deterministic.

func newTestScheduler(cfg Config) *Scheduler {
	cfg.InitialJitter = 0
	return NewScheduler(cfg, zerolog.Nop())
}

func TestValidatedClampsRate(t *testing.T) {
	cfg := Config{RateHz: 1000, BudgetWarn: 0.8, BudgetCritical: 1.0}.Validated()
	assert.Equal(t, MaxRateHz, cfg.RateHz)

	cfg = Config{RateHz: -5}.Validated()
	assert.Equal(t, 0, cfg.RateHz)
}

func TestValidatedClampsThresholds(t *testing.T) {
	cfg := Config{RateHz: 30, BudgetWarn: 1.5, BudgetCritical: -0.3}.Validated()
	assert.Equal(t, 0.0, cfg.BudgetCritical)
	// Warn is forced below critical after both are clamped.
	assert.Equal(t, 0.0, cfg.BudgetWarn)

	cfg = Config{RateHz: 30, BudgetWarn: 0.9, BudgetCritical: 0.5}.Validated()
	assert.Equal(t, 0.5, cfg.BudgetWarn)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), Config{RateHz: 0}.Duration())
	assert.Equal(t, 50*time.Millisecond, Config{RateHz: 20}.Duration())
	assert.Equal(t, 8*time.Millisecond, Config{RateHz: 125}.Duration())
}

func TestEventDrivenNeverFires(t *testing.T) {
	s := newTestScheduler(DefaultConfig())

	assert.True(t, s.EventDriven())
	assert.Nil(t, s.C())

	select {
	case <-s.C():
		t.Fatal("event-driven scheduler must not fire")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFixedDTAcrossTicks(t *testing.T) {
	s := newTestScheduler(WithRate(20))
	dur := 50 * time.Millisecond

	for i := 1; i <= 5; i++ {
		info := s.fire(s.next) // exactly on time
		assert.Equal(t, uint64(i), info.Tick)
		assert.Equal(t, dur, info.DT)
		assert.False(t, info.Overrun)
		assert.Zero(t, info.TicksSkipped)
	}
	assert.Equal(t, uint64(5), s.TickCount())
}

func TestSmallLatenessIsNotOverrun(t *testing.T) {
	s := newTestScheduler(WithRate(20)) // 50ms budget, 5ms tolerance

	info := s.fire(s.next.Add(4 * time.Millisecond))
	assert.False(t, info.Overrun)
}

func TestSkipPolicySkipsAheadOnOverrun(t *testing.T) {
	s := newTestScheduler(WithRate(20)) // 50ms ticks

	late := s.next.Add(175 * time.Millisecond)
	info := s.fire(late)

	assert.True(t, info.Overrun)
	assert.Equal(t, uint64(3), info.TicksSkipped)
	// Skip reschedules from now, not the missed deadline.
	assert.Equal(t, late.Add(50*time.Millisecond), s.next)

	m := s.Metrics()
	assert.Equal(t, uint64(1), m.TotalOverruns)
	assert.Equal(t, uint64(3), m.TotalSkipped)
}

func TestCatchUpPolicyWithinCap(t *testing.T) {
	cfg := WithRate(20)
	cfg.Policy = PolicyCatchUp
	cfg.MaxCatchup = 3
	s := newTestScheduler(cfg)

	deadline := s.next
	info := s.fire(deadline.Add(120 * time.Millisecond)) // 2 ticks behind

	assert.True(t, info.Overrun)
	assert.Zero(t, info.TicksSkipped)
	// Next deadline keeps the original cadence so the missed ticks run
	// back to back.
	assert.Equal(t, deadline.Add(50*time.Millisecond), s.next)
}

func TestCatchUpPolicyBeyondCapSkipsRemainder(t *testing.T) {
	cfg := WithRate(20)
	cfg.Policy = PolicyCatchUp
	cfg.MaxCatchup = 2
	s := newTestScheduler(cfg)

	late := s.next.Add(300 * time.Millisecond) // 6 ticks behind
	info := s.fire(late)

	assert.True(t, info.Overrun)
	assert.Equal(t, uint64(4), info.TicksSkipped)
	assert.Equal(t, late.Add(50*time.Millisecond), s.next)
}

func TestDropPolicyKeepsOriginalCadence(t *testing.T) {
	cfg := WithRate(20)
	cfg.Policy = PolicyDrop
	s := newTestScheduler(cfg)

	deadline := s.next
	info := s.fire(deadline.Add(130 * time.Millisecond))

	assert.True(t, info.Overrun)
	assert.Zero(t, info.TicksSkipped)
	assert.Equal(t, deadline.Add(50*time.Millisecond), s.next)
}

func TestPauseResumeIdempotent(t *testing.T) {
	s := newTestScheduler(WithRate(20))

	s.Pause()
	s.Pause()
	assert.True(t, s.Paused())
	assert.Nil(t, s.C())

	before := time.Now()
	s.Resume()
	s.Resume()
	assert.False(t, s.Paused())
	require.NotNil(t, s.C())
	// Resume resets the deadline instead of bursting catch-up ticks.
	assert.False(t, s.next.Before(before.Add(50*time.Millisecond)))
}

func TestRecordTickEndTracksMetrics(t *testing.T) {
	s := newTestScheduler(WithRate(20))

	start := s.next
	s.fire(start)
	s.recordTickEnd(start.Add(10 * time.Millisecond))

	m := s.Metrics()
	assert.Equal(t, uint64(1), m.TotalTicks)
	assert.InDelta(t, 0.2, m.BudgetUtilization, 1e-9)
	assert.Equal(t, 10*time.Millisecond, m.MaxTickTime)
	// First EMA sample: 0.9*0 + 0.1*10ms.
	assert.Equal(t, time.Millisecond, m.AvgTickTime)
}

func TestRecordTickEndWithoutFireIsNoop(t *testing.T) {
	s := newTestScheduler(WithRate(20))

	s.RecordTickEnd()
	assert.Zero(t, s.Metrics().BudgetUtilization)
}

func TestSchedulerFiresOnRealTimer(t *testing.T) {
	s := newTestScheduler(WithRate(100)) // 10ms ticks

	select {
	case <-s.C():
		info := s.Fire()
		assert.Equal(t, uint64(1), info.Tick)
		assert.Equal(t, 10*time.Millisecond, info.DT)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not fire")
	}
}
