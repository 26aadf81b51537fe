package monitoring

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUGuard sheds new connections when the host is overloaded. It
// samples process-wide CPU utilization in the background and answers
// admission checks from the latest sample, so the hot path never
// touches gopsutil.
type CPUGuard struct {
	threshold float64 // percent, 0 disables the guard
	current   atomic.Uint64
	log       zerolog.Logger
}

// NewCPUGuard starts sampling until ctx is canceled. A zero or negative
// threshold disables the guard; Allow then always returns true.
func NewCPUGuard(ctx context.Context, thresholdPct float64, log zerolog.Logger) *CPUGuard {
	g := &CPUGuard{
		threshold: thresholdPct,
		log:       log.With().Str("component", "cpu_guard").Logger(),
	}
	if thresholdPct > 0 {
		go g.sample(ctx)
	}
	return g
}

// Allow reports whether a new connection should be admitted.
func (g *CPUGuard) Allow() bool {
	if g.threshold <= 0 {
		return true
	}
	return g.Current() < g.threshold
}

// Current returns the latest sampled CPU utilization in percent.
func (g *CPUGuard) Current() float64 {
	return math.Float64frombits(g.current.Load())
}

func (g *CPUGuard) sample(ctx context.Context) {
	defer RecoverPanic(g.log, "cpu_guard")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pcts, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(pcts) == 0 {
				continue
			}
			g.current.Store(math.Float64bits(pcts[0]))
			if pcts[0] >= g.threshold {
				g.log.Warn().Float64("cpu_pct", pcts[0]).Float64("threshold", g.threshold).
					Msg("cpu above admission threshold, rejecting new connections")
			}
		}
	}
}
