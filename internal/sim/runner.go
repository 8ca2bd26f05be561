package sim

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Tickable is anything driven once per control cycle, after the world
// has stepped. Managers implement it.
type Tickable interface {
	Tick(now float64)
}

// Runner drives the world and all registered tickables at a fixed
// period on a single goroutine. Everything downstream of Tick relies on
// that serialization; tickables must not block.
type Runner struct {
	world  *World
	period time.Duration
	clk    clock.Clock
	ticks  []Tickable
	log    *zap.SugaredLogger
}

func NewRunner(w *World, period time.Duration, clk clock.Clock, log *zap.SugaredLogger) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{world: w, period: period, clk: clk, log: log}
}

func (r *Runner) Add(t Tickable) {
	r.ticks = append(r.ticks, t)
}

// Step performs one control cycle: world physics first, then every
// tickable, so controllers observe the state produced by this tick's
// integration.
func (r *Runner) Step() {
	r.world.Step(r.period.Seconds())
	now := r.world.Time()
	for _, t := range r.ticks {
		t.Tick(now)
	}
}

// Run steps at the configured period until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clk.Ticker(r.period)
	defer ticker.Stop()

	r.log.Infow("runner started", "period", r.period)
	for {
		select {
		case <-ctx.Done():
			r.log.Infow("runner stopped", "sim_time", r.world.Time())
			return ctx.Err()
		case <-ticker.C:
			r.Step()
		}
	}
}
