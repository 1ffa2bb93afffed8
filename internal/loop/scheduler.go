// Package loop drives the fixed-rate tick: apply diffs, dispatch lifecycle
// events, step scripts, render.
package loop

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/apply"
	"github.com/scaleworld/client/internal/core/event"
	"github.com/scaleworld/client/internal/core/system"
	"github.com/scaleworld/client/internal/entity"
	"github.com/scaleworld/client/internal/render"
	"github.com/scaleworld/client/internal/script"
)

// Scheduler runs the tick as one uninterrupted unit of work with respect to
// registry mutation: no diff is ever applied mid-render.
type Scheduler struct {
	runner *system.Runner
	tick   time.Duration
	log    *zap.Logger
}

func NewScheduler(tick time.Duration, reg *entity.Registry, bus *event.Bus,
	applier *apply.Applier, scripts *script.Runner, selector *render.Selector,
	observer *render.Observer, log *zap.Logger) *Scheduler {

	runner := system.NewRunner(log)
	runner.Register(applySystem{applier})
	runner.Register(dispatchSystem{bus})
	runner.Register(scriptSystem{scripts})
	runner.Register(renderSystem{selector: selector, reg: reg, observer: observer})

	return &Scheduler{runner: runner, tick: tick, log: log}
}

// Step executes one tick with the given delta. Exposed for tests; Run calls
// it at the fixed rate.
func (s *Scheduler) Step(dt time.Duration) {
	s.runner.Tick(dt)
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Info("frame loop started", zap.Duration("tick", s.tick))
	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			s.Step(now.Sub(last))
			last = now
		case <-ctx.Done():
			s.log.Info("frame loop stopped")
			return nil
		}
	}
}

// --- phase adapters ---

type applySystem struct{ a *apply.Applier }

func (s applySystem) Phase() system.Phase     { return system.PhaseApply }
func (s applySystem) Update(dt time.Duration) { s.a.DrainAndApply() }

type dispatchSystem struct{ bus *event.Bus }

func (s dispatchSystem) Phase() system.Phase { return system.PhaseDispatch }
func (s dispatchSystem) Update(dt time.Duration) { s.bus.Dispatch() }

type scriptSystem struct{ r *script.Runner }

func (s scriptSystem) Phase() system.Phase     { return system.PhaseScript }
func (s scriptSystem) Update(dt time.Duration) { s.r.Step(dt) }

type renderSystem struct {
	selector *render.Selector
	reg      *entity.Registry
	observer *render.Observer
}

func (s renderSystem) Phase() system.Phase { return system.PhaseRender }

// Update snapshots the registry, filters to live entities, and hands the
// frame to whichever renderer is active.
func (s renderSystem) Update(dt time.Duration) {
	all := s.reg.List()
	live := all[:0]
	for _, rec := range all {
		if !rec.Pending {
			live = append(live, rec)
		}
	}
	alt := s.observer.Altitude()
	s.selector.Tick(alt, render.Frame{Entities: live, Delta: dt, Altitude: alt})
}
