package render

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/backoff"
)

// State is a descriptor's position in the activation lifecycle.
type State uint8

const (
	Inactive State = iota
	Activating
	Active
	Deactivating
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Deactivating:
		return "deactivating"
	}
	return "unknown"
}

type activationResult struct {
	idx  int
	inst Renderer
	err  error
}

// Selector owns the renderer state machine. At most one descriptor occupies
// each of {Activating, Active, Deactivating}; the Active renderer keeps
// serving frames until its replacement reports ready, so no tick ever runs
// with zero renderers. All methods run on the tick goroutine; activation and
// teardown work happens on helper goroutines that report back through
// channels drained at tick start.
type Selector struct {
	descs []Descriptor
	deps  BuildDeps
	retry backoff.Config
	log   *zap.Logger
	rng   *rand.Rand
	now   func() time.Time

	states    []State
	instances []Renderer

	active     int // index serving frames, -1 before Start
	activating int // index with an in-flight Initialize, -1 for none
	cancel     context.CancelFunc

	// retry state per descriptor: a failed band backs off without delaying
	// the first attempt of any other band.
	attempts []int
	retryAt  []time.Time

	actCh  chan activationResult
	tornCh chan int

	baseCtx context.Context
}

func NewSelector(descs []Descriptor, deps BuildDeps, retry backoff.Config, log *zap.Logger) (*Selector, error) {
	if err := ValidateBands(descs); err != nil {
		return nil, err
	}
	return &Selector{
		descs:      descs,
		deps:       deps,
		retry:      retry,
		log:        log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		states:     make([]State, len(descs)),
		instances:  make([]Renderer, len(descs)),
		attempts:   make([]int, len(descs)),
		retryAt:    make([]time.Time, len(descs)),
		active:     -1,
		activating: -1,
		actCh:      make(chan activationResult, len(descs)),
		tornCh:     make(chan int, len(descs)),
		baseCtx:    context.Background(),
	}, nil
}

// Start activates the renderer for the initial altitude synchronously. The
// client has no previous renderer to fall back on, so a failure here is a
// startup failure.
func (s *Selector) Start(ctx context.Context, altitude float64) error {
	s.baseCtx = ctx
	idx := s.indexFor(altitude)
	inst := s.descs[idx].Build(s.deps)
	if err := inst.Initialize(ctx); err != nil {
		return fmt.Errorf("activate %s: %w", s.descs[idx].Kind, err)
	}
	s.instances[idx] = inst
	s.states[idx] = Active
	s.active = idx
	s.log.Info("renderer active", zap.String("scale", string(s.descs[idx].Kind)))
	return nil
}

// Tick runs one transition check and renders the active frame. Frame order
// is guaranteed: even mid-transition the previous renderer serves the frame.
func (s *Selector) Tick(altitude float64, f Frame) {
	s.collectTeardowns()
	s.collectActivations(altitude)
	s.ensureTarget(altitude)
	s.renderActive(f)
}

// ActiveKind returns the scale currently serving frames.
func (s *Selector) ActiveKind() ScaleKind {
	if s.active < 0 {
		return ""
	}
	return s.descs[s.active].Kind
}

// StateOf reports a descriptor's lifecycle state, for tests and diagnostics.
func (s *Selector) StateOf(kind ScaleKind) State {
	for i, d := range s.descs {
		if d.Kind == kind {
			return s.states[i]
		}
	}
	return Inactive
}

// Remove drops any per-entity render handle for a destroyed entity. The
// registry calls this synchronously on Delete. Only settled instances get
// the callback: a Deactivating one is releasing every handle inside its
// in-flight Teardown, an Activating one cannot hold handles before its
// first frame — reaching into either would race with its helper goroutine.
func (s *Selector) Remove(id string) {
	for i, inst := range s.instances {
		if s.states[i] == Activating || s.states[i] == Deactivating {
			continue
		}
		if dropper, ok := inst.(EntityDropper); ok {
			dropper.DropEntity(id)
		}
	}
}

// Shutdown tears down every live instance. Called once at client exit.
func (s *Selector) Shutdown(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	for i, inst := range s.instances {
		if inst == nil {
			continue
		}
		if err := inst.Teardown(ctx); err != nil {
			s.log.Warn("teardown failed",
				zap.String("scale", string(s.descs[i].Kind)),
				zap.Error(err))
		}
		s.instances[i] = nil
		s.states[i] = Inactive
	}
}

func (s *Selector) indexFor(altitude float64) int {
	if altitude < 0 {
		altitude = 0
	}
	for i, d := range s.descs {
		if d.Activates(altitude) {
			return i
		}
	}
	return len(s.descs) - 1
}

func (s *Selector) collectTeardowns() {
	for {
		select {
		case idx := <-s.tornCh:
			s.states[idx] = Inactive
			s.instances[idx] = nil
		default:
			return
		}
	}
}

func (s *Selector) collectActivations(altitude float64) {
	for {
		select {
		case res := <-s.actCh:
			s.onActivationResult(res, altitude)
		default:
			return
		}
	}
}

func (s *Selector) onActivationResult(res activationResult, altitude float64) {
	if res.idx == s.activating {
		s.activating = -1
		s.cancel = nil
	}
	desired := s.indexFor(altitude)

	if res.err != nil {
		s.states[res.idx] = Inactive
		s.instances[res.idx] = nil
		if errors.Is(res.err, context.Canceled) {
			return // abandoned on purpose, no retry
		}
		// Previous renderer stays active; retry with backoff.
		s.attempts[res.idx]++
		s.retryAt[res.idx] = s.now().Add(backoff.Delay(s.retry, s.attempts[res.idx], s.rng))
		s.log.Warn("renderer activation failed, previous renderer stays active",
			zap.String("scale", string(s.descs[res.idx].Kind)),
			zap.Int("attempt", s.attempts[res.idx]),
			zap.Time("retry_at", s.retryAt[res.idx]),
			zap.Error(res.err))
		return
	}

	if res.idx != desired {
		// Late callback for a descriptor that is no longer the target:
		// the observer moved on while Initialize was in flight.
		s.log.Debug("discarding late activation", zap.String("scale", string(s.descs[res.idx].Kind)))
		s.instances[res.idx] = res.inst
		s.beginTeardown(res.idx)
		return
	}

	// Promote: the new renderer takes over, the old one deactivates. Both
	// transitions run concurrently; frames were never skipped in between.
	old := s.active
	s.instances[res.idx] = res.inst
	s.states[res.idx] = Active
	s.active = res.idx
	s.attempts[res.idx] = 0
	s.retryAt[res.idx] = time.Time{}
	if old >= 0 && old != res.idx {
		s.beginTeardown(old)
	}
	s.log.Info("renderer active", zap.String("scale", string(s.descs[res.idx].Kind)))
}

func (s *Selector) ensureTarget(altitude float64) {
	desired := s.indexFor(altitude)
	if desired == s.active {
		if s.activating >= 0 && s.cancel != nil {
			// Observer moved back into the active band: abandon the
			// in-flight activation, its completion will be ignored.
			s.cancel()
		}
		return
	}
	if s.activating == desired {
		return // already on its way
	}
	if s.activating >= 0 {
		// A different target is in flight; cancel and wait for its result
		// before starting another, keeping one Activating at a time.
		if s.cancel != nil {
			s.cancel()
		}
		return
	}
	// Eligible only once any previous teardown of this descriptor (or the
	// descriptor vacating Deactivating) has finished.
	if s.states[desired] != Inactive {
		return
	}
	for _, st := range s.states {
		if st == Deactivating {
			return
		}
	}
	if !s.retryAt[desired].IsZero() && s.now().Before(s.retryAt[desired]) {
		return
	}
	s.beginActivation(desired)
}

func (s *Selector) beginActivation(idx int) {
	inst := s.descs[idx].Build(s.deps)
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel
	s.activating = idx
	s.states[idx] = Activating
	s.instances[idx] = inst
	s.log.Info("renderer activating", zap.String("scale", string(s.descs[idx].Kind)))
	go func() {
		err := inst.Initialize(ctx)
		if err != nil {
			s.actCh <- activationResult{idx: idx, err: err}
			return
		}
		s.actCh <- activationResult{idx: idx, inst: inst}
	}()
}

func (s *Selector) beginTeardown(idx int) {
	inst := s.instances[idx]
	if inst == nil {
		s.states[idx] = Inactive
		return
	}
	s.states[idx] = Deactivating
	go func() {
		if err := inst.Teardown(s.baseCtx); err != nil {
			s.log.Warn("teardown failed",
				zap.String("scale", string(s.descs[idx].Kind)),
				zap.Error(err))
		}
		s.tornCh <- idx
	}()
}

func (s *Selector) renderActive(f Frame) {
	if s.active < 0 {
		return
	}
	inst := s.instances[s.active]
	if inst == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("renderFrame panicked",
				zap.String("scale", string(s.descs[s.active].Kind)),
				zap.Any("panic", rec))
		}
	}()
	if err := inst.RenderFrame(f); err != nil {
		s.log.Warn("renderFrame failed",
			zap.String("scale", string(s.descs[s.active].Kind)),
			zap.Error(err))
	}
}
