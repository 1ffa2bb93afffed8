package system

import "time"

// Phase defines execution ordering within a single tick. The order is the
// consistency contract: scripts and renderers always observe the tick's
// fully-merged remote state, never a partially-applied one.
type Phase int

const (
	PhaseApply    Phase = iota // 0: drain queued diffs into the registry
	PhaseDispatch              // 1: deliver lifecycle events from the drain
	PhaseScript                // 2: per-entity behavior scripts
	PhaseRender                // 3: renderer transition check + renderFrame
)

// System is one tick participant. Update must not panic outward; the runner
// guards, but a panic still costs the system its slice of the tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
