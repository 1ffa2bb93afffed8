package render

import (
	"math"
	"sync/atomic"
)

// Observer tracks the viewpoint. The UI layer writes from its own goroutine;
// the tick loop reads once per tick, so the altitude is stored atomically.
type Observer struct {
	altBits atomic.Uint64
}

func NewObserver(altitude float64) *Observer {
	o := &Observer{}
	o.SetAltitude(altitude)
	return o
}

// SetAltitude records the observer's altitude above the surface, in meters.
func (o *Observer) SetAltitude(alt float64) {
	if alt < 0 || math.IsNaN(alt) {
		alt = 0
	}
	o.altBits.Store(math.Float64bits(alt))
}

// Altitude returns the last recorded altitude.
func (o *Observer) Altitude() float64 {
	return math.Float64frombits(o.altBits.Load())
}
