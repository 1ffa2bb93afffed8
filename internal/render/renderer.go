// Package render selects and drives exactly one scale-appropriate renderer
// over the live entity snapshot.
package render

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/entity"
	"github.com/scaleworld/client/internal/transport"
)

// ScaleKind names the closed set of renderer variants, ordered by ascending
// observation scale.
type ScaleKind string

const (
	SurfaceStatic ScaleKind = "surfaceStatic"
	SurfaceTiled  ScaleKind = "surfaceTiled"
	Globe         ScaleKind = "globe"
	Atmosphere    ScaleKind = "atmosphere"
	Orbital       ScaleKind = "orbital"
	Stellar       ScaleKind = "stellar"
	Galactic      ScaleKind = "galactic"
)

// rank orders kinds by scale for the band monotonicity check.
func (k ScaleKind) rank() int {
	switch k {
	case SurfaceStatic:
		return 0
	case SurfaceTiled:
		return 1
	case Globe:
		return 2
	case Atmosphere:
		return 3
	case Orbital:
		return 4
	case Stellar:
		return 5
	case Galactic:
		return 6
	}
	return -1
}

// Frame is the read-only input to one renderFrame call. Entities are a
// snapshot filtered to live records; renderers must not mutate world state —
// renderer-driven changes go back through the diff applier.
type Frame struct {
	Entities []entity.Record
	Delta    time.Duration
	Altitude float64
}

// Renderer is the capability contract every scale implementation satisfies.
// Initialize must complete before the first RenderFrame; Teardown must
// complete before the implementation is eligible to activate again. Each
// implementation owns its resources outright — there is no shared base state.
type Renderer interface {
	Kind() ScaleKind
	Initialize(ctx context.Context) error
	RenderFrame(f Frame) error
	Teardown(ctx context.Context) error
}

// EntityDropper is implemented by renderers that cache per-entity handles.
type EntityDropper interface {
	DropEntity(id string)
}

// BuildDeps is everything a renderer factory may need.
type BuildDeps struct {
	Transport transport.Client
	Terrain   string
	Log       *zap.Logger
}

// Descriptor binds a scale band to a renderer factory. The band is
// [MinAltitude, MaxAltitude); the top band runs to +Inf.
type Descriptor struct {
	Kind        ScaleKind
	MinAltitude float64
	MaxAltitude float64
	Build       func(deps BuildDeps) Renderer
}

// Activates reports whether alt falls inside the descriptor's band.
func (d Descriptor) Activates(alt float64) bool {
	return alt >= d.MinAltitude && alt < d.MaxAltitude
}

// ValidateBands checks the startup invariant: descriptors sorted by
// ascending scale must partition the altitude axis [0, +Inf) without gaps or
// overlaps, so exactly one activation predicate holds for every altitude.
func ValidateBands(descs []Descriptor) error {
	if len(descs) == 0 {
		return fmt.Errorf("render: no descriptors configured")
	}
	sorted := make([]Descriptor, len(descs))
	copy(sorted, descs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinAltitude < sorted[j].MinAltitude
	})
	if sorted[0].MinAltitude != 0 {
		return fmt.Errorf("render: altitude axis starts at %g, want 0", sorted[0].MinAltitude)
	}
	prevRank := -1
	for i, d := range sorted {
		if d.Kind.rank() < 0 {
			return fmt.Errorf("render: unknown scale kind %q", d.Kind)
		}
		if d.Kind.rank() <= prevRank {
			return fmt.Errorf("render: descriptor %q out of scale order", d.Kind)
		}
		prevRank = d.Kind.rank()
		if d.MaxAltitude <= d.MinAltitude {
			return fmt.Errorf("render: descriptor %q has an empty band", d.Kind)
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if d.MaxAltitude != next.MinAltitude {
				return fmt.Errorf("render: bands %q and %q do not meet (%g vs %g)",
					d.Kind, next.Kind, d.MaxAltitude, next.MinAltitude)
			}
		} else if !math.IsInf(d.MaxAltitude, 1) {
			return fmt.Errorf("render: top band %q must extend to +Inf", d.Kind)
		}
	}
	return nil
}

// DefaultBuild returns the factory for a scale kind.
func DefaultBuild(kind ScaleKind) func(deps BuildDeps) Renderer {
	switch kind {
	case SurfaceStatic:
		return func(deps BuildDeps) Renderer { return newSurfaceStatic(deps) }
	case SurfaceTiled:
		return func(deps BuildDeps) Renderer { return newSurfaceTiled(deps) }
	case Globe:
		return func(deps BuildDeps) Renderer { return newGlobe(deps) }
	case Atmosphere:
		return func(deps BuildDeps) Renderer { return newAtmosphere(deps) }
	case Orbital, Stellar, Galactic:
		return func(deps BuildDeps) Renderer { return newSpaceRenderer(kind, deps) }
	}
	return nil
}
