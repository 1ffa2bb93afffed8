package render

import (
	"context"
	"fmt"
)

// bodyCatalog lists the reference bodies drawn at a space scale: satellites
// for orbital, nearby stars for stellar, galaxies for galactic.
type bodyCatalog struct {
	Bodies []struct {
		Name string  `json:"name"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
		Z    float64 `json:"z"`
	} `json:"bodies"`
}

// spaceRenderer covers the orbital, stellar, and galactic scales. At these
// distances entities collapse to points; only the catalog differs per kind.
type spaceRenderer struct {
	kind    ScaleKind
	deps    BuildDeps
	catalog bodyCatalog
	stats   FrameStats
}

func newSpaceRenderer(kind ScaleKind, deps BuildDeps) *spaceRenderer {
	return &spaceRenderer{kind: kind, deps: deps}
}

func (r *spaceRenderer) Kind() ScaleKind { return r.kind }

func (r *spaceRenderer) Initialize(ctx context.Context) error {
	path := fmt.Sprintf("catalog/%s", r.kind)
	if err := r.deps.Transport.FetchJSON(ctx, path, nil, &r.catalog); err != nil {
		return fmt.Errorf("%s catalog: %w", r.kind, err)
	}
	return nil
}

func (r *spaceRenderer) RenderFrame(f Frame) error {
	r.stats.Frames++
	r.stats.Entities = len(f.Entities)
	return nil
}

func (r *spaceRenderer) Teardown(ctx context.Context) error {
	r.catalog.Bodies = nil
	return ctx.Err()
}

func (r *spaceRenderer) Stats() FrameStats { return r.stats }
