package render

import (
	"context"
	"fmt"
	"net/url"
)

// globeManifest describes the planet-level texture set.
type globeManifest struct {
	Radius   float64  `json:"radius"`
	Textures []string `json:"textures"`
}

// globeRenderer renders the whole planet as a textured sphere.
type globeRenderer struct {
	deps     BuildDeps
	manifest globeManifest
	stats    FrameStats
}

func newGlobe(deps BuildDeps) *globeRenderer {
	return &globeRenderer{deps: deps}
}

func (r *globeRenderer) Kind() ScaleKind { return Globe }

func (r *globeRenderer) Initialize(ctx context.Context) error {
	params := url.Values{"terrain": {r.deps.Terrain}}
	if err := r.deps.Transport.FetchJSON(ctx, "globe/manifest", params, &r.manifest); err != nil {
		return fmt.Errorf("globe manifest: %w", err)
	}
	if r.manifest.Radius <= 0 {
		return fmt.Errorf("globe manifest: non-positive radius %g", r.manifest.Radius)
	}
	return nil
}

func (r *globeRenderer) RenderFrame(f Frame) error {
	r.stats.Frames++
	r.stats.Entities = len(f.Entities)
	return nil
}

func (r *globeRenderer) Teardown(ctx context.Context) error {
	r.manifest.Textures = nil
	return ctx.Err()
}

func (r *globeRenderer) Stats() FrameStats { return r.stats }

// atmosphereProfile parameterizes the scattering band between globe and
// orbital views.
type atmosphereProfile struct {
	ScaleHeight float64 `json:"scale_height"`
	Density     float64 `json:"density"`
}

type atmosphereRenderer struct {
	deps    BuildDeps
	profile atmosphereProfile
	stats   FrameStats
}

func newAtmosphere(deps BuildDeps) *atmosphereRenderer {
	return &atmosphereRenderer{deps: deps}
}

func (r *atmosphereRenderer) Kind() ScaleKind { return Atmosphere }

func (r *atmosphereRenderer) Initialize(ctx context.Context) error {
	if err := r.deps.Transport.FetchJSON(ctx, "atmosphere/profile", nil, &r.profile); err != nil {
		return fmt.Errorf("atmosphere profile: %w", err)
	}
	return nil
}

func (r *atmosphereRenderer) RenderFrame(f Frame) error {
	r.stats.Frames++
	r.stats.Entities = len(f.Entities)
	return nil
}

func (r *atmosphereRenderer) Teardown(ctx context.Context) error { return ctx.Err() }

func (r *atmosphereRenderer) Stats() FrameStats { return r.stats }
