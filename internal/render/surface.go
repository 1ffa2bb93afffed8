package render

import (
	"context"
	"fmt"
	"math"
	"net/url"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/entity"
)

// FrameStats summarizes the last rendered frame, for tests and diagnostics.
type FrameStats struct {
	Frames   uint64
	Entities int
	Tiles    int
}

// surfaceStatic renders the close-up flat surface. It needs no remote
// manifest: everything it draws comes from the entity snapshot.
type surfaceStatic struct {
	log   *zap.Logger
	stats FrameStats
}

func newSurfaceStatic(deps BuildDeps) *surfaceStatic {
	return &surfaceStatic{log: deps.Log}
}

func (r *surfaceStatic) Kind() ScaleKind { return SurfaceStatic }

func (r *surfaceStatic) Initialize(ctx context.Context) error { return nil }

func (r *surfaceStatic) RenderFrame(f Frame) error {
	r.stats.Frames++
	r.stats.Entities = len(f.Entities)
	return nil
}

func (r *surfaceStatic) Teardown(ctx context.Context) error { return nil }

func (r *surfaceStatic) Stats() FrameStats { return r.stats }

// tileManifest is the back-end's description of the planetary tile grid.
type tileManifest struct {
	TileSize float64 `json:"tile_size"`
	BaseURI  string  `json:"base_uri"`
	MaxLevel int     `json:"max_level"`
}

// surfaceTiled renders the planetary tile grid. It caches tile handles keyed
// by a hash of the tile URI and per-entity render handles; both caches are
// released during teardown.
type surfaceTiled struct {
	deps     BuildDeps
	manifest tileManifest
	tiles    map[uint64]struct{} // resident tile handles
	handles  map[string]uint64   // entity id → tile hash it is parented to
	stats    FrameStats
}

func newSurfaceTiled(deps BuildDeps) *surfaceTiled {
	return &surfaceTiled{
		deps:    deps,
		tiles:   make(map[uint64]struct{}),
		handles: make(map[string]uint64),
	}
}

func (r *surfaceTiled) Kind() ScaleKind { return SurfaceTiled }

// Initialize fetches the tile manifest. Must complete before the selector
// routes any renderFrame here.
func (r *surfaceTiled) Initialize(ctx context.Context) error {
	params := url.Values{"terrain": {r.deps.Terrain}}
	if err := r.deps.Transport.FetchJSON(ctx, "terrain/manifest", params, &r.manifest); err != nil {
		return fmt.Errorf("tile manifest: %w", err)
	}
	if r.manifest.TileSize <= 0 {
		return fmt.Errorf("tile manifest: non-positive tile size %g", r.manifest.TileSize)
	}
	return nil
}

func (r *surfaceTiled) RenderFrame(f Frame) error {
	r.stats.Frames++
	r.stats.Entities = len(f.Entities)
	for _, rec := range f.Entities {
		key := r.tileKey(rec.Position)
		r.tiles[key] = struct{}{}
		r.handles[rec.ID] = key
	}
	r.stats.Tiles = len(r.tiles)
	return nil
}

// tileKey hashes the tile URI an entity position resolves to.
func (r *surfaceTiled) tileKey(pos entity.Vec3) uint64 {
	tx := int64(math.Floor(pos.X / r.manifest.TileSize))
	ty := int64(math.Floor(pos.Y / r.manifest.TileSize))
	return xxhash.Sum64String(fmt.Sprintf("%s/%d/%d", r.manifest.BaseURI, tx, ty))
}

// DropEntity releases a destroyed entity's render handle.
func (r *surfaceTiled) DropEntity(id string) {
	delete(r.handles, id)
}

// Teardown releases the tile cache. Until this returns, the descriptor is
// not eligible to activate again.
func (r *surfaceTiled) Teardown(ctx context.Context) error {
	r.tiles = make(map[uint64]struct{})
	r.handles = make(map[string]uint64)
	r.stats.Tiles = 0
	return ctx.Err()
}

func (r *surfaceTiled) Stats() FrameStats { return r.stats }
