package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[world]
name = "testworld"
start_altitude = 500.0

[[world.entities]]
type = "oak_tree"
x = 1.0
y = 2.0
z = 3.0

[loop]
tick_rate = "8ms"

[sync]
enabled = true
url = "ws://example:9000/sync"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "testworld", cfg.World.Name)
	assert.Equal(t, 500.0, cfg.World.StartAltitude)
	require.Len(t, cfg.World.Entities, 1)
	assert.Equal(t, "oak_tree", cfg.World.Entities[0].Type)
	assert.Equal(t, 8*time.Millisecond, cfg.Loop.TickRate)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "ws://example:9000/sync", cfg.Sync.URL)

	// Untouched sections keep their defaults.
	assert.Equal(t, "earth", cfg.World.Terrain)
	assert.Len(t, cfg.Renderer.Bands, 7)
	assert.False(t, cfg.Journal.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestDefaultBandsCoverTheAxis(t *testing.T) {
	cfg := defaults()
	require.NotEmpty(t, cfg.Renderer.Bands)
	for _, b := range cfg.Renderer.Bands[:len(cfg.Renderer.Bands)-1] {
		assert.Greater(t, b.MaxAltitude, 0.0, "only the top band may be unbounded")
	}
	assert.Zero(t, cfg.Renderer.Bands[len(cfg.Renderer.Bands)-1].MaxAltitude)
}
