package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaleworld/client/internal/entity"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeCatalog(t, `
entities:
  - name: oak_tree
    kind: mesh
    asset_uri: assets/meshes/oak.glb
    snap_to_terrain: true
  - name: delivery_van
    kind: automobile
    asset_uri: assets/meshes/van.glb
    scale: 1.5
    heading_deg: 90
    speed_kph: 45
  - name: cessna
    kind: airplane
    asset_uri: assets/meshes/cessna.glb
    heading_deg: 180
    velocity_ms: 60
    altitude_m: 900
`)
	table, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Count())

	oak := table.Get("oak_tree")
	require.NotNil(t, oak)
	assert.Equal(t, entity.KindMesh, oak.Kind)
	assert.Equal(t, 1.0, oak.Scale, "scale defaults to 1")

	van := table.Get("delivery_van")
	require.NotNil(t, van)
	assert.Equal(t, 1.5, van.Scale)

	assert.Nil(t, table.Get("submarine"))
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	path := writeCatalog(t, `
entities:
  - name: submarine
    kind: submarine
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestTemplatePayloads(t *testing.T) {
	mesh := &Template{Kind: entity.KindMesh, AssetURI: "a.glb", SnapToTerrain: true}
	p := mesh.Payload()
	require.IsType(t, entity.MeshPayload{}, p)
	assert.True(t, p.(entity.MeshPayload).SnapToTerrain)

	auto := &Template{Kind: entity.KindAutomobile, AssetURI: "v.glb", HeadingDeg: 90, SpeedKPH: 45}
	require.IsType(t, entity.AutomobilePayload{}, auto.Payload())

	plane := &Template{Kind: entity.KindAirplane, AssetURI: "c.glb", VelocityMS: 60}
	require.IsType(t, entity.AirplanePayload{}, plane.Payload())
	assert.Equal(t, 60.0, plane.Payload().(entity.AirplanePayload).VelocityMS)
}
