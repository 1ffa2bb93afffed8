// Package catalog loads the entity-type catalog: the static templates local
// placements are stamped from.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scaleworld/client/internal/entity"
)

// Template holds static data for one placeable entity type.
type Template struct {
	Name          string      `yaml:"name"`
	Kind          entity.Kind `yaml:"kind"`
	AssetURI      string      `yaml:"asset_uri"`
	Scale         float64     `yaml:"scale"`
	SnapToTerrain bool        `yaml:"snap_to_terrain"`
	HeadingDeg    float64     `yaml:"heading_deg"`
	SpeedKPH      float64     `yaml:"speed_kph"`
	VelocityMS    float64     `yaml:"velocity_ms"`
	AltitudeM     float64     `yaml:"altitude_m"`
}

// Payload builds the type-specific record payload for this template.
func (t *Template) Payload() entity.Payload {
	switch t.Kind {
	case entity.KindMesh:
		return entity.MeshPayload{AssetURI: t.AssetURI, SnapToTerrain: t.SnapToTerrain}
	case entity.KindAutomobile:
		return entity.AutomobilePayload{AssetURI: t.AssetURI, HeadingDeg: t.HeadingDeg, SpeedKPH: t.SpeedKPH}
	case entity.KindAirplane:
		return entity.AirplanePayload{AssetURI: t.AssetURI, HeadingDeg: t.HeadingDeg, VelocityMS: t.VelocityMS, AltitudeM: t.AltitudeM}
	}
	return nil
}

type catalogFile struct {
	Entities []Template `yaml:"entities"`
}

// Table holds all templates indexed by name.
type Table struct {
	templates map[string]*Template
}

// Load reads the catalog from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	t := &Table{templates: make(map[string]*Template, len(f.Entities))}
	for i := range f.Entities {
		tmpl := &f.Entities[i]
		if !tmpl.Kind.Valid() {
			return nil, fmt.Errorf("catalog entry %q: unknown kind %q", tmpl.Name, tmpl.Kind)
		}
		if tmpl.Scale <= 0 {
			tmpl.Scale = 1.0
		}
		t.templates[tmpl.Name] = tmpl
	}
	return t, nil
}

// Get returns a template by name, or nil if not found.
func (t *Table) Get(name string) *Template {
	return t.templates[name]
}

// Count returns the number of loaded templates.
func (t *Table) Count() int {
	return len(t.templates)
}
