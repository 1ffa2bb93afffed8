package entity

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the type-specific payload variant carried by a record.
type Kind string

const (
	KindMesh       Kind = "mesh"
	KindAutomobile Kind = "automobile"
	KindAirplane   Kind = "airplane"
)

// Valid reports whether k names a known payload variant.
func (k Kind) Valid() bool {
	switch k {
	case KindMesh, KindAutomobile, KindAirplane:
		return true
	}
	return false
}

// Vec3 is a position or Euler rotation in world coordinates.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Payload is the type-specific portion of a record. Implementations are
// value types; mutating a payload never affects a registry-held record.
type Payload interface {
	PayloadKind() Kind
}

// MeshPayload describes a static mesh placement.
type MeshPayload struct {
	AssetURI      string `json:"asset_uri"`
	SnapToTerrain bool   `json:"snap_to_terrain"`
}

func (MeshPayload) PayloadKind() Kind { return KindMesh }

// AutomobilePayload describes a ground vehicle.
type AutomobilePayload struct {
	AssetURI   string  `json:"asset_uri"`
	HeadingDeg float64 `json:"heading_deg"`
	SpeedKPH   float64 `json:"speed_kph"`
}

func (AutomobilePayload) PayloadKind() Kind { return KindAutomobile }

// AirplanePayload describes an airborne vehicle.
type AirplanePayload struct {
	AssetURI   string  `json:"asset_uri"`
	HeadingDeg float64 `json:"heading_deg"`
	VelocityMS float64 `json:"velocity_ms"`
	AltitudeM  float64 `json:"altitude_m"`
}

func (AirplanePayload) PayloadKind() Kind { return KindAirplane }

// Record is one placed entity. The registry holds the authoritative copy;
// Get/List hand out value copies, so callers can never mutate registry state
// directly — all mutation goes through Create/ApplyDiff/Delete.
type Record struct {
	ID       string
	Kind     Kind
	Position Vec3
	Rotation Vec3
	Scale    float64
	Payload  Payload

	// Version increments by exactly 1 on every accepted mutation and is the
	// sole tie-breaker between conflicting concurrent diffs.
	Version uint64

	// Pending is true from creation until the type-specific asset load
	// completes. Pending records are hidden from scripts and renderers.
	Pending bool
}

// wirePayload is the JSON envelope for the payload variant.
type wirePayload struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes a payload with its kind tag.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wirePayload{Kind: p.PayloadKind(), Data: data})
}

// UnmarshalPayload decodes a kind-tagged payload envelope.
func UnmarshalPayload(raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env wirePayload
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("payload envelope: %w", err)
	}
	switch env.Kind {
	case KindMesh:
		var p MeshPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("mesh payload: %w", err)
		}
		return p, nil
	case KindAutomobile:
		var p AutomobilePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("automobile payload: %w", err)
		}
		return p, nil
	case KindAirplane:
		var p AirplanePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("airplane payload: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
}
