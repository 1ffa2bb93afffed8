package entity

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Op distinguishes the three wire-level diff operations.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// FieldSet is the partial-record portion of an update diff. Nil pointers mean
// "field untouched"; only non-nil fields are written on acceptance.
type FieldSet struct {
	Position *Vec3    `json:"position,omitempty"`
	Rotation *Vec3    `json:"rotation,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Pending  *bool    `json:"pending,omitempty"`
	Payload  Payload  `json:"-"`
}

// Empty reports whether the set touches no fields.
func (f FieldSet) Empty() bool {
	return f.Position == nil && f.Rotation == nil && f.Scale == nil &&
		f.Pending == nil && f.Payload == nil
}

// Names returns the touched field names, for change notifications and logs.
func (f FieldSet) Names() []string {
	var names []string
	if f.Position != nil {
		names = append(names, "position")
	}
	if f.Rotation != nil {
		names = append(names, "rotation")
	}
	if f.Scale != nil {
		names = append(names, "scale")
	}
	if f.Pending != nil {
		names = append(names, "pending")
	}
	if f.Payload != nil {
		names = append(names, "payload")
	}
	return names
}

// Diff is a versioned partial update to one entity. A create carries the full
// record; an update carries a field set validated against BaseVersion; a
// delete carries only the id.
type Diff struct {
	Op          Op
	EntityID    string
	BaseVersion uint64
	Fields      FieldSet
	Record      *Record // create only
}

// wireDiff is the JSON frame exchanged over the sync channel.
type wireDiff struct {
	Op          Op              `json:"op"`
	EntityID    string          `json:"entity_id"`
	BaseVersion uint64          `json:"base_version"`
	Position    *Vec3           `json:"position,omitempty"`
	Rotation    *Vec3           `json:"rotation,omitempty"`
	Scale       *float64        `json:"scale,omitempty"`
	Pending     *bool           `json:"pending,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Record      *wireRecord     `json:"record,omitempty"`
}

type wireRecord struct {
	Kind     Kind            `json:"kind"`
	Position Vec3            `json:"position"`
	Rotation Vec3            `json:"rotation"`
	Scale    float64         `json:"scale"`
	Pending  bool            `json:"pending"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// EncodeDiff serializes a diff into its wire frame.
func EncodeDiff(d Diff) ([]byte, error) {
	w := wireDiff{
		Op:          d.Op,
		EntityID:    d.EntityID,
		BaseVersion: d.BaseVersion,
		Position:    d.Fields.Position,
		Rotation:    d.Fields.Rotation,
		Scale:       d.Fields.Scale,
		Pending:     d.Fields.Pending,
	}
	if d.Fields.Payload != nil {
		raw, err := MarshalPayload(d.Fields.Payload)
		if err != nil {
			return nil, err
		}
		w.Payload = raw
	}
	if d.Op == OpCreate {
		if d.Record == nil {
			return nil, fmt.Errorf("encode diff: create for %s without record", d.EntityID)
		}
		raw, err := MarshalPayload(d.Record.Payload)
		if err != nil {
			return nil, err
		}
		w.Record = &wireRecord{
			Kind:     d.Record.Kind,
			Position: d.Record.Position,
			Rotation: d.Record.Rotation,
			Scale:    d.Record.Scale,
			Pending:  d.Record.Pending,
			Payload:  raw,
		}
	}
	return json.Marshal(w)
}

// DecodeDiff parses and validates a wire frame. Any failure here is a
// malformed payload: the frame never reaches the version check and the caller
// counts it as a stale-reference-class event.
func DecodeDiff(raw []byte) (Diff, error) {
	var w wireDiff
	if err := json.Unmarshal(raw, &w); err != nil {
		return Diff{}, fmt.Errorf("decode diff: %w", err)
	}
	if w.EntityID == "" {
		return Diff{}, fmt.Errorf("decode diff: empty entity id")
	}
	d := Diff{
		Op:          w.Op,
		EntityID:    w.EntityID,
		BaseVersion: w.BaseVersion,
		Fields: FieldSet{
			Position: w.Position,
			Rotation: w.Rotation,
			Scale:    w.Scale,
			Pending:  w.Pending,
		},
	}
	if len(w.Payload) > 0 {
		p, err := UnmarshalPayload(w.Payload)
		if err != nil {
			return Diff{}, fmt.Errorf("decode diff %s: %w", w.EntityID, err)
		}
		d.Fields.Payload = p
	}
	switch w.Op {
	case OpCreate:
		if w.Record == nil {
			return Diff{}, fmt.Errorf("decode diff %s: create without record", w.EntityID)
		}
		if !w.Record.Kind.Valid() {
			return Diff{}, fmt.Errorf("decode diff %s: unknown kind %q", w.EntityID, w.Record.Kind)
		}
		p, err := UnmarshalPayload(w.Record.Payload)
		if err != nil {
			return Diff{}, fmt.Errorf("decode diff %s: %w", w.EntityID, err)
		}
		d.Record = &Record{
			ID:       w.EntityID,
			Kind:     w.Record.Kind,
			Position: w.Record.Position,
			Rotation: w.Record.Rotation,
			Scale:    w.Record.Scale,
			Pending:  w.Record.Pending,
			Payload:  p,
		}
	case OpUpdate:
		if d.Fields.Empty() {
			return Diff{}, fmt.Errorf("decode diff %s: update touches no fields", w.EntityID)
		}
	case OpDelete:
		// id is enough
	default:
		return Diff{}, fmt.Errorf("decode diff %s: unknown op %q", w.EntityID, w.Op)
	}
	return d, nil
}

// Fingerprint returns a stable hash of the diff's identity and content. The
// applier uses it to drop exact redeliveries from the at-least-once channel.
func (d Diff) Fingerprint() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(string(d.Op))
	_, _ = h.WriteString(d.EntityID)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(d.BaseVersion >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	if raw, err := EncodeDiff(d); err == nil {
		_, _ = h.Write(raw)
	}
	return h.Sum64()
}
