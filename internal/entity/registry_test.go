package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	created   []string
	live      []string
	updated   []string
	destroyed []string
}

func (r *recordingEvents) EntityCreated(id string, kind Kind, pending bool) {
	r.created = append(r.created, id)
}
func (r *recordingEvents) EntityLive(id string) { r.live = append(r.live, id) }
func (r *recordingEvents) EntityUpdated(id string, version uint64, fields []string) {
	r.updated = append(r.updated, id)
}
func (r *recordingEvents) EntityDestroyed(id string) { r.destroyed = append(r.destroyed, id) }

func meshRecord(id string) Record {
	return Record{
		ID:      id,
		Kind:    KindMesh,
		Scale:   1.0,
		Payload: MeshPayload{AssetURI: "assets/meshes/test.glb"},
	}
}

func TestCreateAndGet(t *testing.T) {
	reg := NewRegistry(nil)

	id, err := reg.Create(meshRecord("e1"))
	require.NoError(t, err)
	require.Equal(t, "e1", id)

	rec, err := reg.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Version)
	assert.Equal(t, KindMesh, rec.Kind)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateMintsID(t *testing.T) {
	reg := NewRegistry(nil)
	id, err := reg.Create(Record{Kind: KindMesh})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.True(t, reg.Has(id))
}

func TestCreateDuplicate(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Create(meshRecord("e1"))
	require.NoError(t, err)

	_, err = reg.Create(meshRecord("e1"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

// The §-scenario of the protocol: version 0 record, accepted diff moves it
// to version 1, a second diff against base 0 must conflict and report the
// current version.
func TestApplyDiffVersioning(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Create(meshRecord("e1"))
	require.NoError(t, err)

	pos := Vec3{X: 1}
	err = reg.ApplyDiff(Diff{
		Op:          OpUpdate,
		EntityID:    "e1",
		BaseVersion: 0,
		Fields:      FieldSet{Position: &pos},
	})
	require.NoError(t, err)

	rec, err := reg.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, Vec3{X: 1}, rec.Position)

	// Stale writer: same base version again.
	err = reg.ApplyDiff(Diff{
		Op:          OpUpdate,
		EntityID:    "e1",
		BaseVersion: 0,
		Fields:      FieldSet{Position: &pos},
	})
	var vc *VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, uint64(1), vc.Current)
	assert.True(t, IsVersionConflict(err))

	// The conflict must not have advanced the version.
	rec, _ = reg.Get("e1")
	assert.Equal(t, uint64(1), rec.Version)
}

func TestApplyDiffUnknownEntity(t *testing.T) {
	reg := NewRegistry(nil)
	pos := Vec3{X: 1}
	err := reg.ApplyDiff(Diff{Op: OpUpdate, EntityID: "ghost", Fields: FieldSet{Position: &pos}})
	assert.ErrorIs(t, err, ErrNotFound)
}

// delete twice: Accepted then NotFound, never two accepts.
func TestDeleteIdempotence(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Create(meshRecord("e1"))
	require.NoError(t, err)

	require.NoError(t, reg.Delete("e1"))
	assert.ErrorIs(t, reg.Delete("e1"), ErrNotFound)
}

func TestDeleteClearsSideStores(t *testing.T) {
	reg := NewRegistry(nil)
	removed := make(map[string]int)
	reg.Attach(removableFunc(func(id string) { removed[id]++ }))

	_, err := reg.Create(meshRecord("e1"))
	require.NoError(t, err)
	require.NoError(t, reg.Delete("e1"))
	assert.Equal(t, 1, removed["e1"])
}

type removableFunc func(id string)

func (f removableFunc) Remove(id string) { f(id) }

func TestListIsASnapshot(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Create(meshRecord("a"))
	require.NoError(t, err)
	_, err = reg.Create(meshRecord("b"))
	require.NoError(t, err)

	snap := reg.List()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID) // creation order
	assert.Equal(t, "b", snap[1].ID)

	// Mutations after the snapshot are invisible until a re-list.
	pos := Vec3{X: 9}
	require.NoError(t, reg.ApplyDiff(Diff{Op: OpUpdate, EntityID: "a", BaseVersion: 0, Fields: FieldSet{Position: &pos}}))
	assert.Equal(t, Vec3{}, snap[0].Position)
	assert.Equal(t, Vec3{X: 9}, reg.List()[0].Position)
}

func TestPendingLifecycleEvents(t *testing.T) {
	ev := &recordingEvents{}
	reg := NewRegistry(ev)

	rec := meshRecord("e1")
	rec.Pending = true
	_, err := reg.Create(rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ev.created)
	assert.Empty(t, ev.live, "pending entity must not go live at create")

	live := false
	require.NoError(t, reg.ApplyDiff(Diff{
		Op: OpUpdate, EntityID: "e1", BaseVersion: 0,
		Fields: FieldSet{Pending: &live},
	}))
	assert.Equal(t, []string{"e1"}, ev.live)

	require.NoError(t, reg.Delete("e1"))
	assert.Equal(t, []string{"e1"}, ev.destroyed)
}

func TestDecodeDiffMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing id", `{"op":"update","position":{"x":1}}`},
		{"unknown op", `{"op":"upsert","entity_id":"e1"}`},
		{"empty update", `{"op":"update","entity_id":"e1","base_version":3}`},
		{"create without record", `{"op":"create","entity_id":"e1"}`},
		{"unknown kind", `{"op":"create","entity_id":"e1","record":{"kind":"submarine"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeDiff([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestDiffWireRoundTrip(t *testing.T) {
	pos := Vec3{X: 1, Y: 2, Z: 3}
	d := Diff{
		Op:          OpUpdate,
		EntityID:    "e1",
		BaseVersion: 7,
		Fields:      FieldSet{Position: &pos, Payload: AirplanePayload{AssetURI: "a", VelocityMS: 60}},
	}
	raw, err := EncodeDiff(d)
	require.NoError(t, err)

	got, err := DecodeDiff(raw)
	require.NoError(t, err)
	assert.Equal(t, d.Op, got.Op)
	assert.Equal(t, d.BaseVersion, got.BaseVersion)
	require.NotNil(t, got.Fields.Position)
	assert.Equal(t, pos, *got.Fields.Position)
	require.IsType(t, AirplanePayload{}, got.Fields.Payload)
	assert.Equal(t, 60.0, got.Fields.Payload.(AirplanePayload).VelocityMS)
}

func TestFingerprintDistinguishesDiffs(t *testing.T) {
	pos := Vec3{X: 1}
	base := Diff{Op: OpUpdate, EntityID: "e1", BaseVersion: 0, Fields: FieldSet{Position: &pos}}
	same := Diff{Op: OpUpdate, EntityID: "e1", BaseVersion: 0, Fields: FieldSet{Position: &pos}}
	rebased := base
	rebased.BaseVersion = 1

	assert.Equal(t, base.Fingerprint(), same.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), rebased.Fingerprint())
}
