package entity

import "github.com/google/uuid"

// Removable is a per-entity side store (script bindings, render handles)
// that must be cleared when the owning record is destroyed.
type Removable interface {
	Remove(id string)
}

// Events receives registry change notifications. The registry is the single
// writer of entity state; everything downstream reacts through this interface.
type Events interface {
	// EntityCreated fires once per Create, before EntityLive.
	EntityCreated(id string, kind Kind, pending bool)
	// EntityLive fires when a record becomes visible to scripts and
	// renderers: at Create for non-pending records, or when an accepted
	// diff clears the pending flag.
	EntityLive(id string)
	// EntityUpdated fires on every accepted diff with the changed fields.
	EntityUpdated(id string, version uint64, fields []string)
	// EntityDestroyed fires after the record and its side stores are gone.
	EntityDestroyed(id string)
}

// Registry is the authoritative in-memory store of placed entities.
// Single-goroutine access only (tick loop); network callbacks never touch it
// directly — they go through the diff applier's queues.
type Registry struct {
	records map[string]*Record
	order   []string // creation order, for List snapshots
	stores  []Removable
	events  Events
}

func NewRegistry(events Events) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		events:  events,
	}
}

// Attach registers a side store for destroy-time cleanup.
func (r *Registry) Attach(store Removable) {
	r.stores = append(r.stores, store)
}

// Create registers a new record at version 0 and returns its id, minting a
// fresh one for local placements that arrive without. Fails with
// ErrDuplicateID if the id is taken. The stored copy is private to the
// registry.
func (r *Registry) Create(rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := r.records[rec.ID]; exists {
		return "", ErrDuplicateID
	}
	rec.Version = 0
	stored := rec
	r.records[rec.ID] = &stored
	r.order = append(r.order, rec.ID)
	if r.events != nil {
		r.events.EntityCreated(rec.ID, rec.Kind, rec.Pending)
		if !rec.Pending {
			r.events.EntityLive(rec.ID)
		}
	}
	return rec.ID, nil
}

// Get returns a copy of the record, or ErrNotFound.
func (r *Registry) Get(id string) (Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// Version returns the current version of an entity, or ErrNotFound.
func (r *Registry) Version(id string) (uint64, error) {
	rec, ok := r.records[id]
	if !ok {
		return 0, ErrNotFound
	}
	return rec.Version, nil
}

// Has reports whether an entity is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.records[id]
	return ok
}

// ApplyDiff is the only mutation entry point besides Create/Delete. The diff
// is accepted iff its base version equals the record's current version;
// acceptance writes the touched fields, increments the version by exactly 1,
// and publishes a change notification. A stale base is rejected with
// VersionConflictError — the writer rebases, never overwrites.
func (r *Registry) ApplyDiff(d Diff) error {
	rec, ok := r.records[d.EntityID]
	if !ok {
		return ErrNotFound
	}
	if d.BaseVersion != rec.Version {
		return &VersionConflictError{ID: d.EntityID, Base: d.BaseVersion, Current: rec.Version}
	}
	wasLive := !rec.Pending
	if d.Fields.Position != nil {
		rec.Position = *d.Fields.Position
	}
	if d.Fields.Rotation != nil {
		rec.Rotation = *d.Fields.Rotation
	}
	if d.Fields.Scale != nil {
		rec.Scale = *d.Fields.Scale
	}
	if d.Fields.Pending != nil {
		rec.Pending = *d.Fields.Pending
	}
	if d.Fields.Payload != nil {
		rec.Payload = d.Fields.Payload
	}
	rec.Version++
	if r.events != nil {
		r.events.EntityUpdated(rec.ID, rec.Version, d.Fields.Names())
		if !wasLive && !rec.Pending {
			r.events.EntityLive(rec.ID)
		}
	}
	return nil
}

// Delete destroys a record, clears its side stores, and notifies observers.
// A second delete of the same id reports ErrNotFound.
func (r *Registry) Delete(id string) error {
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for _, s := range r.stores {
		s.Remove(id)
	}
	if r.events != nil {
		r.events.EntityDestroyed(id)
	}
	return nil
}

// List returns a snapshot of all records in creation order. The snapshot is
// a copy: later mutations are invisible until the caller lists again.
func (r *Registry) List() []Record {
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}
	return out
}

// Count returns the number of registered entities.
func (r *Registry) Count() int {
	return len(r.records)
}
