package event

import "github.com/scaleworld/client/internal/entity"

// Created fires once per registry Create, before any Live event.
type Created struct {
	ID      string
	Kind    entity.Kind
	Pending bool
}

// Live fires when an entity becomes visible to scripts and renderers: at
// Create for non-pending records, or when an accepted diff clears the
// pending flag.
type Live struct {
	ID string
}

// Updated fires on every accepted diff with the changed field names.
type Updated struct {
	ID      string
	Version uint64
	Fields  []string
}

// Destroyed fires after a registry Delete.
type Destroyed struct {
	ID string
}
