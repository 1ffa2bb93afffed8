package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is returned by Create when the id is already registered.
	ErrDuplicateID = errors.New("entity: duplicate id")

	// ErrNotFound is returned when the referenced entity is not registered.
	ErrNotFound = errors.New("entity: not found")
)

// VersionConflictError is returned by ApplyDiff when the diff's base version
// does not match the registry's current version. The writer must rebase
// against Current and resubmit; the registry never falls back to
// last-writer-wins.
type VersionConflictError struct {
	ID      string
	Base    uint64
	Current uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("entity %s: version conflict (base %d, current %d)", e.ID, e.Base, e.Current)
}

// IsVersionConflict reports whether err is a VersionConflictError.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}
