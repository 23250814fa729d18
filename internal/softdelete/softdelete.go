// Package softdelete models the active/deleted lifecycle shared by projects,
// boards, tasks, comments and users.
package softdelete

import (
	"errors"
	"time"
)

var ErrNotDeleted = errors.New("entity is not deleted")

// Visibility selects which lifecycle states a read returns.
type Visibility int

const (
	// Active is the default view: deletedAt is null.
	Active Visibility = iota
	// All includes soft-deleted rows; restores resolve through it so that
	// restoring a live entity can be told apart from a missing one.
	All
)

// State is embedded in every soft-deletable entity.
type State struct {
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (s State) IsDeleted() bool { return s.DeletedAt != nil }

// SoftDelete stamps deletedAt. Reapplying overwrites the timestamp.
func (s *State) SoftDelete(now time.Time) {
	at := now.UTC()
	s.DeletedAt = &at
}

func (s *State) Restore() error {
	if s.DeletedAt == nil {
		return ErrNotDeleted
	}
	s.DeletedAt = nil
	return nil
}

// Clause is the SQL predicate for v over a deleted_at column, qualified with
// alias when non-empty.
func (v Visibility) Clause(alias string) string {
	col := "deleted_at"
	if alias != "" {
		col = alias + ".deleted_at"
	}
	switch v {
	case Active:
		return col + " IS NULL"
	default:
		return "1=1"
	}
}
