package types

import "time"

// Entity is the base type for paystream records with timestamps.
// Embed it in domain types; callers supply the instant so timestamps follow
// the ledger's clock rather than the wall clock.
type Entity struct {
	CreatedAt time.Time `json:"created_at" bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `json:"updated_at" bun:"updated_at,notnull,default:current_timestamp"`
}

// NewEntity creates an Entity stamped at the given instant (UTC).
func NewEntity(at time.Time) Entity {
	at = at.UTC()
	return Entity{
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Touch moves UpdatedAt to the given instant.
func (e *Entity) Touch(at time.Time) {
	e.UpdatedAt = at.UTC()
}
