package domain

import (
	"strings"
	"time"
)

// Application is the canonical state of a registered application.
//
// The store owns the authoritative copy; everything handed to callers
// is a value snapshot. Mutating a snapshot never affects the store.
type Application struct {
	// ID is the canonical unique identifier (opaque to callers).
	ID string `json:"id"`

	// Name is the display form exactly as submitted.
	// Uniqueness is enforced on NormalizeName(Name).
	Name string `json:"name"`

	// Description is optional and may be cleared by a patch.
	Description *string `json:"description"`

	// IsActive reports the committed activation flag. Under eventual
	// activation it stays false until the deferred flip lands.
	IsActive bool `json:"is_active"`

	// Version starts at 1 and increments on every committed mutation.
	Version int64 `json:"version"`

	// ETag is an opaque tag derived from ID and Version. It changes on
	// every committed mutation and never collides across applications.
	ETag string `json:"etag"`

	// CreatedAt is set once at insert time.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy safe to hand outside the store.
func (a Application) Clone() Application {
	out := a
	if a.Description != nil {
		d := *a.Description
		out.Description = &d
	}
	return out
}

// NormalizeName returns the uniqueness key for a display name:
// surrounding whitespace trimmed, case folded. " My-App " and "my-app"
// normalize to the same key.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
