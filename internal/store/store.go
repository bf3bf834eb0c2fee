package store

import (
	"strings"
	"sync"

	"appregistry/internal/clock"
	"appregistry/internal/domain"
	"appregistry/internal/ident"
)

// Store is the authoritative in-memory home of every application,
// together with the normalized-name uniqueness index.
//
// A single mutex serializes all mutations. That one lock is both the
// per-application serialization point (no two patches of the same id
// interleave) and the store-wide one that uniqueness checks need,
// because uniqueness spans all applications. The name index and an
// application's version/etag pair are always updated under the same
// critical section, so no caller can ever observe an etag that does
// not match its committed fields.
type Store struct {
	mu    sync.RWMutex
	clock clock.Clock
	ident *ident.Factory

	byID   map[string]domain.Application
	byName map[string]string // normalized name -> id
}

func New(clk clock.Clock, idf *ident.Factory) *Store {
	return &Store{
		clock:  clk,
		ident:  idf,
		byID:   make(map[string]domain.Application),
		byName: make(map[string]string),
	}
}

// Insert atomically checks name uniqueness and creates a new
// application at version 1. Concurrent inserts of colliding normalized
// names cannot both observe the name as free.
func (s *Store) Insert(name string, description *string) (domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NormalizeName(name)
	if _, taken := s.byName[key]; taken {
		return domain.Application{}, domain.ErrNameConflict
	}

	id := s.ident.NewID()
	app := domain.Application{
		ID:        id,
		Name:      name,
		Version:   1,
		ETag:      s.ident.ETag(id, 1),
		CreatedAt: s.clock.Now(),
	}
	if description != nil {
		d := *description
		app.Description = &d
	}

	s.byID[id] = app
	s.byName[key] = id
	return app.Clone(), nil
}

// Get returns a snapshot of the application.
func (s *Store) Get(id string) (domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.byID[id]
	if !ok {
		return domain.Application{}, domain.ErrNotFound
	}
	return app.Clone(), nil
}

// Len returns the number of stored applications.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ApplyPatch validates the precondition and the proposed change in a
// single pass under the store lock, then commits every proposed field
// together with a version bump and a fresh etag. On any failure the
// store is left exactly as it was:
//
//  1. unknown id                          -> ErrNotFound
//  2. stale or missing precondition       -> ErrPreconditionFailed
//  3. normalized name owned by another id -> ErrNameConflict
//  4. is_active:true proposed while the resulting normalized name
//     contains "test", without force      -> ErrNameForbidsActivation
func (s *Store) ApplyPatch(id string, match domain.Precondition, change domain.Change) (domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return domain.Application{}, domain.ErrNotFound
	}
	if !match.Matches(cur) {
		return domain.Application{}, domain.ErrPreconditionFailed
	}

	next := cur.Clone()
	if change.Name != nil {
		key := domain.NormalizeName(*change.Name)
		if owner, taken := s.byName[key]; taken && owner != id {
			return domain.Application{}, domain.ErrNameConflict
		}
		next.Name = *change.Name
	}
	switch {
	case change.ClearDescription:
		next.Description = nil
	case change.Description != nil:
		d := *change.Description
		next.Description = &d
	}
	if change.IsActive != nil && *change.IsActive && !change.Force &&
		strings.Contains(domain.NormalizeName(next.Name), "test") {
		return domain.Application{}, domain.ErrNameForbidsActivation
	}
	if change.IsActive != nil && !change.DeferActivation {
		next.IsActive = *change.IsActive
	}

	next.Version = cur.Version + 1
	next.ETag = s.ident.ETag(id, next.Version)

	oldKey := domain.NormalizeName(cur.Name)
	newKey := domain.NormalizeName(next.Name)
	if oldKey != newKey {
		delete(s.byName, oldKey)
		s.byName[newKey] = id
	}
	s.byID[id] = next
	return next.Clone(), nil
}
