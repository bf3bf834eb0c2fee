package domain

// Change carries the proposed field values of one merge patch.
// Nil pointers mean "leave untouched". The store evaluates and commits
// a Change in a single pass: either every proposed field lands, or none.
type Change struct {
	Name *string

	// Description replaces the current description when set.
	// ClearDescription wipes it instead (explicit null in the patch).
	Description      *string
	ClearDescription bool

	IsActive *bool

	// Force bypasses the name-content activation rule.
	Force bool

	// DeferActivation keeps the committed is_active flag unchanged even
	// when IsActive proposes true. The activation rule is still checked
	// against the proposed value; the actual flip is applied later by
	// the activation scheduler under its own version guard.
	DeferActivation bool
}

// Precondition guards a patch against concurrent mutation. It matches
// either the exact etag or, in weak form, the version number. The zero
// value matches nothing, so a missing precondition always fails.
type Precondition struct {
	etag    string
	version int64
	weak    bool
	set     bool
}

// MatchETag builds a precondition on the exact etag value.
func MatchETag(etag string) Precondition {
	return Precondition{etag: etag, set: true}
}

// MatchVersion builds a weak precondition on the version number.
func MatchVersion(version int64) Precondition {
	return Precondition{version: version, weak: true, set: true}
}

// Matches reports whether the precondition holds for the application's
// currently committed version/etag pair.
func (p Precondition) Matches(app Application) bool {
	if !p.set {
		return false
	}
	if p.weak {
		return p.version == app.Version
	}
	return p.etag == app.ETag
}
