package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// Factory mints application identifiers and the opaque version tags
// (etags) derived from them.
type Factory struct{}

func New() *Factory {
	return &Factory{}
}

// NewID returns a fresh unique application identifier.
func (f *Factory) NewID() string {
	return uuid.NewString()
}

// ETag derives the opaque tag for a committed (id, version) pair.
// The derivation is deterministic, so re-deriving for the same pair
// yields the same tag, and includes the id, so two applications at the
// same version never share a tag. The value is quoted for direct use
// in If-Match comparisons.
func (f *Factory) ETag(id string, version int64) string {
	sum := sha256.Sum256([]byte(id + ":" + strconv.FormatInt(version, 10)))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
