package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotFound means the application id is unknown.
	ErrNotFound = errors.New("application not found")

	// ErrNameConflict means another application already owns the
	// normalized form of the proposed name.
	ErrNameConflict = errors.New("application name already exists")

	// ErrPreconditionFailed means the supplied etag/version no longer
	// matches the committed state (or no precondition was supplied).
	ErrPreconditionFailed = errors.New("precondition failed")
)

// CodeNameForbidsActivation is the stable machine-readable code carried
// by the activation business rule.
const CodeNameForbidsActivation = "NAME_FORBIDS_ACTIVATION"

// BusinessRuleError rejects a mutation that violates a business rule.
// Code is stable and machine-readable; Message is for humans.
type BusinessRuleError struct {
	Code    string
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Message }

// ErrNameForbidsActivation rejects activating an application whose
// normalized name contains "test" without the force flag.
var ErrNameForbidsActivation = &BusinessRuleError{
	Code:    CodeNameForbidsActivation,
	Message: "cannot activate an application with 'test' in its name without force",
}

// RateLimitedError denies a create attempt that exceeded the per-token
// quota. RetryAfter is how long the caller should wait before retrying.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RetryAfterSeconds returns the wait rounded up to whole seconds,
// never below one.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
