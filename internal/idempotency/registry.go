package idempotency

import (
	"context"
	"sync"

	"appregistry/internal/domain"
)

// Decision reports how a create request should proceed for its key.
type Decision int

const (
	// Proceed means this request won the key and must eventually call
	// Complete or Abort.
	Proceed Decision = iota

	// Replay means a completed outcome exists and must be returned
	// as-is, without re-executing any side effect.
	Replay
)

// Outcome is the stored result of a completed create, replayed
// verbatim to every duplicate request for the same (token, key).
type Outcome struct {
	Status      int
	Application domain.Application
}

// Result is the answer of BeginOrReplay.
type Result struct {
	Decision Decision

	// Outcome is set when Decision is Replay.
	Outcome Outcome

	// FingerprintMismatch flags a replay whose request body differed
	// from the original. The original outcome is still replayed.
	FingerprintMismatch bool
}

type record struct {
	fingerprint string
	completed   bool
	outcome     Outcome
	done        chan struct{}
}

// Registry caches create outcomes per (token, idempotency key).
//
// At most one record exists per (token, key). A pending record makes
// concurrent duplicates block on its done channel until the winning
// request completes or aborts; an abort removes the record, so the
// next waiter (or a later retry) contends for the key again. State is
// created lazily per token and never torn down within a process run.
type Registry struct {
	mu      sync.Mutex
	records map[string]map[string]*record
}

func New() *Registry {
	return &Registry{
		records: make(map[string]map[string]*record),
	}
}

// BeginOrReplay atomically claims the key, replays a completed
// outcome, or waits for the in-flight winner. The wait is bounded by
// the winner's own latency; ctx cancellation aborts it early.
func (r *Registry) BeginOrReplay(ctx context.Context, token, key, fingerprint string) (Result, error) {
	for {
		r.mu.Lock()
		byKey := r.records[token]
		if byKey == nil {
			byKey = make(map[string]*record)
			r.records[token] = byKey
		}

		rec, exists := byKey[key]
		if !exists {
			byKey[key] = &record{
				fingerprint: fingerprint,
				done:        make(chan struct{}),
			}
			r.mu.Unlock()
			return Result{Decision: Proceed}, nil
		}
		if rec.completed {
			res := Result{
				Decision:            Replay,
				Outcome:             rec.outcome,
				FingerprintMismatch: rec.fingerprint != fingerprint,
			}
			r.mu.Unlock()
			return res, nil
		}

		done := rec.done
		r.mu.Unlock()

		select {
		case <-done:
			// The winner completed or aborted; loop to observe which.
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Complete transitions the pending record to completed, stores the
// outcome immutably and releases every waiter. Completing an unknown
// or already-completed key is a no-op.
func (r *Registry) Complete(token, key string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.records[token][key]
	if rec == nil || rec.completed {
		return
	}
	rec.outcome = outcome
	rec.completed = true
	close(rec.done)
}

// Abort removes the pending record so the key stays retryable. Used
// when the winning create fails for a reason that must not become the
// permanent idempotent outcome (rate limited, name conflict).
func (r *Registry) Abort(token, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.records[token][key]
	if rec == nil || rec.completed {
		return
	}
	delete(r.records[token], key)
	close(rec.done)
}
