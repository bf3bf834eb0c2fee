package scheduler

import (
	"context"
	"testing"
	"time"

	"appregistry/internal/clock"
	"appregistry/internal/domain"
	"appregistry/internal/ident"
	"appregistry/internal/logger"
	"appregistry/internal/metrics"
	"appregistry/internal/store"
)

func newTestScheduler(t *testing.T) (*ActivationScheduler, *store.Store) {
	t.Helper()
	st := store.New(clock.System(), ident.New())
	sched := NewActivationScheduler(st, clock.System(), logger.New("error", false), metrics.New())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(sched.Stop)
	return sched, st
}

func waitForActive(t *testing.T, st *store.Store, id string, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		app, err := st.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if app.IsActive {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestActivationFiresAfterDelay(t *testing.T) {
	sched, st := newTestScheduler(t)

	app, _ := st.Insert("my-app", nil)
	sched.Schedule(app.ID, app.Version, 30*time.Millisecond)

	if !waitForActive(t, st, app.ID, 2*time.Second) {
		t.Fatal("application never activated")
	}

	got, _ := st.Get(app.ID)
	if got.Version != app.Version+1 {
		t.Errorf("version = %d, want %d: the flip commits like any mutation", got.Version, app.Version+1)
	}
	if got.ETag == app.ETag {
		t.Error("etag must change when the flip commits")
	}
}

func TestSupersededActivationIsDropped(t *testing.T) {
	sched, st := newTestScheduler(t)

	app, _ := st.Insert("my-app", nil)
	sched.Schedule(app.ID, app.Version, 50*time.Millisecond)

	// Mutate before the job fires: the version guard must make it a no-op.
	desc := "mutated first"
	updated, err := st.ApplyPatch(app.ID, domain.MatchVersion(app.Version), domain.Change{Description: &desc})
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	got, _ := st.Get(app.ID)
	if got.IsActive {
		t.Error("stale scheduled activation must not flip is_active")
	}
	if got.Version != updated.Version {
		t.Errorf("version = %d, want %d: superseded job must not commit", got.Version, updated.Version)
	}
}

func TestActivationSurvivesUnknownTarget(t *testing.T) {
	sched, _ := newTestScheduler(t)

	// Must not panic or wedge the runner.
	sched.Schedule("no-such-id", 1, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
}
