package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"appregistry/internal/clock"
	"appregistry/internal/domain"
	"appregistry/internal/idempotency"
	"appregistry/internal/ident"
	"appregistry/internal/logger"
	"appregistry/internal/metrics"
	"appregistry/internal/ratelimit"
	"appregistry/internal/scheduler"
	"appregistry/internal/store"
)

type fixture struct {
	svc     *Service
	store   *store.Store
	limiter *ratelimit.Limiter
	clock   *clock.Manual
}

type fixtureOpts struct {
	mode      Mode
	delay     time.Duration
	rateLimit int
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	if opts.mode == "" {
		opts.mode = ModeImmediate
	}
	if opts.rateLimit == 0 {
		opts.rateLimit = 5
	}
	if opts.delay == 0 {
		opts.delay = 20 * time.Millisecond
	}

	manual := clock.NewManual(time.Unix(1_700_000_000, 0))
	log := logger.New("error", false)
	m := metrics.New()
	st := store.New(clock.System(), ident.New())
	lim := ratelimit.New(manual, opts.rateLimit, 60*time.Second)
	// The scheduler runs on the wall clock so eventual activations
	// actually fire during the test.
	sched := scheduler.NewActivationScheduler(st, clock.System(), log, m)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start failed: %v", err)
	}
	t.Cleanup(sched.Stop)

	svc := New(st, idempotency.New(), lim, sched, m, log, Options{
		Mode:            opts.mode,
		ActivationDelay: opts.delay,
	})
	return &fixture{svc: svc, store: st, limiter: lim, clock: manual}
}

func strptr(s string) *string { return &s }
func boolptr(b bool) *bool    { return &b }

func TestExactlyOnceCreateUnderConcurrency(t *testing.T) {
	f := newFixture(t, fixtureOpts{rateLimit: 100})
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	outcomes := make([]CreateOutcome, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.svc.Create(ctx, "token", "key-1", "my-app", strptr("desc"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	if f.store.Len() != 1 {
		t.Fatalf("store size = %d, want exactly 1", f.store.Len())
	}

	first := outcomes[0]
	for i, out := range outcomes {
		if out.Application.ID != first.Application.ID {
			t.Errorf("caller %d got id %q, want %q", i, out.Application.ID, first.Application.ID)
		}
		if out.Application.ETag != first.Application.ETag {
			t.Errorf("caller %d got a different body", i)
		}
		if out.Status != first.Status {
			t.Errorf("caller %d status = %d, want %d", i, out.Status, first.Status)
		}
	}
}

func TestNegativeIdempotency(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "token", "key-1", "my-app", strptr("original"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Same key, different payload: the original outcome is replayed.
	second, err := f.svc.Create(ctx, "token", "key-1", "different-name", strptr("different"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !second.Replayed {
		t.Error("second create should be a replay")
	}
	if second.Application.ID != first.Application.ID || second.Application.Name != "my-app" {
		t.Errorf("replayed application = %+v, want the original unchanged", second.Application)
	}
	if f.store.Len() != 1 {
		t.Errorf("store size = %d, want 1", f.store.Len())
	}
}

func TestCreateRateLimited(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.Create(ctx, "token", keyN(i), nameN(i), nil); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}

	_, err := f.svc.Create(ctx, "token", "key-6", "app-6", nil)
	var limited *domain.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("6th create error = %v, want RateLimitedError", err)
	}
	if limited.RetryAfterSeconds() < 1 {
		t.Errorf("RetryAfterSeconds = %d, want >= 1", limited.RetryAfterSeconds())
	}

	// The denied key was aborted, so after the window slides the same
	// key can try again and succeed.
	f.clock.Advance(61 * time.Second)
	out, err := f.svc.Create(ctx, "token", "key-6", "app-6", nil)
	if err != nil {
		t.Fatalf("retry after window failed: %v", err)
	}
	if out.Replayed {
		t.Error("retry of an aborted key must execute, not replay")
	}
}

func TestReplayCostsNoRateBudget(t *testing.T) {
	f := newFixture(t, fixtureOpts{rateLimit: 1})
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, "token", "key-1", "my-app", nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Quota is exhausted, but replays bypass the limiter entirely.
	for i := 0; i < 3; i++ {
		out, err := f.svc.Create(ctx, "token", "key-1", "my-app", nil)
		if err != nil {
			t.Fatalf("replay %d failed: %v", i, err)
		}
		if !out.Replayed {
			t.Fatalf("replay %d executed instead of replaying", i)
		}
	}
}

func TestCreateConflictIsNotCached(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "token", "key-1", "my-app", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := f.svc.Create(ctx, "token", "key-2", " MY-APP ", nil); !errors.Is(err, domain.ErrNameConflict) {
		t.Fatalf("colliding create error = %v, want ErrNameConflict", err)
	}

	// Free the name, then retry the conflicted key: it must execute
	// rather than replay a cached conflict.
	if _, err := f.svc.Patch(ctx, first.Application.ID, domain.MatchETag(first.Application.ETag),
		PatchRequest{Name: strptr("renamed")}, false); err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	out, err := f.svc.Create(ctx, "token", "key-2", " MY-APP ", nil)
	if err != nil {
		t.Fatalf("retry of conflicted key failed: %v", err)
	}
	if out.Replayed {
		t.Error("conflict outcomes must not be replayed")
	}
}

func TestPatchImmediateActivation(t *testing.T) {
	f := newFixture(t, fixtureOpts{mode: ModeImmediate})
	ctx := context.Background()

	created, _ := f.svc.Create(ctx, "token", "key-1", "my-app", nil)

	out, err := f.svc.Patch(ctx, created.Application.ID, domain.MatchETag(created.Application.ETag),
		PatchRequest{IsActive: boolptr(true)}, false)
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if out.Activating {
		t.Error("immediate mode must not answer activating")
	}
	if !out.Application.IsActive {
		t.Error("is_active should be committed immediately")
	}
}

func TestPatchEventualActivation(t *testing.T) {
	f := newFixture(t, fixtureOpts{mode: ModeEventual, delay: 30 * time.Millisecond})
	ctx := context.Background()

	created, _ := f.svc.Create(ctx, "token", "key-1", "my-app", nil)

	out, err := f.svc.Patch(ctx, created.Application.ID, domain.MatchETag(created.Application.ETag),
		PatchRequest{IsActive: boolptr(true)}, false)
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if !out.Activating {
		t.Fatal("eventual mode should answer activating")
	}
	if out.Application.IsActive {
		t.Error("persisted is_active must stay false until the flip fires")
	}

	// Bounded polling, the way a client would observe the transition.
	deadline := time.Now().Add(2 * time.Second)
	for {
		app, err := f.svc.Get(ctx, created.Application.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if app.IsActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("application never became active")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventualActivationSuperseded(t *testing.T) {
	f := newFixture(t, fixtureOpts{mode: ModeEventual, delay: 60 * time.Millisecond})
	ctx := context.Background()

	created, _ := f.svc.Create(ctx, "token", "key-1", "my-app", nil)

	out, err := f.svc.Patch(ctx, created.Application.ID, domain.MatchETag(created.Application.ETag),
		PatchRequest{IsActive: boolptr(true)}, false)
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}

	// A second patch lands before the flip fires and advances the version.
	updated, err := f.svc.Patch(ctx, created.Application.ID, domain.MatchETag(out.Application.ETag),
		PatchRequest{Description: strptr("supersedes the flip")}, false)
	if err != nil {
		t.Fatalf("second Patch failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	app, _ := f.svc.Get(ctx, created.Application.ID)
	if app.IsActive {
		t.Error("stale scheduled activation must not force is_active")
	}
	if app.Version != updated.Application.Version {
		t.Errorf("version = %d, want %d", app.Version, updated.Application.Version)
	}
}

func TestPatchActivationRule(t *testing.T) {
	f := newFixture(t, fixtureOpts{mode: ModeImmediate})
	ctx := context.Background()

	created, _ := f.svc.Create(ctx, "token", "key-1", "integration-test-app", nil)

	_, err := f.svc.Patch(ctx, created.Application.ID, domain.MatchETag(created.Application.ETag),
		PatchRequest{IsActive: boolptr(true)}, false)
	var rule *domain.BusinessRuleError
	if !errors.As(err, &rule) {
		t.Fatalf("error = %v, want BusinessRuleError", err)
	}
	if rule.Code != domain.CodeNameForbidsActivation {
		t.Errorf("code = %q, want %q", rule.Code, domain.CodeNameForbidsActivation)
	}

	app, _ := f.svc.Get(ctx, created.Application.ID)
	if app.IsActive {
		t.Fatal("rejected activation must not commit")
	}

	// force=true bypasses the rule.
	out, err := f.svc.Patch(ctx, created.Application.ID, domain.MatchETag(app.ETag),
		PatchRequest{IsActive: boolptr(true)}, true)
	if err != nil {
		t.Fatalf("forced Patch failed: %v", err)
	}
	if !out.Application.IsActive {
		t.Error("forced activation should commit")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("My-App", strptr("desc"))
	b := Fingerprint(" my-app ", strptr("desc"))
	if a != b {
		t.Error("fingerprint should normalize the name")
	}
	if Fingerprint("my-app", strptr("a")) == Fingerprint("my-app", strptr("b")) {
		t.Error("different descriptions must not share a fingerprint")
	}
}

func keyN(i int) string  { return "key-" + string(rune('a'+i)) }
func nameN(i int) string { return "app-" + string(rune('a'+i)) }
