package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"appregistry/internal/domain"
	"appregistry/internal/idempotency"
	"appregistry/internal/logger"
	"appregistry/internal/metrics"
	"appregistry/internal/ratelimit"
	"appregistry/internal/scheduler"
	"appregistry/internal/store"
)

// Mode selects how an is_active:true patch is applied.
type Mode string

const (
	// ModeImmediate commits the flag in the patch itself.
	ModeImmediate Mode = "immediate"

	// ModeEventual acknowledges the patch first and flips the flag
	// asynchronously after the configured delay.
	ModeEventual Mode = "eventual"
)

// Options configures the orchestration layer.
type Options struct {
	Mode            Mode
	ActivationDelay time.Duration
}

// CreateOutcome is what the adapter serializes for a create.
type CreateOutcome struct {
	Application domain.Application
	Status      int

	// Replayed marks an outcome served from the idempotency registry.
	Replayed bool
}

// PatchOutcome is what the adapter serializes for a patch.
type PatchOutcome struct {
	Application domain.Application

	// Activating marks an eventual-mode acknowledgement: everything but
	// the activation flag is committed, the flip is pending.
	Activating bool
}

// PatchRequest carries the parsed merge-patch fields. Nil pointers
// mean "absent"; ClearDescription is an explicit null description.
type PatchRequest struct {
	Name             *string
	Description      *string
	ClearDescription bool
	IsActive         *bool
}

// Service orchestrates the store, idempotency registry, rate limiter
// and activation scheduler into atomic Create/Patch/Get operations.
// It is the only entry point the adapter layer calls.
type Service struct {
	store     *store.Store
	registry  *idempotency.Registry
	limiter   *ratelimit.Limiter
	scheduler *scheduler.ActivationScheduler
	metrics   *metrics.Metrics
	logger    logger.Logger
	mode      Mode
	delay     time.Duration
}

func New(
	st *store.Store,
	reg *idempotency.Registry,
	lim *ratelimit.Limiter,
	sched *scheduler.ActivationScheduler,
	m *metrics.Metrics,
	log logger.Logger,
	opts Options,
) *Service {
	return &Service{
		store:     st,
		registry:  reg,
		limiter:   lim,
		scheduler: sched,
		metrics:   m,
		logger:    log,
		mode:      opts.Mode,
		delay:     opts.ActivationDelay,
	}
}

// Fingerprint hashes the normalized create payload. Two requests with
// the same (token, key) but different fingerprints still replay the
// original outcome; the mismatch is only surfaced for logging.
func Fingerprint(name string, description *string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, domain.NormalizeName(name))
	h.Write([]byte{0})
	if description != nil {
		_, _ = io.WriteString(h, *description)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Create runs the idempotent creation state machine:
//
//  1. claim the (token, key) slot or replay the stored outcome;
//  2. charge the rate limiter (replays never reach this point and so
//     cost no rate budget);
//  3. insert into the store;
//  4. complete the idempotency record with the successful outcome.
//
// Rate-limit denials and name conflicts abort the idempotency record
// instead of completing it, so the key remains retryable: only genuine
// successes become the permanently replayed outcome.
func (s *Service) Create(ctx context.Context, token, key, name string, description *string) (CreateOutcome, error) {
	fp := Fingerprint(name, description)

	res, err := s.registry.BeginOrReplay(ctx, token, key, fp)
	if err != nil {
		return CreateOutcome{}, err
	}
	if res.Decision == idempotency.Replay {
		if res.FingerprintMismatch {
			s.logger.Debug("replaying idempotent create despite payload mismatch",
				logger.String("key", key))
		}
		s.metrics.ObserveCreate(metrics.OutcomeReplayed)
		return CreateOutcome{
			Application: res.Outcome.Application,
			Status:      res.Outcome.Status,
			Replayed:    true,
		}, nil
	}

	if d := s.limiter.TryAdmit(token); !d.Allowed {
		s.registry.Abort(token, key)
		s.metrics.ObserveCreate(metrics.OutcomeRateLimited)
		s.logger.Debug("create rate limited",
			logger.Duration("retry_after", d.RetryAfter))
		return CreateOutcome{}, &domain.RateLimitedError{RetryAfter: d.RetryAfter}
	}

	app, err := s.store.Insert(name, description)
	if err != nil {
		s.registry.Abort(token, key)
		s.metrics.ObserveCreate(metrics.OutcomeConflict)
		return CreateOutcome{}, err
	}

	s.registry.Complete(token, key, idempotency.Outcome{
		Status:      http.StatusCreated,
		Application: app,
	})
	s.metrics.ObserveCreate(metrics.OutcomeCreated)
	s.logger.Info("application created",
		logger.String("id", app.ID),
		logger.String("name", app.Name))
	return CreateOutcome{Application: app, Status: http.StatusCreated}, nil
}

// Patch applies a merge patch under the optimistic-lock precondition.
// In eventual mode an is_active:true patch commits every other field,
// answers "activating" and schedules the flip against the committed
// version; the persisted flag stays false until the scheduler fires.
func (s *Service) Patch(ctx context.Context, id string, match domain.Precondition, req PatchRequest, force bool) (PatchOutcome, error) {
	change := domain.Change{
		Name:             req.Name,
		Description:      req.Description,
		ClearDescription: req.ClearDescription,
		IsActive:         req.IsActive,
		Force:            force,
	}
	eventual := s.mode == ModeEventual && req.IsActive != nil && *req.IsActive
	if eventual {
		change.DeferActivation = true
	}

	app, err := s.store.ApplyPatch(id, match, change)
	if err != nil {
		s.metrics.ObservePatch(patchOutcomeLabel(err))
		return PatchOutcome{}, err
	}

	if eventual {
		s.scheduler.Schedule(app.ID, app.Version, s.delay)
		s.metrics.ObservePatch(metrics.OutcomeActivating)
		s.logger.Info("application activating",
			logger.String("id", app.ID),
			logger.Int64("version", app.Version),
			logger.Duration("delay", s.delay))
		return PatchOutcome{Application: app, Activating: true}, nil
	}

	s.metrics.ObservePatch(metrics.OutcomeUpdated)
	s.logger.Info("application updated",
		logger.String("id", app.ID),
		logger.Int64("version", app.Version))
	return PatchOutcome{Application: app}, nil
}

// Get returns a snapshot of the application.
func (s *Service) Get(ctx context.Context, id string) (domain.Application, error) {
	return s.store.Get(id)
}

func patchOutcomeLabel(err error) string {
	var rule *domain.BusinessRuleError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrPreconditionFailed):
		return metrics.OutcomePrecondition
	case errors.Is(err, domain.ErrNameConflict):
		return metrics.OutcomeConflict
	case errors.As(err, &rule):
		return metrics.OutcomeRuleViolation
	default:
		return "error"
	}
}
