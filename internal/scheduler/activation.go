package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"appregistry/internal/clock"
	"appregistry/internal/domain"
	"appregistry/internal/logger"
	"appregistry/internal/metrics"
	"appregistry/internal/store"
)

type job struct {
	id      string
	version int64
	delay   time.Duration
}

// ActivationScheduler applies deferred activation flips off the
// request path. Requests hand jobs over a channel and return
// immediately; a runner goroutine owns all timer state.
//
// Each job is guarded by the version the application had when the flip
// was scheduled. If the application is mutated again before the delay
// elapses, the guarded patch fails its precondition and the job is
// dropped silently: superseded activations never resurrect stale state
// and are never retried.
type ActivationScheduler struct {
	store   *store.Store
	clock   clock.Clock
	logger  logger.Logger
	metrics *metrics.Metrics

	jobs   chan job
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewActivationScheduler(
	st *store.Store,
	clk clock.Clock,
	log logger.Logger,
	m *metrics.Metrics,
) *ActivationScheduler {
	return &ActivationScheduler{
		store:   st,
		clock:   clk,
		logger:  log,
		metrics: m,
		jobs:    make(chan job, 64),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the runner goroutine.
func (s *ActivationScheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop shuts the runner down and waits for in-flight timers to exit.
// Pending flips are abandoned; state does not survive the process
// anyway.
func (s *ActivationScheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Schedule registers a deferred activation for the application at the
// given committed version. It never blocks request handling beyond the
// channel send.
func (s *ActivationScheduler) Schedule(id string, version int64, delay time.Duration) {
	select {
	case s.jobs <- job{id: id, version: version, delay: delay}:
	case <-s.stopCh:
	}
}

func (s *ActivationScheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.jobs:
			s.wg.Add(1)
			go func(j job) {
				defer s.wg.Done()
				select {
				case <-s.clock.After(j.delay):
					s.fire(j)
				case <-s.stopCh:
				case <-ctx.Done():
				}
			}(j)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *ActivationScheduler) fire(j job) {
	active := true
	// Force is set because the activation rule was already validated
	// when the patch that scheduled this job was committed; the version
	// guard ensures nothing changed since.
	app, err := s.store.ApplyPatch(j.id, domain.MatchVersion(j.version), domain.Change{
		IsActive: &active,
		Force:    true,
	})
	switch {
	case err == nil:
		s.metrics.ObserveActivation(metrics.ActivationApplied)
		s.logger.Debug("deferred activation applied",
			logger.String("id", j.id),
			logger.Int64("version", app.Version))
	case errors.Is(err, domain.ErrPreconditionFailed):
		s.metrics.ObserveActivation(metrics.ActivationSuperseded)
		s.logger.Debug("deferred activation superseded, dropping",
			logger.String("id", j.id),
			logger.Int64("scheduled_version", j.version))
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Debug("deferred activation target gone",
			logger.String("id", j.id))
	default:
		s.logger.Warn("deferred activation failed",
			logger.String("id", j.id),
			logger.Error(err))
	}
}
