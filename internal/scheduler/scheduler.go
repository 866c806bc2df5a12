// Package scheduler drives enrichment jobs from pending to a terminal state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/makeasinger/enrichment/internal/analysis"
	"github.com/makeasinger/enrichment/internal/backoff"
	"github.com/makeasinger/enrichment/internal/catalog"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/metrics"
	"github.com/makeasinger/enrichment/internal/model"
	"github.com/makeasinger/enrichment/internal/store"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultBatchSize   = 10
	defaultWorkers     = 4
	defaultInterval    = 15 * time.Second
	defaultMaxInFlight = 8
)

// Outcome is the result of one processing attempt
type Outcome string

const (
	OutcomeCompleted Outcome = metrics.OutcomeCompleted
	OutcomeRetrying  Outcome = metrics.OutcomeRetrying
	OutcomeFailed    Outcome = metrics.OutcomeFailed
	// OutcomeSkipped means the job was not pending, usually because another
	// worker claimed it first.
	OutcomeSkipped Outcome = metrics.OutcomeSkipped
)

// Notifier receives every job state change the scheduler makes
type Notifier interface {
	JobUpdated(job *model.Job)
}

type nopNotifier struct{}

func (nopNotifier) JobUpdated(*model.Job) {}

type Scheduler struct {
	store    store.Store
	backend  analysis.Backend
	features catalog.FeatureStore
	notifier Notifier
	metrics  *metrics.Metrics
	backoff  backoff.Strategy
	sem      *semaphore.Weighted

	workers    int
	batchSize  int
	interval   time.Duration
	timeouts   map[model.EnrichmentType]time.Duration
	staleAfter time.Duration

	logger *logrus.Entry
	now    func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithFeatureStore writes completed output to the catalog feature store
func WithFeatureStore(fs catalog.FeatureStore) Option {
	return func(s *Scheduler) { s.features = fs }
}

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithBackoff overrides the retry delay strategy
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Scheduler) { s.backoff = b }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(st store.Store, backend analysis.Backend, cfg *config.SchedulerConfig, logger *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		backend:   backend,
		notifier:  nopNotifier{},
		backoff:   &backoff.Exponential{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax, Jitter: 0.2},
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		timeouts: map[model.EnrichmentType]time.Duration{
			model.EnrichmentAudioFeatures:       cfg.Timeouts.AudioFeatures,
			model.EnrichmentEmbeddings:          cfg.Timeouts.Embeddings,
			model.EnrichmentGenreClassification: cfg.Timeouts.GenreClassification,
			model.EnrichmentMoodAnalysis:        cfg.Timeouts.MoodAnalysis,
			model.EnrichmentSimilarity:          cfg.Timeouts.Similarity,
		},
		logger: logger.WithField("component", "scheduler"),
		now:    time.Now,
	}
	if s.workers <= 0 {
		s.workers = defaultWorkers
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	s.sem = semaphore.NewWeighted(int64(maxInFlight))

	// a live attempt is bounded by its timeout, so only claims well past
	// the longest one can belong to a worker that is gone
	s.staleAfter = cfg.StaleAfter
	if floor := 2 * s.longestTimeout(); s.staleAfter < floor {
		s.staleAfter = floor
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the analysis backend jobs run against
func (s *Scheduler) Backend() analysis.Backend {
	return s.backend
}

func (s *Scheduler) longestTimeout() time.Duration {
	longest := defaultTimeout
	for kind := range s.timeouts {
		if d := s.timeout(kind); d > longest {
			longest = d
		}
	}
	return longest
}

func (s *Scheduler) timeout(kind model.EnrichmentType) time.Duration {
	if d := s.timeouts[kind]; d > 0 {
		return d
	}
	return defaultTimeout
}

// ProcessOne runs a single pending job. A job that is not pending is left
// untouched and reported as OutcomeSkipped, so triggering the same job twice
// is harmless. Backend failures are recorded on the job, not returned; the
// error result is reserved for store failures and cancellation.
func (s *Scheduler) ProcessOne(ctx context.Context, jobID string) (Outcome, error) {
	// the slot is held from claim to the final transition so that
	// jobs in processing never outnumber backend slots
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)

	job, err := s.store.Claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return OutcomeSkipped, nil
		}
		return "", err
	}
	s.notifier.JobUpdated(job)

	log := s.logger.WithFields(logrus.Fields{
		"job_id":          job.ID,
		"entity_type":     job.EntityType,
		"entity_id":       job.EntityID,
		"enrichment_type": job.EnrichmentType,
		"attempt":         job.RetryCount + 1,
	})
	log.Debug("Processing enrichment job")

	out, runErr := s.run(ctx, job)
	interrupted := ctx.Err()

	// the attempt is over; record it even if the caller is shutting down
	ctx = context.WithoutCancel(ctx)

	if runErr != nil && interrupted != nil {
		// the caller gave up, not the backend: hand the job back untouched
		released, err := s.store.Release(ctx, job.ID)
		if err != nil {
			return "", fmt.Errorf("failed to release job %s: %w", job.ID, err)
		}
		s.notifier.JobUpdated(released)
		log.WithError(runErr).Info("Enrichment job interrupted, released to pending")
		return "", interrupted
	}

	if runErr == nil {
		done, err := s.store.Complete(ctx, job.ID, out)
		if err != nil {
			return "", fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
		s.writeFeatures(ctx, done, log)
		s.notifier.JobUpdated(done)
		s.metrics.Attempt(done.EnrichmentType, string(OutcomeCompleted))
		log.Info("Enrichment job completed")
		return OutcomeCompleted, nil
	}

	retryAt := s.now().Add(s.backoff.Delay(job.RetryCount + 1))
	failed, err := s.store.Fail(ctx, job.ID, runErr.Error(), retryAt)
	if err != nil {
		return "", fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)
	}
	s.notifier.JobUpdated(failed)

	log = log.WithFields(logrus.Fields{
		"retry_count": failed.RetryCount,
		"max_retries": failed.MaxRetries,
		"retryable":   analysis.IsRetryable(runErr),
	}).WithError(runErr)

	if failed.Status == model.JobStatusFailed {
		s.metrics.Attempt(failed.EnrichmentType, string(OutcomeFailed))
		log.Error("Enrichment job failed permanently")
		return OutcomeFailed, nil
	}
	s.metrics.Attempt(failed.EnrichmentType, string(OutcomeRetrying))
	log.WithField("next_attempt_at", failed.NextAttemptAt).Warn("Enrichment job failed, will retry")
	return OutcomeRetrying, nil
}

// run calls the backend under the per-type deadline
func (s *Scheduler) run(ctx context.Context, job *model.Job) (*model.JobOutput, error) {
	timeout := s.timeout(job.EnrichmentType)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := s.metrics.BackendCall(s.backend.Name(), job.EnrichmentType)
	out, err := analysis.Run(callCtx, s.backend, job)
	done()

	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !analysis.IsRetryable(err) {
		err = fmt.Errorf("%w: %s timed out after %s: %v", analysis.ErrTransient, job.EnrichmentType, timeout, err)
	}
	return out, err
}

func (s *Scheduler) writeFeatures(ctx context.Context, job *model.Job, log *logrus.Entry) {
	if s.features == nil || job.OutputData == nil {
		return
	}
	rec := &model.FeatureRecord{
		EntityType: job.EntityType,
		EntityID:   job.EntityID,
		Kind:       job.EnrichmentType,
		JobID:      job.ID,
		Output:     job.OutputData,
		UpdatedAt:  s.now(),
	}
	if err := s.features.Put(ctx, rec); err != nil {
		log.WithError(err).Error("Failed to write feature record")
	}
}

// ProcessBatch snapshots up to limit dispatchable jobs and processes them
// one after another in priority order. A failing job does not stop the
// batch. Concurrent batches are safe; each job is processed by exactly one
// of them.
func (s *Scheduler) ProcessBatch(ctx context.Context, limit int) (model.ProcessBatchResponse, error) {
	var resp model.ProcessBatchResponse
	if limit <= 0 {
		limit = s.batchSize
	}
	s.requeueStale(ctx)

	jobs, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return resp, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		outcome, err := s.ProcessOne(ctx, job.ID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to process job")
			}
			continue
		}
		tally(&resp, outcome)
	}
	return resp, nil
}

// Run dispatches pending jobs to a fixed-size worker pool until ctx is
// cancelled. Jobs are handed to workers in priority order.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"workers":  s.workers,
		"interval": s.interval.String(),
		"backend":  s.backend.Name(),
	}).Info("Scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Dispatch(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Error("Dispatch failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Dispatch runs one round of the worker pool over the current pending
// snapshot and waits for it to finish.
func (s *Scheduler) Dispatch(ctx context.Context) (model.ProcessBatchResponse, error) {
	var resp model.ProcessBatchResponse
	s.requeueStale(ctx)

	jobs, err := s.store.ListPending(ctx, s.batchSize*s.workers)
	if err != nil {
		return resp, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return resp, nil
	}

	outcomes := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, job := range jobs {
		i, id := i, job.ID
		g.Go(func() error {
			outcome, err := s.ProcessOne(gctx, id)
			if err != nil {
				if gctx.Err() == nil {
					s.logger.WithError(err).WithField("job_id", id).Error("Failed to process job")
				}
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o != "" {
			tally(&resp, o)
		}
	}
	return resp, nil
}

// RequeueStale counts a failed attempt against every job whose worker
// stopped mid-attempt. It returns how many jobs were moved.
func (s *Scheduler) RequeueStale(ctx context.Context) (int, error) {
	jobs, err := s.store.RequeueStale(ctx, s.staleAfter)
	for _, job := range jobs {
		s.notifier.JobUpdated(job)
		outcome := OutcomeRetrying
		if job.Status == model.JobStatusFailed {
			outcome = OutcomeFailed
		}
		s.metrics.Attempt(job.EnrichmentType, string(outcome))
		s.logger.WithFields(logrus.Fields{
			"job_id":      job.ID,
			"status":      job.Status,
			"retry_count": job.RetryCount,
		}).Warn("Requeued abandoned enrichment job")
	}
	if err != nil {
		return len(jobs), fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return len(jobs), nil
}

func (s *Scheduler) requeueStale(ctx context.Context) {
	if _, err := s.RequeueStale(ctx); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Error("Stale job recovery failed")
	}
}

func tally(resp *model.ProcessBatchResponse, o Outcome) {
	switch o {
	case OutcomeCompleted:
		resp.Completed++
	case OutcomeRetrying:
		resp.Retrying++
	case OutcomeFailed:
		resp.Failed++
	case OutcomeSkipped:
		resp.Skipped++
		return
	}
	resp.Processed++
}
