// Package store holds the authoritative state of enrichment jobs.
//
// Every status transition is a compare-and-swap on the job's current status,
// so two workers can never move the same job out of pending. Jobs in a
// terminal state reject all further transitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/makeasinger/enrichment/internal/model"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrConflict          = errors.New("job was modified concurrently")
)

// StaleJobError is recorded on jobs reclaimed by RequeueStale
const StaleJobError = "attempt abandoned: worker stopped before finishing"

// CreateParams describes a new job
type CreateParams struct {
	EntityType     model.EntityType
	EntityID       string
	EnrichmentType model.EnrichmentType
	Input          *model.JobInput
	Priority       int
	MaxRetries     int
}

// Store is the job registry used by the scheduler and the enrichment API
type Store interface {
	// Create registers a pending job. Duplicate requests for the same
	// entity and enrichment type produce independent jobs.
	Create(ctx context.Context, p CreateParams) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	// ListPending returns dispatchable jobs by priority descending, then
	// creation order. Jobs waiting out a retry backoff are skipped.
	ListPending(ctx context.Context, limit int) ([]*model.Job, error)
	// Claim moves a pending job to processing.
	Claim(ctx context.Context, id string) (*model.Job, error)
	// Complete moves a processing job to completed and stores its output.
	Complete(ctx context.Context, id string, out *model.JobOutput) (*model.Job, error)
	// Fail records a failed attempt of a processing job. The job returns to
	// pending, eligible again at retryAt, or fails terminally once its
	// retry budget is spent.
	Fail(ctx context.Context, id string, errMsg string, retryAt time.Time) (*model.Job, error)
	// Release returns a processing job to pending without counting the
	// attempt, for work interrupted by shutdown rather than by a failure.
	Release(ctx context.Context, id string) (*model.Job, error)
	// RequeueStale records a failed attempt for every job that has been
	// processing for longer than threshold, so work abandoned by a crashed
	// worker is retried and eventually fails terminally. It returns the jobs
	// it moved.
	RequeueStale(ctx context.Context, threshold time.Duration) ([]*model.Job, error)
	Stats(ctx context.Context) (model.JobStats, error)
}

// Option configures a store
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newJob(id string, p CreateParams, now time.Time) *model.Job {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	return &model.Job{
		ID:             id,
		EntityType:     p.EntityType,
		EntityID:       p.EntityID,
		EnrichmentType: p.EnrichmentType,
		Status:         model.JobStatusPending,
		Priority:       p.Priority,
		InputData:      p.Input,
		CreatedAt:      now,
		MaxRetries:     maxRetries,
	}
}

func claim(job *model.Job, now time.Time) error {
	if job.Status != model.JobStatusPending {
		return ErrInvalidTransition
	}
	job.Status = model.JobStatusProcessing
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.ClaimedAt = &now
	return nil
}

func complete(job *model.Job, out *model.JobOutput, now time.Time) error {
	if job.Status != model.JobStatusProcessing {
		return ErrInvalidTransition
	}
	job.Status = model.JobStatusCompleted
	job.OutputData = out
	job.CompletedAt = &now
	job.NextAttemptAt = nil
	job.ClaimedAt = nil
	return nil
}

func fail(job *model.Job, errMsg string, retryAt, now time.Time) error {
	if job.Status != model.JobStatusProcessing {
		return ErrInvalidTransition
	}
	job.RetryCount++
	job.Error = &errMsg
	job.ClaimedAt = nil
	if job.RetryCount >= job.MaxRetries {
		job.Status = model.JobStatusFailed
		job.CompletedAt = &now
		job.NextAttemptAt = nil
		return nil
	}
	job.Status = model.JobStatusPending
	if retryAt.After(now) {
		job.NextAttemptAt = &retryAt
	} else {
		job.NextAttemptAt = nil
	}
	return nil
}

func release(job *model.Job) error {
	if job.Status != model.JobStatusProcessing {
		return ErrInvalidTransition
	}
	job.Status = model.JobStatusPending
	job.ClaimedAt = nil
	job.NextAttemptAt = nil
	return nil
}

// claimedAt falls back to startedAt for records written before claims were
// timestamped
func claimedAt(job *model.Job) time.Time {
	if job.ClaimedAt != nil {
		return *job.ClaimedAt
	}
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return job.CreatedAt
}

// stale reports whether a processing job's claim is older than cutoff
func stale(job *model.Job, cutoff time.Time) bool {
	return job.Status == model.JobStatusProcessing && claimedAt(job).Before(cutoff)
}

func available(job *model.Job, now time.Time) bool {
	return job.Status == model.JobStatusPending &&
		(job.NextAttemptAt == nil || !job.NextAttemptAt.After(now))
}
