package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/makeasinger/enrichment/internal/model"
)

type memoryEntry struct {
	job *model.Job
	seq int64
}

// MemoryStore keeps jobs in process memory. A single mutex serializes all
// transitions.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryEntry
	seq  int64
	opts options
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memoryEntry),
		opts: buildOptions(opts),
	}
}

func (s *MemoryStore) Create(_ context.Context, p CreateParams) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	job := newJob(uuid.New().String(), p, s.opts.now())
	s.jobs[job.ID] = &memoryEntry{job: job, seq: s.seq}
	return job.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.job.Clone(), nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	var pending []*memoryEntry
	for _, e := range s.jobs {
		if available(e.job, now) {
			pending = append(pending, e)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.job.Priority != b.job.Priority {
			return a.job.Priority > b.job.Priority
		}
		return a.seq < b.seq
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	jobs := make([]*model.Job, len(pending))
	for i, e := range pending {
		jobs[i] = e.job.Clone()
	}
	return jobs, nil
}

func (s *MemoryStore) Claim(_ context.Context, id string) (*model.Job, error) {
	return s.update(id, func(job *model.Job) error {
		return claim(job, s.opts.now())
	})
}

func (s *MemoryStore) Complete(_ context.Context, id string, out *model.JobOutput) (*model.Job, error) {
	return s.update(id, func(job *model.Job) error {
		return complete(job, out, s.opts.now())
	})
}

func (s *MemoryStore) Fail(_ context.Context, id string, errMsg string, retryAt time.Time) (*model.Job, error) {
	return s.update(id, func(job *model.Job) error {
		return fail(job, errMsg, retryAt, s.opts.now())
	})
}

func (s *MemoryStore) Release(_ context.Context, id string) (*model.Job, error) {
	return s.update(id, release)
}

func (s *MemoryStore) RequeueStale(_ context.Context, threshold time.Duration) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	cutoff := now.Add(-threshold)
	var moved []*model.Job
	for _, e := range s.jobs {
		if !stale(e.job, cutoff) {
			continue
		}
		working := e.job.Clone()
		if err := fail(working, StaleJobError, now, now); err != nil {
			continue
		}
		e.job = working
		moved = append(moved, working.Clone())
	}
	return moved, nil
}

func (s *MemoryStore) Stats(_ context.Context) (model.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats model.JobStats
	for _, e := range s.jobs {
		countStatus(&stats, e.job.Status, 1)
	}
	return stats, nil
}

// update applies fn to a working copy and commits it only when fn succeeds
func (s *MemoryStore) update(id string, fn func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	working := e.job.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	e.job = working
	return working.Clone(), nil
}

func countStatus(stats *model.JobStats, status model.JobStatus, delta int) {
	switch status {
	case model.JobStatusPending:
		stats.Pending += delta
	case model.JobStatusProcessing:
		stats.Processing += delta
	case model.JobStatusCompleted:
		stats.Completed += delta
	case model.JobStatusFailed:
		stats.Failed += delta
	}
	stats.Total += delta
}
