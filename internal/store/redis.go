package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/enrichment/internal/model"
)

const (
	keySeq     = "enrichment:seq"
	keyPending = "enrichment:pending"
	keyDelayed = "enrichment:delayed"
	keyStats   = "enrichment:stats"

	// processing jobs scored by claim time, scanned by RequeueStale
	keyProcessing = "enrichment:processing"

	// priority dominates the pending score, sequence breaks ties
	priorityWeight = 1e12

	maxTxAttempts = 10
)

// storedJob is the Redis representation of a job
type storedJob struct {
	Job *model.Job `json:"job"`
	Seq int64      `json:"seq"`
}

// RedisStore keeps jobs in Redis. Each job is a JSON document; dispatchable
// jobs are indexed in a sorted set and jobs in retry backoff in another one
// scored by the time they become eligible again. Transitions use optimistic
// locking (WATCH/MULTI) on the job key.
type RedisStore struct {
	rdb  *redis.Client
	opts options
}

func NewRedisStore(rdb *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{rdb: rdb, opts: buildOptions(opts)}
}

func jobKey(id string) string {
	return fmt.Sprintf("enrichment:job:%s", id)
}

func pendingScore(sj *storedJob) float64 {
	return -float64(sj.Job.Priority)*priorityWeight + float64(sj.Seq)
}

func (s *RedisStore) Create(ctx context.Context, p CreateParams) (*model.Job, error) {
	seq, err := s.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate job sequence: %w", err)
	}

	sj := &storedJob{
		Job: newJob(uuid.New().String(), p, s.opts.now()),
		Seq: seq,
	}
	data, err := json.Marshal(sj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(sj.Job.ID), data, 0)
		pipe.ZAdd(ctx, keyPending, redis.Z{Score: pendingScore(sj), Member: sj.Job.ID})
		pipe.HIncrBy(ctx, keyStats, string(model.JobStatusPending), 1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	return sj.Job, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	sj, err := s.load(ctx, s.rdb, id)
	if err != nil {
		return nil, err
	}
	return sj.Job, nil
}

func (s *RedisStore) ListPending(ctx context.Context, limit int) ([]*model.Job, error) {
	if err := s.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.rdb.ZRange(ctx, keyPending, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*model.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending jobs: %w", err)
	}

	now := s.opts.now()
	jobs := make([]*model.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var sj storedJob
		if err := json.Unmarshal([]byte(raw), &sj); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		if available(sj.Job, now) {
			jobs = append(jobs, sj.Job)
		}
	}
	return jobs, nil
}

// promoteDelayed moves jobs whose backoff has elapsed into the pending index
func (s *RedisStore) promoteDelayed(ctx context.Context) error {
	now := s.opts.now()
	ids, err := s.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, id := range ids {
		sj, err := s.load(ctx, s.rdb, id)
		if errors.Is(err, ErrJobNotFound) {
			s.rdb.ZRem(ctx, keyDelayed, id)
			continue
		}
		if err != nil {
			return err
		}
		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, keyDelayed, id)
			if sj.Job.Status == model.JobStatusPending {
				pipe.ZAdd(ctx, keyPending, redis.Z{Score: pendingScore(sj), Member: id})
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to promote job %s: %w", id, err)
		}
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, id string) (*model.Job, error) {
	return s.transition(ctx, id, func(job *model.Job) error {
		return claim(job, s.opts.now())
	})
}

func (s *RedisStore) Complete(ctx context.Context, id string, out *model.JobOutput) (*model.Job, error) {
	return s.transition(ctx, id, func(job *model.Job) error {
		return complete(job, out, s.opts.now())
	})
}

func (s *RedisStore) Fail(ctx context.Context, id string, errMsg string, retryAt time.Time) (*model.Job, error) {
	return s.transition(ctx, id, func(job *model.Job) error {
		return fail(job, errMsg, retryAt, s.opts.now())
	})
}

func (s *RedisStore) Release(ctx context.Context, id string) (*model.Job, error) {
	return s.transition(ctx, id, release)
}

func (s *RedisStore) RequeueStale(ctx context.Context, threshold time.Duration) ([]*model.Job, error) {
	now := s.opts.now()
	cutoff := now.Add(-threshold)
	ids, err := s.rdb.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read processing jobs: %w", err)
	}

	var moved []*model.Job
	for _, id := range ids {
		job, err := s.transition(ctx, id, func(job *model.Job) error {
			if !stale(job, cutoff) {
				return ErrInvalidTransition
			}
			return fail(job, StaleJobError, now, now)
		})
		switch {
		case errors.Is(err, ErrJobNotFound):
			s.rdb.ZRem(ctx, keyProcessing, id)
		case errors.Is(err, ErrInvalidTransition):
			// finished or reclaimed since the scan
		case err != nil:
			return moved, err
		default:
			moved = append(moved, job)
		}
	}
	return moved, nil
}

func (s *RedisStore) Stats(ctx context.Context) (model.JobStats, error) {
	var stats model.JobStats
	counts, err := s.rdb.HGetAll(ctx, keyStats).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read job stats: %w", err)
	}
	for status, raw := range counts {
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		countStatus(&stats, model.JobStatus(status), n)
	}
	return stats, nil
}

// transition runs fn against the current job under WATCH and commits the
// new document together with the index updates it implies
func (s *RedisStore) transition(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	key := jobKey(id)
	var result *model.Job

	txf := func(tx *redis.Tx) error {
		sj, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := sj.Job.Status
		if err := fn(sj.Job); err != nil {
			return err
		}
		data, err := json.Marshal(sj)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if prev != sj.Job.Status {
				pipe.HIncrBy(ctx, keyStats, string(prev), -1)
				pipe.HIncrBy(ctx, keyStats, string(sj.Job.Status), 1)
			}
			pipe.ZRem(ctx, keyPending, id)
			pipe.ZRem(ctx, keyDelayed, id)
			pipe.ZRem(ctx, keyProcessing, id)
			if sj.Job.Status == model.JobStatusProcessing {
				pipe.ZAdd(ctx, keyProcessing, redis.Z{Score: float64(claimedAt(sj.Job).UnixMilli()), Member: id})
			}
			if sj.Job.Status == model.JobStatusPending {
				if sj.Job.NextAttemptAt != nil {
					pipe.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(sj.Job.NextAttemptAt.UnixMilli()), Member: id})
				} else {
					pipe.ZAdd(ctx, keyPending, redis.Z{Score: pendingScore(sj), Member: id})
				}
			}
			return nil
		})
		if err == nil {
			result = sj.Job
		}
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

// getter is satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*storedJob, error) {
	data, err := c.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	var sj storedJob
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &sj, nil
}
