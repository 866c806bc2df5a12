package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/enrichment/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func newMemory(_ *testing.T, clock *fakeClock) Store {
	return NewMemoryStore(WithClock(clock.Now))
}

func newRedis(t *testing.T, clock *fakeClock) Store {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, WithClock(clock.Now))
}

func moodParams(priority int) CreateParams {
	return CreateParams{
		EntityType:     model.EntityTrack,
		EntityID:       "7",
		EnrichmentType: model.EnrichmentMoodAnalysis,
		Input:          &model.JobInput{Kind: model.EnrichmentMoodAnalysis, Mood: &model.MoodInput{AudioURI: "s3://7.mp3"}},
		Priority:       priority,
		MaxRetries:     2,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemory) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedis) })
}

func TestCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		job, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Equal(t, 0, job.RetryCount)
		assert.Equal(t, 2, job.MaxRetries)
		assert.True(t, clock.Now().Equal(job.CreatedAt))

		dup, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)
		assert.NotEqual(t, job.ID, dup.ID)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, "s3://7.mp3", got.InputData.Mood.AudioURI)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestCreate_DefaultMaxRetries(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		p := moodParams(50)
		p.MaxRetries = 0
		job, err := newStore(t, newFakeClock()).Create(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultMaxRetries, job.MaxRetries)
	})
}

func TestListPending_PriorityOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())

		byPriority := map[int]string{}
		for _, p := range []int{10, 90, 50} {
			job, err := s.Create(ctx, moodParams(p))
			require.NoError(t, err)
			byPriority[p] = job.ID
		}

		jobs, err := s.ListPending(ctx, 3)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, byPriority[90], jobs[0].ID)
		assert.Equal(t, byPriority[50], jobs[1].ID)
		assert.Equal(t, byPriority[10], jobs[2].ID)

		jobs, err = s.ListPending(ctx, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, byPriority[90], jobs[0].ID)
	})
}

func TestListPending_FIFOWithinPriority(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		first, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)
		second, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)

		jobs, err := s.ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, first.ID, jobs[0].ID)
		assert.Equal(t, second.ID, jobs[1].ID)
	})
}

func TestClaim_OnlyFromPending(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		job, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)

		claimed, err := s.Claim(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, claimed.Status)
		require.NotNil(t, claimed.StartedAt)

		_, err = s.Claim(ctx, job.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		jobs, err := s.ListPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)

		_, err = s.Claim(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestClaim_ConcurrentWorkersClaimOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())

		job, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Claim(ctx, job.ID); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestComplete(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		job, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)

		out := &model.JobOutput{Kind: model.EnrichmentMoodAnalysis, Mood: &model.MoodAnalysis{
			PrimaryMood: "calm", EnergyLevel: model.EnergyLow,
			EmotionalValence: model.ValenceNeutral, ArousalLevel: model.ArousalCalm,
		}}

		_, err = s.Complete(ctx, job.ID, out)
		assert.ErrorIs(t, err, ErrInvalidTransition, "pending jobs cannot complete")

		_, err = s.Claim(ctx, job.ID)
		require.NoError(t, err)
		clock.Advance(time.Second)

		done, err := s.Complete(ctx, job.ID, out)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, done.Status)
		require.NotNil(t, done.CompletedAt)
		assert.True(t, clock.Now().Equal(*done.CompletedAt))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.OutputData)
		assert.Equal(t, "calm", got.OutputData.Mood.PrimaryMood)

		_, err = s.Fail(ctx, job.ID, "late failure", clock.Now())
		assert.ErrorIs(t, err, ErrInvalidTransition, "completed jobs are immutable")
	})
}

func TestFail_RetryThenTerminal(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		job, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)

		_, err = s.Claim(ctx, job.ID)
		require.NoError(t, err)
		started, err := s.Get(ctx, job.ID)
		require.NoError(t, err)

		retried, err := s.Fail(ctx, job.ID, "timeout", clock.Now())
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, retried.Status)
		assert.Equal(t, 1, retried.RetryCount)
		assert.Equal(t, "timeout", *retried.Error)
		assert.Nil(t, retried.NextAttemptAt)

		clock.Advance(time.Minute)
		_, err = s.Claim(ctx, job.ID)
		require.NoError(t, err)
		again, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, started.StartedAt.Equal(*again.StartedAt), "started_at is never rewritten")

		failed, err := s.Fail(ctx, job.ID, "503 from analysis service", clock.Now())
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, failed.Status)
		assert.Equal(t, 2, failed.RetryCount)
		assert.Equal(t, "503 from analysis service", *failed.Error)
		assert.True(t, failed.IsTerminal())

		_, err = s.Claim(ctx, job.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestFail_BackoffHidesJobUntilDue(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		job, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)
		_, err = s.Claim(ctx, job.ID)
		require.NoError(t, err)

		retryAt := clock.Now().Add(30 * time.Second)
		retried, err := s.Fail(ctx, job.ID, "timeout", retryAt)
		require.NoError(t, err)
		require.NotNil(t, retried.NextAttemptAt)

		jobs, err := s.ListPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)

		clock.Advance(31 * time.Second)
		jobs, err = s.ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)
	})
}

func TestStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())

		a, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)
		_, err = s.Create(ctx, moodParams(50))
		require.NoError(t, err)
		_, err = s.Claim(ctx, a.ID)
		require.NoError(t, err)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 1, stats.Processing)
		assert.Equal(t, 2, stats.Total)
	})
}

func TestRelease_DoesNotCountAttempt(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())

		job, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)
		_, err = s.Release(ctx, job.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition, "only processing jobs can be released")

		claimed, err := s.Claim(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, claimed.ClaimedAt)

		released, err := s.Release(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, released.Status)
		assert.Equal(t, 0, released.RetryCount)
		assert.Nil(t, released.Error)
		assert.Nil(t, released.ClaimedAt)

		jobs, err := s.ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 0, stats.Processing)
	})
}

func TestRequeueStale(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		abandoned, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)
		live, err := s.Create(ctx, moodParams(50))
		require.NoError(t, err)

		_, err = s.Claim(ctx, abandoned.ID)
		require.NoError(t, err)
		clock.Advance(2 * time.Minute)
		_, err = s.Claim(ctx, live.ID)
		require.NoError(t, err)

		moved, err := s.RequeueStale(ctx, 90*time.Second)
		require.NoError(t, err)
		require.Len(t, moved, 1)
		assert.Equal(t, abandoned.ID, moved[0].ID)
		assert.Equal(t, model.JobStatusPending, moved[0].Status)
		assert.Equal(t, 1, moved[0].RetryCount)
		assert.Equal(t, StaleJobError, *moved[0].Error)
		assert.Nil(t, moved[0].ClaimedAt)

		got, err := s.Get(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, got.Status, "recent claims are left alone")

		jobs, err := s.ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, abandoned.ID, jobs[0].ID)

		// a second abandoned attempt spends the retry budget
		_, err = s.Claim(ctx, abandoned.ID)
		require.NoError(t, err)
		clock.Advance(2 * time.Minute)

		moved, err = s.RequeueStale(ctx, 90*time.Second)
		require.NoError(t, err)
		require.Len(t, moved, 2)

		got, err = s.Get(ctx, abandoned.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, 2, got.RetryCount)

		got, err = s.Get(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, 1, got.RetryCount)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Processing)
		assert.Equal(t, 1, stats.Failed)
		assert.Equal(t, 1, stats.Pending)

		moved, err = s.RequeueStale(ctx, 90*time.Second)
		require.NoError(t, err)
		assert.Empty(t, moved)
	})
}
