package worker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/enrichment/internal/analysis"
	"github.com/makeasinger/enrichment/internal/catalog"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/logging"
	"github.com/makeasinger/enrichment/internal/model"
	"github.com/makeasinger/enrichment/internal/scheduler"
	"github.com/makeasinger/enrichment/internal/service"
	"github.com/makeasinger/enrichment/internal/store"
)

type fixture struct {
	worker *EnrichmentWorker
	svc    *service.EnrichmentService
	store  store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()

	gw := catalog.NewMemoryGateway(catalog.NewMemoryFeatureStore())
	require.NoError(t, catalog.LoadFixtures(gw))

	st := store.NewMemoryStore()
	cfg := &config.SchedulerConfig{MaxRetries: 3}
	sched := scheduler.New(st, analysis.NewLocalBackend(&config.AnalysisConfig{Dimensions: 8}), cfg, logger)
	svc := service.NewEnrichmentService(st, gw, sched, nil, nil, cfg, logger)
	syncer, err := service.NewSyncer(gw, svc, &config.CatalogConfig{SyncKinds: []string{"audio_features"}}, nil, logger)
	require.NoError(t, err)

	return &fixture{
		worker: NewEnrichmentWorker(sched, syncer, logger),
		svc:    svc,
		store:  st,
	}
}

func TestProcessTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, &model.CreateJobRequest{
		EntityType:     model.EntityTrack,
		EntityID:       "7",
		EnrichmentType: model.EnrichmentMoodAnalysis,
	})
	require.NoError(t, err)

	task, err := service.NewProcessTask(job.ID)
	require.NoError(t, err)
	require.NoError(t, f.worker.ProcessTask(ctx, task))

	done, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)

	// redelivery of the same task is harmless
	require.NoError(t, f.worker.ProcessTask(ctx, task))
}

func TestProcessTask_BadPayloadSkipsRetry(t *testing.T) {
	f := newFixture(t)

	err := f.worker.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeProcess, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = f.worker.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeProcess, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessTask_UnknownJob(t *testing.T) {
	f := newFixture(t)

	task, err := service.NewProcessTask("missing")
	require.NoError(t, err)
	require.ErrorIs(t, f.worker.ProcessTask(context.Background(), task), store.ErrJobNotFound)
}

func TestBatchTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_, err := f.svc.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     model.EntityTrack,
			EntityID:       id,
			EnrichmentType: model.EnrichmentAudioFeatures,
		})
		require.NoError(t, err)
	}

	task, err := NewBatchTask(2)
	require.NoError(t, err)
	require.NoError(t, f.worker.BatchTask(ctx, task))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Pending)
}

func TestSyncTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.worker.SyncTask(ctx, asynq.NewTask(service.TaskTypeSync, nil)))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	// tracks, the video and both episodes
	assert.Equal(t, 9, stats.Pending)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	mux := asynq.NewServeMux()
	f.worker.Register(mux)

	h, pattern := mux.Handler(asynq.NewTask(service.TaskTypeSync, nil))
	require.NotNil(t, h)
	assert.Equal(t, service.TaskTypeSync, pattern)
}

func TestRegisterPeriodic(t *testing.T) {
	mr := miniredis.RunT(t)
	s := asynq.NewScheduler(asynq.RedisClientOpt{Addr: mr.Addr()}, nil)

	require.NoError(t, RegisterPeriodic(s, "@every 15s", "@every 1m", 10))
	require.NoError(t, RegisterPeriodic(s, "", "", 10))
	require.Error(t, RegisterPeriodic(s, "not a cron", "", 10))
}
