package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/enrichment/internal/analysis"
	"github.com/makeasinger/enrichment/internal/catalog"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/logging"
	"github.com/makeasinger/enrichment/internal/metrics"
	"github.com/makeasinger/enrichment/internal/model"
	"github.com/makeasinger/enrichment/internal/scheduler"
	"github.com/makeasinger/enrichment/internal/store"
)

type testEnv struct {
	svc      *EnrichmentService
	store    store.Store
	gateway  *catalog.MemoryGateway
	features *catalog.MemoryFeatureStore
}

func newTestEnv(t *testing.T, client *asynq.Client, opts ...catalog.GatewayOption) *testEnv {
	t.Helper()
	logger := logging.Discard()

	features := catalog.NewMemoryFeatureStore()
	gw := catalog.NewMemoryGateway(features, opts...)
	require.NoError(t, catalog.LoadFixtures(gw))

	st := store.NewMemoryStore()
	cfg := &config.SchedulerConfig{MaxRetries: 3, DefaultPriority: 50}
	backend := analysis.NewLocalBackend(&config.AnalysisConfig{Dimensions: 16})
	sched := scheduler.New(st, backend, cfg, logger, scheduler.WithFeatureStore(features))

	return &testEnv{
		svc:      NewEnrichmentService(st, gw, sched, client, metrics.New(), cfg, logger),
		store:    st,
		gateway:  gw,
		features: features,
	}
}

func intPtr(v int) *int { return &v }

func TestCreateJob_ResolvesInputFromCatalog(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	t.Run("embeddings describe the entity", func(t *testing.T) {
		job, err := env.svc.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     model.EntityTrack,
			EntityID:       "1",
			EnrichmentType: model.EnrichmentEmbeddings,
		})
		require.NoError(t, err)
		assert.Equal(t, "Midnight Circuit - Nova Lights - electronic", job.InputData.Embedding.Content)
		assert.Equal(t, model.EmbeddingMetadata, job.InputData.Embedding.EmbeddingType)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Equal(t, 50, job.Priority)
		assert.Equal(t, 3, job.MaxRetries)
	})

	t.Run("mood uses track audio and lyrics", func(t *testing.T) {
		job, err := env.svc.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     model.EntityTrack,
			EntityID:       "7",
			EnrichmentType: model.EnrichmentMoodAnalysis,
		})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.makeasinger.com/audio/7.mp3", job.InputData.Mood.AudioURI)
		assert.Contains(t, job.InputData.Mood.Lyrics, "harbor lights")
	})

	t.Run("video audio comes from the stream", func(t *testing.T) {
		job, err := env.svc.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     model.EntityVideo,
			EntityID:       "v-1",
			EnrichmentType: model.EnrichmentAudioFeatures,
		})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.makeasinger.com/video/v-1.m3u8", job.InputData.Audio.AudioURI)
	})

	t.Run("similarity seeds from the track", func(t *testing.T) {
		job, err := env.svc.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     model.EntityTrack,
			EntityID:       "42",
			EnrichmentType: model.EnrichmentSimilarity,
		})
		require.NoError(t, err)
		assert.Equal(t, "42", job.InputData.Similarity.TrackID)
		assert.Equal(t, 10, job.InputData.Similarity.Limit)
	})

	t.Run("explicit input wins", func(t *testing.T) {
		job, err := env.svc.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     model.EntityTrack,
			EntityID:       "2",
			EnrichmentType: model.EnrichmentGenreClassification,
			InputData:      json.RawMessage(`{"audioUri":"s3://bucket/neon-rain.wav","metadata":{"genre":"house"}}`),
			Priority:       intPtr(90),
			MaxRetries:     intPtr(5),
		})
		require.NoError(t, err)
		assert.Equal(t, "s3://bucket/neon-rain.wav", job.InputData.Genre.AudioURI)
		assert.Equal(t, map[string]string{"genre": "house"}, job.InputData.Genre.Metadata)
		assert.Equal(t, 90, job.Priority)
		assert.Equal(t, 5, job.MaxRetries)
	})
}

func TestCreateJob_Invalid(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  model.CreateJobRequest
	}{
		{
			name: "unknown enrichment type",
			req:  model.CreateJobRequest{EntityType: model.EntityTrack, EntityID: "1", EnrichmentType: "lyrics_sync"},
		},
		{
			name: "unknown entity type",
			req:  model.CreateJobRequest{EntityType: "playlist", EntityID: "1", EnrichmentType: model.EnrichmentEmbeddings},
		},
		{
			name: "missing entity id",
			req:  model.CreateJobRequest{EntityType: model.EntityTrack, EntityID: " ", EnrichmentType: model.EnrichmentEmbeddings},
		},
		{
			name: "no audio for an unknown track",
			req:  model.CreateJobRequest{EntityType: model.EntityTrack, EntityID: "999", EnrichmentType: model.EnrichmentAudioFeatures},
		},
		{
			name: "similarity needs a seed track",
			req:  model.CreateJobRequest{EntityType: model.EntityArtist, EntityID: "ar-1", EnrichmentType: model.EnrichmentSimilarity},
		},
		{
			name: "malformed input",
			req: model.CreateJobRequest{
				EntityType: model.EntityTrack, EntityID: "1", EnrichmentType: model.EnrichmentMoodAnalysis,
				InputData: json.RawMessage(`{"audioUri": 12}`),
			},
		},
		{
			name: "priority out of range",
			req: model.CreateJobRequest{
				EntityType: model.EntityTrack, EntityID: "1", EnrichmentType: model.EnrichmentEmbeddings,
				Priority: intPtr(101),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateJob(ctx, &tt.req)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	stats, err := env.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestProcessJob(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	job, err := env.svc.CreateJob(ctx, &model.CreateJobRequest{
		EntityType:     model.EntityTrack,
		EntityID:       "3",
		EnrichmentType: model.EnrichmentAudioFeatures,
	})
	require.NoError(t, err)

	done, err := env.svc.ProcessJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	require.NotNil(t, done.OutputData)
	require.NotNil(t, done.OutputData.Audio)

	// a second trigger leaves the completed job as it is
	again, err := env.svc.ProcessJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, done.CompletedAt, again.CompletedAt)

	rec, ok, err := env.features.Get(ctx, model.EntityTrack, "3", model.EnrichmentAudioFeatures)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, rec.JobID)

	analysisResult, ok, err := env.gateway.GetAudioFeatures(ctx, model.EntityTrack, "3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, done.OutputData.Audio.Tempo, analysisResult.Tempo)
}

func TestProcessJob_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.ProcessJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestProcessJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_, err := env.svc.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     model.EntityTrack,
			EntityID:       id,
			EnrichmentType: model.EnrichmentGenreClassification,
		})
		require.NoError(t, err)
	}

	resp, err := env.svc.ProcessJobs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Processed)
	assert.Equal(t, 2, resp.Completed)

	stats, err := env.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 2, stats.Completed)
}

func TestFindSimilar(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var vector []float64
	for _, id := range []string{"1", "2", "7"} {
		job, err := env.svc.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     model.EntityTrack,
			EntityID:       id,
			EnrichmentType: model.EnrichmentEmbeddings,
		})
		require.NoError(t, err)
		done, err := env.svc.ProcessJob(ctx, job.ID)
		require.NoError(t, err)
		if id == "2" {
			vector = done.OutputData.Embedding.Vector
		}
	}

	matches, err := env.svc.FindSimilar(ctx, &model.SimilarByEmbeddingRequest{Vector: vector, Limit: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "2", matches[0].EntityID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
}

func TestCreateJob_EnqueuesProcessTask(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, client)
	job, err := env.svc.CreateJob(context.Background(), &model.CreateJobRequest{
		EntityType:     model.EntityEpisode,
		EntityID:       "ep-1",
		EnrichmentType: model.EnrichmentAudioFeatures,
	})
	require.NoError(t, err)

	pending, err := mr.List("asynq:{" + QueueEnrichment + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	task, err := NewProcessTask(job.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeProcess, task.Type())
	assert.JSONEq(t, `{"jobId":"`+job.ID+`"}`, string(task.Payload()))
}

func TestCreateJob_EnqueueFailureKeepsJob(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr(), DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	env := newTestEnv(t, client)
	job, err := env.svc.CreateJob(context.Background(), &model.CreateJobRequest{
		EntityType:     model.EntityTrack,
		EntityID:       "8",
		EnrichmentType: model.EnrichmentMoodAnalysis,
	})
	require.NoError(t, err)

	stored, err := env.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, stored.Status)
}
