package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/enrichment/internal/analysis"
	"github.com/makeasinger/enrichment/internal/catalog"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/metrics"
	"github.com/makeasinger/enrichment/internal/model"
	"github.com/makeasinger/enrichment/internal/scheduler"
	"github.com/makeasinger/enrichment/internal/store"
)

// Task types handled by the asynq worker
const (
	TaskTypeProcess = "enrichment:process"
	TaskTypeBatch   = "enrichment:batch"
	TaskTypeSync    = "catalog:sync"

	QueueEnrichment = "enrichment"
)

const defaultSimilarLimit = 10

var (
	// ErrInvalidInput is returned when a job request cannot be turned into a
	// valid job input
	ErrInvalidInput = errors.New("invalid input")
	ErrJobNotFound  = store.ErrJobNotFound
	// ErrConflict means another writer moved the job while it was being
	// processed
	ErrConflict = store.ErrConflict
)

// EnrichmentService is the entry point other features use to request and
// inspect enrichment
type EnrichmentService struct {
	store       store.Store
	catalog     catalog.Gateway
	scheduler   *scheduler.Scheduler
	asynqClient *asynq.Client
	metrics     *metrics.Metrics
	defaults    config.SchedulerConfig
	logger      *logrus.Entry
}

// NewEnrichmentService wires the service. asynqClient may be nil, in which
// case new jobs wait for the periodic batch driver.
func NewEnrichmentService(st store.Store, gw catalog.Gateway, sched *scheduler.Scheduler, asynqClient *asynq.Client, m *metrics.Metrics, cfg *config.SchedulerConfig, logger *logrus.Logger) *EnrichmentService {
	return &EnrichmentService{
		store:       st,
		catalog:     gw,
		scheduler:   sched,
		asynqClient: asynqClient,
		metrics:     m,
		defaults:    *cfg,
		logger:      logger.WithField("component", "enrichment"),
	}
}

// CreateJob registers a pending job. Missing input fields are resolved from
// the catalog entity the job refers to.
func (s *EnrichmentService) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if !req.EntityType.IsValid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, req.EntityType)
	}
	if !req.EnrichmentType.IsValid() {
		return nil, fmt.Errorf("%w: unknown enrichment type %q", ErrInvalidInput, req.EnrichmentType)
	}
	if strings.TrimSpace(req.EntityID) == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}

	in, err := model.DecodeInput(req.EnrichmentType, req.InputData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s.resolveInput(ctx, req.EntityType, req.EntityID, in)
	if err := model.ValidateInput(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	priority := s.defaults.DefaultPriority
	if priority <= 0 {
		priority = model.DefaultPriority
	}
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < model.MinPriority || priority > model.MaxPriority {
		return nil, fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidInput, model.MinPriority, model.MaxPriority)
	}

	maxRetries := s.defaults.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	job, err := s.store.Create(ctx, store.CreateParams{
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		EnrichmentType: req.EnrichmentType,
		Input:          in,
		Priority:       priority,
		MaxRetries:     maxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.metrics.JobCreated(job.EnrichmentType)

	log := s.logger.WithFields(logrus.Fields{
		"job_id":          job.ID,
		"entity_type":     job.EntityType,
		"entity_id":       job.EntityID,
		"enrichment_type": job.EnrichmentType,
		"priority":        job.Priority,
	})
	if err := s.enqueue(ctx, job); err != nil {
		// the job is durable in the store; the batch driver will pick it up
		log.WithError(err).Warn("Failed to enqueue job")
	}
	log.Info("Enrichment job created")
	return job, nil
}

// resolveInput fills fields the caller left empty from the catalog
func (s *EnrichmentService) resolveInput(ctx context.Context, entityType model.EntityType, entityID string, in *model.JobInput) {
	var entity model.Entity
	if s.catalog != nil {
		entity, _ = s.catalog.Lookup(ctx, entityType, entityID)
	}
	audioURI := func() string {
		if src, ok := entity.(model.AudioSource); ok {
			return src.AudioLocation()
		}
		return ""
	}
	track, _ := entity.(*model.Track)

	switch in.Kind {
	case model.EnrichmentAudioFeatures:
		if in.Audio.AudioURI == "" {
			in.Audio.AudioURI = audioURI()
		}
	case model.EnrichmentEmbeddings:
		if in.Embedding.Content == "" && entity != nil {
			in.Embedding.Content = describe(entity)
			if in.Embedding.EmbeddingType == "" {
				in.Embedding.EmbeddingType = model.EmbeddingMetadata
			}
		}
		if in.Embedding.EmbeddingType == "" {
			in.Embedding.EmbeddingType = model.EmbeddingText
		}
	case model.EnrichmentGenreClassification:
		if in.Genre.AudioURI == "" {
			in.Genre.AudioURI = audioURI()
		}
		if in.Genre.Metadata == nil && entity != nil {
			in.Genre.Metadata = map[string]string{"title": entity.DisplayTitle()}
			if sub := entity.DisplaySubtitle(); sub != "" {
				in.Genre.Metadata["artist"] = sub
			}
			if track != nil && len(track.Genres) > 0 {
				in.Genre.Metadata["genre"] = track.Genres[0]
			}
		}
	case model.EnrichmentMoodAnalysis:
		if in.Mood.AudioURI == "" {
			in.Mood.AudioURI = audioURI()
		}
		if in.Mood.Lyrics == "" && track != nil {
			in.Mood.Lyrics = track.Lyrics
		}
	case model.EnrichmentSimilarity:
		if in.Similarity.TrackID == "" && entityType == model.EntityTrack {
			in.Similarity.TrackID = entityID
		}
		if in.Similarity.Limit == 0 {
			in.Similarity.Limit = defaultSimilarLimit
		}
	}
}

func describe(e model.Entity) string {
	parts := []string{e.DisplayTitle()}
	if sub := e.DisplaySubtitle(); sub != "" {
		parts = append(parts, sub)
	}
	if track, ok := e.(*model.Track); ok && len(track.Genres) > 0 {
		parts = append(parts, strings.Join(track.Genres, ", "))
	}
	return strings.Join(parts, " - ")
}

func (s *EnrichmentService) enqueue(ctx context.Context, job *model.Job) error {
	if s.asynqClient == nil {
		return nil
	}
	task, err := NewProcessTask(job.ID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	// retries are tracked on the job itself, not by asynq
	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(QueueEnrichment),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (s *EnrichmentService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// ProcessJob runs one job synchronously and returns its resulting state.
// Retry backoff does not apply to an explicit trigger; a job that is not
// pending is returned unchanged.
func (s *EnrichmentService) ProcessJob(ctx context.Context, jobID string) (*model.Job, error) {
	if _, err := s.store.Get(ctx, jobID); err != nil {
		return nil, err
	}
	if _, err := s.scheduler.ProcessOne(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, jobID)
}

// ProcessJobs runs one batch of up to limit pending jobs
func (s *EnrichmentService) ProcessJobs(ctx context.Context, limit int) (model.ProcessBatchResponse, error) {
	return s.scheduler.ProcessBatch(ctx, limit)
}

func (s *EnrichmentService) Stats(ctx context.Context) (model.JobStats, error) {
	return s.store.Stats(ctx)
}

// FindSimilar ranks indexed embeddings against a vector using the active
// analysis backend
func (s *EnrichmentService) FindSimilar(ctx context.Context, req *model.SimilarByEmbeddingRequest) ([]model.EmbeddingMatch, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	matches, err := s.scheduler.Backend().FindSimilarByEmbedding(ctx, req.Vector, limit)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []model.EmbeddingMatch{}
	}
	return matches, nil
}

// BackendHealth reports the state of the analysis backend for /health
func (s *EnrichmentService) BackendHealth(ctx context.Context) analysis.Health {
	return analysis.CheckHealth(ctx, s.scheduler.Backend())
}

// NewProcessTask builds the task that processes one job
func NewProcessTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(map[string]string{"jobId": jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProcess, data), nil
}
