package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/makeasinger/enrichment/internal/model"
)

var (
	// ErrTransient marks failures worth retrying: network errors, timeouts,
	// throttling and server-side errors.
	ErrTransient = errors.New("transient analysis failure")
	// ErrInvalidResult marks a backend result that does not match the output schema
	ErrInvalidResult = errors.New("invalid analysis result")
	// ErrNotConfigured is returned when the remote backend is required but not configured
	ErrNotConfigured = errors.New("analysis service not configured")
)

const defaultSimilarLimit = 10

// Backend computes enrichment results. Implementations must be safe for
// concurrent use.
type Backend interface {
	Name() string
	AnalyzeAudio(ctx context.Context, audioURI string) (*model.AudioAnalysis, error)
	GenerateEmbedding(ctx context.Context, entityType model.EntityType, entityID, content string, embeddingType model.EmbeddingType) (*model.Embedding, error)
	ClassifyGenre(ctx context.Context, audioURI string, metadata map[string]string) (*model.GenreClassification, error)
	AnalyzeMood(ctx context.Context, audioURI, lyrics string) (*model.MoodAnalysis, error)
	FindSimilarTracks(ctx context.Context, trackID string, limit int) (*model.SimilarityAnalysis, error)
	FindSimilarByEmbedding(ctx context.Context, vector []float64, limit int) ([]model.EmbeddingMatch, error)
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsInvalid reports whether err comes from a result that failed decoding or validation
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidResult)
}

// Run executes the backend operation matching the job's enrichment type and
// validates the result against its output schema.
func Run(ctx context.Context, b Backend, job *model.Job) (*model.JobOutput, error) {
	in := job.InputData
	if in == nil || in.Kind != job.EnrichmentType {
		return nil, fmt.Errorf("job %s has no %s input", job.ID, job.EnrichmentType)
	}

	out := &model.JobOutput{Kind: job.EnrichmentType}
	var err error
	switch job.EnrichmentType {
	case model.EnrichmentAudioFeatures:
		out.Audio, err = b.AnalyzeAudio(ctx, in.Audio.AudioURI)
	case model.EnrichmentEmbeddings:
		out.Embedding, err = b.GenerateEmbedding(ctx, job.EntityType, job.EntityID, in.Embedding.Content, in.Embedding.EmbeddingType)
	case model.EnrichmentGenreClassification:
		out.Genre, err = b.ClassifyGenre(ctx, in.Genre.AudioURI, in.Genre.Metadata)
	case model.EnrichmentMoodAnalysis:
		out.Mood, err = b.AnalyzeMood(ctx, in.Mood.AudioURI, in.Mood.Lyrics)
	case model.EnrichmentSimilarity:
		limit := in.Similarity.Limit
		if limit <= 0 {
			limit = defaultSimilarLimit
		}
		out.Similarity, err = b.FindSimilarTracks(ctx, in.Similarity.TrackID, limit)
	default:
		return nil, fmt.Errorf("unknown enrichment type %q", job.EnrichmentType)
	}
	if err != nil {
		return nil, err
	}

	if err := model.ValidateOutput(out); err != nil {
		return nil, fmt.Errorf("%w: %s from %s: %v", ErrInvalidResult, job.EnrichmentType, b.Name(), err)
	}
	return out, nil
}
