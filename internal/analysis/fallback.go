package analysis

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/model"
)

// FallbackBackend calls the primary backend through a circuit breaker. While
// the circuit is open, calls go to the fallback backend instead of failing.
// Only transient errors count against the primary.
type FallbackBackend struct {
	primary  Backend
	fallback Backend
	cb       *gobreaker.CircuitBreaker
	logger   *logrus.Entry
}

func NewFallbackBackend(primary, fallback Backend, cfg config.BreakerConfig, logger *logrus.Logger) *FallbackBackend {
	log := logger.WithField("component", "analysis")
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        primary.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"backend": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Analysis circuit breaker changed state")
		},
	})

	return &FallbackBackend{
		primary:  primary,
		fallback: fallback,
		cb:       cb,
		logger:   log,
	}
}

func (f *FallbackBackend) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

// State reports the breaker state, for health output and tests
func (f *FallbackBackend) State() gobreaker.State {
	return f.cb.State()
}

// HealthCheck checks the primary backend when it talks to a service
func (f *FallbackBackend) HealthCheck(ctx context.Context) error {
	if hc, ok := f.primary.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func withFallback[T any](f *FallbackBackend, op string, primary, fallback func() (T, error)) (T, error) {
	res, err := f.cb.Execute(func() (interface{}, error) {
		v, err := primary()
		return v, err
	})
	if err == nil {
		return res.(T), nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		f.logger.WithField("operation", op).Debug("Circuit open, using fallback backend")
		return fallback()
	}
	var zero T
	return zero, err
}

func (f *FallbackBackend) AnalyzeAudio(ctx context.Context, audioURI string) (*model.AudioAnalysis, error) {
	return withFallback(f, "analyze_audio",
		func() (*model.AudioAnalysis, error) { return f.primary.AnalyzeAudio(ctx, audioURI) },
		func() (*model.AudioAnalysis, error) { return f.fallback.AnalyzeAudio(ctx, audioURI) },
	)
}

func (f *FallbackBackend) GenerateEmbedding(ctx context.Context, entityType model.EntityType, entityID, content string, embeddingType model.EmbeddingType) (*model.Embedding, error) {
	return withFallback(f, "generate_embedding",
		func() (*model.Embedding, error) {
			return f.primary.GenerateEmbedding(ctx, entityType, entityID, content, embeddingType)
		},
		func() (*model.Embedding, error) {
			return f.fallback.GenerateEmbedding(ctx, entityType, entityID, content, embeddingType)
		},
	)
}

func (f *FallbackBackend) ClassifyGenre(ctx context.Context, audioURI string, metadata map[string]string) (*model.GenreClassification, error) {
	return withFallback(f, "classify_genre",
		func() (*model.GenreClassification, error) { return f.primary.ClassifyGenre(ctx, audioURI, metadata) },
		func() (*model.GenreClassification, error) { return f.fallback.ClassifyGenre(ctx, audioURI, metadata) },
	)
}

func (f *FallbackBackend) AnalyzeMood(ctx context.Context, audioURI, lyrics string) (*model.MoodAnalysis, error) {
	return withFallback(f, "analyze_mood",
		func() (*model.MoodAnalysis, error) { return f.primary.AnalyzeMood(ctx, audioURI, lyrics) },
		func() (*model.MoodAnalysis, error) { return f.fallback.AnalyzeMood(ctx, audioURI, lyrics) },
	)
}

func (f *FallbackBackend) FindSimilarTracks(ctx context.Context, trackID string, limit int) (*model.SimilarityAnalysis, error) {
	return withFallback(f, "find_similar_tracks",
		func() (*model.SimilarityAnalysis, error) { return f.primary.FindSimilarTracks(ctx, trackID, limit) },
		func() (*model.SimilarityAnalysis, error) { return f.fallback.FindSimilarTracks(ctx, trackID, limit) },
	)
}

func (f *FallbackBackend) FindSimilarByEmbedding(ctx context.Context, vector []float64, limit int) ([]model.EmbeddingMatch, error) {
	return withFallback(f, "find_similar_by_embedding",
		func() ([]model.EmbeddingMatch, error) { return f.primary.FindSimilarByEmbedding(ctx, vector, limit) },
		func() ([]model.EmbeddingMatch, error) { return f.fallback.FindSimilarByEmbedding(ctx, vector, limit) },
	)
}
