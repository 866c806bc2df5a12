package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/model"
)

// StatusError is a non-2xx answer from the analysis service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis service error (status %d): %s", e.StatusCode, e.Body)
}

// RemoteBackend delegates analysis to the HTTP analysis service
type RemoteBackend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type audioRequest struct {
	AudioURI string `json:"audio_uri"`
}

type audioResponse struct {
	Tempo            float64 `json:"tempo"`
	Key              string  `json:"key"`
	Mode             string  `json:"mode"`
	Energy           float64 `json:"energy"`
	Danceability     float64 `json:"danceability"`
	Valence          float64 `json:"valence"`
	Loudness         float64 `json:"loudness"`
	Speechiness      float64 `json:"speechiness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Acousticness     float64 `json:"acousticness"`
	Liveness         float64 `json:"liveness"`
	TimeSignature    int     `json:"time_signature"`
	DurationMs       int     `json:"duration_ms"`
}

type embeddingRequest struct {
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Content       string `json:"content"`
	EmbeddingType string `json:"embedding_type"`
}

type embeddingResponse struct {
	Vector       []float64 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	Dimensions   int       `json:"dimensions"`
}

type genreRequest struct {
	AudioURI string            `json:"audio_uri"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type labelScore struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type genreResponse struct {
	Genres          []labelScore `json:"genres"`
	PrimaryGenre    string       `json:"primary_genre"`
	Subgenres       []string     `json:"subgenres"`
	ConfidenceScore float64      `json:"confidence_score"`
}

type moodRequest struct {
	AudioURI string `json:"audio_uri"`
	Lyrics   string `json:"lyrics,omitempty"`
}

type moodResponse struct {
	PrimaryMood      string       `json:"primary_mood"`
	Moods            []labelScore `json:"moods"`
	EnergyLevel      string       `json:"energy_level"`
	EmotionalValence string       `json:"emotional_valence"`
	ArousalLevel     string       `json:"arousal_level"`
}

type similarTracksRequest struct {
	TrackID string `json:"track_id"`
	Limit   int    `json:"limit"`
}

type similarTracksResponse struct {
	SimilarTracks []struct {
		TrackID         string  `json:"track_id"`
		SimilarityScore float64 `json:"similarity_score"`
		SimilarityType  string  `json:"similarity_type"`
	} `json:"similar_tracks"`
	Clusters []struct {
		ClusterID string   `json:"cluster_id"`
		Label     string   `json:"label"`
		TrackIDs  []string `json:"track_ids"`
	} `json:"clusters"`
}

type similarEmbeddingRequest struct {
	Vector []float64 `json:"vector"`
	Limit  int       `json:"limit"`
}

type similarEmbeddingResponse struct {
	Matches []struct {
		EntityType string  `json:"entity_type"`
		EntityID   string  `json:"entity_id"`
		Similarity float64 `json:"similarity"`
	} `json:"matches"`
}

// NewRemoteBackend creates a client for the analysis service. The client
// timeout is an upper bound; callers pass tighter per-operation deadlines
// through the context.
func NewRemoteBackend(cfg *config.AnalysisConfig) *RemoteBackend {
	return &RemoteBackend{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

func (c *RemoteBackend) Name() string { return "remote" }

// IsConfigured returns true if the client has valid configuration
func (c *RemoteBackend) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *RemoteBackend) AnalyzeAudio(ctx context.Context, audioURI string) (*model.AudioAnalysis, error) {
	var resp audioResponse
	if err := c.post(ctx, "/audio/analyze", &audioRequest{AudioURI: audioURI}, &resp); err != nil {
		return nil, err
	}
	return &model.AudioAnalysis{
		Tempo:            resp.Tempo,
		Key:              model.PitchClass(resp.Key),
		Mode:             model.Mode(strings.ToLower(resp.Mode)),
		Energy:           resp.Energy,
		Danceability:     resp.Danceability,
		Valence:          resp.Valence,
		Loudness:         resp.Loudness,
		Speechiness:      resp.Speechiness,
		Instrumentalness: resp.Instrumentalness,
		Acousticness:     resp.Acousticness,
		Liveness:         resp.Liveness,
		TimeSignature:    resp.TimeSignature,
		DurationMs:       resp.DurationMs,
	}, nil
}

func (c *RemoteBackend) GenerateEmbedding(ctx context.Context, entityType model.EntityType, entityID, content string, embeddingType model.EmbeddingType) (*model.Embedding, error) {
	var resp embeddingResponse
	req := &embeddingRequest{
		EntityType:    string(entityType),
		EntityID:      entityID,
		Content:       content,
		EmbeddingType: string(embeddingType),
	}
	if err := c.post(ctx, "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	return &model.Embedding{
		EntityType:    entityType,
		EntityID:      entityID,
		EmbeddingType: embeddingType,
		Vector:        resp.Vector,
		ModelVersion:  resp.ModelVersion,
		Dimensions:    resp.Dimensions,
	}, nil
}

func (c *RemoteBackend) ClassifyGenre(ctx context.Context, audioURI string, metadata map[string]string) (*model.GenreClassification, error) {
	var resp genreResponse
	if err := c.post(ctx, "/genre/classify", &genreRequest{AudioURI: audioURI, Metadata: metadata}, &resp); err != nil {
		return nil, err
	}
	out := &model.GenreClassification{
		Genres:          make([]model.GenreScore, 0, len(resp.Genres)),
		PrimaryGenre:    resp.PrimaryGenre,
		Subgenres:       resp.Subgenres,
		ConfidenceScore: resp.ConfidenceScore,
	}
	for _, g := range resp.Genres {
		out.Genres = append(out.Genres, model.GenreScore{Name: g.Name, Confidence: g.Confidence})
	}
	if out.Subgenres == nil {
		out.Subgenres = []string{}
	}
	return out, nil
}

func (c *RemoteBackend) AnalyzeMood(ctx context.Context, audioURI, lyrics string) (*model.MoodAnalysis, error) {
	var resp moodResponse
	if err := c.post(ctx, "/mood/analyze", &moodRequest{AudioURI: audioURI, Lyrics: lyrics}, &resp); err != nil {
		return nil, err
	}
	out := &model.MoodAnalysis{
		PrimaryMood:      resp.PrimaryMood,
		Moods:            make([]model.MoodScore, 0, len(resp.Moods)),
		EnergyLevel:      model.EnergyLevel(resp.EnergyLevel),
		EmotionalValence: model.EmotionalValence(resp.EmotionalValence),
		ArousalLevel:     model.ArousalLevel(resp.ArousalLevel),
	}
	for _, m := range resp.Moods {
		out.Moods = append(out.Moods, model.MoodScore{Name: m.Name, Confidence: m.Confidence})
	}
	return out, nil
}

// FindSimilarTracks drops the seed from the answer, orders it by score and
// caps it at limit.
func (c *RemoteBackend) FindSimilarTracks(ctx context.Context, trackID string, limit int) (*model.SimilarityAnalysis, error) {
	var resp similarTracksResponse
	if err := c.post(ctx, "/similarity/tracks", &similarTracksRequest{TrackID: trackID, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	out := &model.SimilarityAnalysis{
		SeedTrackID:   trackID,
		SimilarTracks: make([]model.SimilarTrack, 0, len(resp.SimilarTracks)),
		Clusters:      make([]model.TrackCluster, 0, len(resp.Clusters)),
	}
	for _, t := range resp.SimilarTracks {
		if t.TrackID == trackID {
			continue
		}
		out.SimilarTracks = append(out.SimilarTracks, model.SimilarTrack{
			TrackID:         t.TrackID,
			SimilarityScore: t.SimilarityScore,
			SimilarityType:  model.SimilarityType(t.SimilarityType),
		})
	}
	sortTracks(out.SimilarTracks)
	if limit > 0 && len(out.SimilarTracks) > limit {
		out.SimilarTracks = out.SimilarTracks[:limit]
	}
	for _, cl := range resp.Clusters {
		out.Clusters = append(out.Clusters, model.TrackCluster{ClusterID: cl.ClusterID, Label: cl.Label, TrackIDs: cl.TrackIDs})
	}
	return out, nil
}

func (c *RemoteBackend) FindSimilarByEmbedding(ctx context.Context, vector []float64, limit int) ([]model.EmbeddingMatch, error) {
	var resp similarEmbeddingResponse
	if err := c.post(ctx, "/similarity/embedding", &similarEmbeddingRequest{Vector: vector, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	matches := make([]model.EmbeddingMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, model.EmbeddingMatch{
			EntityType: model.EntityType(m.EntityType),
			EntityID:   m.EntityID,
			Similarity: m.Similarity,
		})
	}
	sortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// HealthCheck checks if the analysis service is available
func (c *RemoteBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analysis service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// post sends a POST request with JSON body and parses the response.
// Network errors, timeouts, 429 and 5xx answers are transient.
func (c *RemoteBackend) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to send request: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", ErrTransient, statusErr)
		}
		return statusErr
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", ErrInvalidResult, err)
	}

	return nil
}

// StatusCode extracts the HTTP status of a failed remote call, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
