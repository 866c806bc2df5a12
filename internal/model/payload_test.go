package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobJSON_OutputIsFlattened(t *testing.T) {
	job := &Job{
		ID:             "job-1",
		EntityType:     EntityTrack,
		EntityID:       "7",
		EnrichmentType: EnrichmentMoodAnalysis,
		Status:         JobStatusCompleted,
		Priority:       DefaultPriority,
		InputData:      &JobInput{Kind: EnrichmentMoodAnalysis, Mood: &MoodInput{AudioURI: "s3://a.mp3"}},
		OutputData: &JobOutput{Kind: EnrichmentMoodAnalysis, Mood: &MoodAnalysis{
			PrimaryMood:      "happy",
			EnergyLevel:      EnergyHigh,
			EmotionalValence: ValencePositive,
			ArousalLevel:     ArousalEnergetic,
		}},
		CreatedAt:  time.Now().UTC(),
		MaxRetries: 2,
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	output := raw["outputData"].(map[string]interface{})
	assert.Equal(t, "happy", output["primaryMood"])
	input := raw["inputData"].(map[string]interface{})
	assert.Equal(t, "s3://a.mp3", input["audioUri"])

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.OutputData)
	assert.Equal(t, EnrichmentMoodAnalysis, decoded.OutputData.Kind)
	assert.Equal(t, "happy", decoded.OutputData.Mood.PrimaryMood)
	assert.Equal(t, "s3://a.mp3", decoded.InputData.Mood.AudioURI)
}

func TestJobJSON_PendingHasNoOutput(t *testing.T) {
	job := &Job{
		ID:             "job-2",
		EnrichmentType: EnrichmentSimilarity,
		Status:         JobStatusPending,
		InputData:      &JobInput{Kind: EnrichmentSimilarity, Similarity: &SimilarityInput{TrackID: "42", Limit: 5}},
	}
	data, err := json.Marshal(job)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "outputData")

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.OutputData)
	assert.Equal(t, 5, decoded.InputData.Similarity.Limit)
}

func TestDecodeInput_UnknownType(t *testing.T) {
	_, err := DecodeInput("waveform", []byte(`{}`))
	assert.Error(t, err)
}

func TestValidateOutput(t *testing.T) {
	valid := &AudioAnalysis{
		Tempo: 120, Key: PitchA, Mode: ModeMinor, Energy: 0.7, Danceability: 0.6,
		Valence: 0.4, Loudness: -7.5, Speechiness: 0.05, Instrumentalness: 0.1,
		Acousticness: 0.2, Liveness: 0.1, TimeSignature: 4, DurationMs: 200000,
	}
	assert.NoError(t, ValidateOutput(&JobOutput{Kind: EnrichmentAudioFeatures, Audio: valid}))

	bad := *valid
	bad.Energy = 1.4
	assert.Error(t, ValidateOutput(&JobOutput{Kind: EnrichmentAudioFeatures, Audio: &bad}))

	bad = *valid
	bad.Key = "H"
	assert.Error(t, ValidateOutput(&JobOutput{Kind: EnrichmentAudioFeatures, Audio: &bad}))

	assert.Error(t, ValidateOutput(&JobOutput{Kind: EnrichmentAudioFeatures}))
}

func TestValidateOutput_GenrePrimaryMustBeBest(t *testing.T) {
	genre := &GenreClassification{
		Genres:          []GenreScore{{Name: "rock", Confidence: 0.4}, {Name: "pop", Confidence: 0.9}},
		PrimaryGenre:    "rock",
		ConfidenceScore: 0.9,
	}
	assert.Error(t, ValidateOutput(&JobOutput{Kind: EnrichmentGenreClassification, Genre: genre}))

	genre.PrimaryGenre = "pop"
	assert.NoError(t, ValidateOutput(&JobOutput{Kind: EnrichmentGenreClassification, Genre: genre}))
}

func TestValidateOutput_Similarity(t *testing.T) {
	sim := &SimilarityAnalysis{
		SeedTrackID: "42",
		SimilarTracks: []SimilarTrack{
			{TrackID: "1", SimilarityScore: 0.9, SimilarityType: SimilarityAcoustic},
			{TrackID: "2", SimilarityScore: 0.5, SimilarityType: SimilaritySemantic},
		},
	}
	assert.NoError(t, ValidateOutput(&JobOutput{Kind: EnrichmentSimilarity, Similarity: sim}))

	sim.SimilarTracks[1].TrackID = "42"
	assert.Error(t, ValidateOutput(&JobOutput{Kind: EnrichmentSimilarity, Similarity: sim}))

	sim.SimilarTracks[1].TrackID = "2"
	sim.SimilarTracks[1].SimilarityScore = 0.95
	assert.Error(t, ValidateOutput(&JobOutput{Kind: EnrichmentSimilarity, Similarity: sim}))
}

func TestValidateOutput_EmbeddingDimensions(t *testing.T) {
	emb := &Embedding{Vector: []float64{0.1, 0.2}, ModelVersion: "v1", Dimensions: 3}
	assert.Error(t, ValidateOutput(&JobOutput{Kind: EnrichmentEmbeddings, Embedding: emb}))
	emb.Dimensions = 2
	assert.NoError(t, ValidateOutput(&JobOutput{Kind: EnrichmentEmbeddings, Embedding: emb}))
}

func TestJobIsTerminal(t *testing.T) {
	assert.False(t, (&Job{Status: JobStatusPending}).IsTerminal())
	assert.True(t, (&Job{Status: JobStatusCompleted}).IsTerminal())
	assert.True(t, (&Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}).IsTerminal())
}
