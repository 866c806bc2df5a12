package model

import (
	"encoding/json"
	"fmt"
)

// AudioInput is the input of audio_features jobs
type AudioInput struct {
	AudioURI string `json:"audioUri" validate:"required"`
}

// EmbeddingInput is the input of embeddings jobs
type EmbeddingInput struct {
	Content       string        `json:"content" validate:"required"`
	EmbeddingType EmbeddingType `json:"embeddingType" validate:"required,oneof=audio text metadata combined"`
}

// GenreInput is the input of genre_classification jobs
type GenreInput struct {
	AudioURI string            `json:"audioUri" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MoodInput is the input of mood_analysis jobs
type MoodInput struct {
	AudioURI string `json:"audioUri" validate:"required"`
	Lyrics   string `json:"lyrics,omitempty"`
}

// SimilarityInput is the input of similarity jobs
type SimilarityInput struct {
	TrackID string `json:"trackId" validate:"required"`
	Limit   int    `json:"limit" validate:"gte=1,lte=100"`
}

// JobInput is the typed input of a job. Exactly one variant matching Kind is set.
type JobInput struct {
	Kind       EnrichmentType
	Audio      *AudioInput
	Embedding  *EmbeddingInput
	Genre      *GenreInput
	Mood       *MoodInput
	Similarity *SimilarityInput
}

// Variant returns the active variant
func (in *JobInput) Variant() interface{} {
	if in == nil {
		return nil
	}
	switch in.Kind {
	case EnrichmentAudioFeatures:
		return in.Audio
	case EnrichmentEmbeddings:
		return in.Embedding
	case EnrichmentGenreClassification:
		return in.Genre
	case EnrichmentMoodAnalysis:
		return in.Mood
	case EnrichmentSimilarity:
		return in.Similarity
	}
	return nil
}

// MarshalJSON encodes the active variant only
func (in JobInput) MarshalJSON() ([]byte, error) {
	v := in.Variant()
	if isNilVariant(v) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// DecodeInput decodes raw JSON into the input variant for kind.
// Empty input yields a zero-valued variant.
func DecodeInput(kind EnrichmentType, raw []byte) (*JobInput, error) {
	in := &JobInput{Kind: kind}
	var target interface{}
	switch kind {
	case EnrichmentAudioFeatures:
		in.Audio = &AudioInput{}
		target = in.Audio
	case EnrichmentEmbeddings:
		in.Embedding = &EmbeddingInput{}
		target = in.Embedding
	case EnrichmentGenreClassification:
		in.Genre = &GenreInput{}
		target = in.Genre
	case EnrichmentMoodAnalysis:
		in.Mood = &MoodInput{}
		target = in.Mood
	case EnrichmentSimilarity:
		in.Similarity = &SimilarityInput{}
		target = in.Similarity
	default:
		return nil, fmt.Errorf("unknown enrichment type %q", kind)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return in, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s input: %w", kind, err)
	}
	return in, nil
}

// JobOutput is the typed result of a completed job
type JobOutput struct {
	Kind       EnrichmentType
	Audio      *AudioAnalysis
	Embedding  *Embedding
	Genre      *GenreClassification
	Mood       *MoodAnalysis
	Similarity *SimilarityAnalysis
}

// Variant returns the active variant
func (out *JobOutput) Variant() interface{} {
	if out == nil {
		return nil
	}
	switch out.Kind {
	case EnrichmentAudioFeatures:
		return out.Audio
	case EnrichmentEmbeddings:
		return out.Embedding
	case EnrichmentGenreClassification:
		return out.Genre
	case EnrichmentMoodAnalysis:
		return out.Mood
	case EnrichmentSimilarity:
		return out.Similarity
	}
	return nil
}

// MarshalJSON encodes the active variant only
func (out JobOutput) MarshalJSON() ([]byte, error) {
	v := out.Variant()
	if isNilVariant(v) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// DecodeOutput decodes raw JSON into the output variant for kind
func DecodeOutput(kind EnrichmentType, raw []byte) (*JobOutput, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	out := &JobOutput{Kind: kind}
	var target interface{}
	switch kind {
	case EnrichmentAudioFeatures:
		out.Audio = &AudioAnalysis{}
		target = out.Audio
	case EnrichmentEmbeddings:
		out.Embedding = &Embedding{}
		target = out.Embedding
	case EnrichmentGenreClassification:
		out.Genre = &GenreClassification{}
		target = out.Genre
	case EnrichmentMoodAnalysis:
		out.Mood = &MoodAnalysis{}
		target = out.Mood
	case EnrichmentSimilarity:
		out.Similarity = &SimilarityAnalysis{}
		target = out.Similarity
	default:
		return nil, fmt.Errorf("unknown enrichment type %q", kind)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s output: %w", kind, err)
	}
	return out, nil
}

func isNilVariant(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *AudioInput:
		return t == nil
	case *EmbeddingInput:
		return t == nil
	case *GenreInput:
		return t == nil
	case *MoodInput:
		return t == nil
	case *SimilarityInput:
		return t == nil
	case *AudioAnalysis:
		return t == nil
	case *Embedding:
		return t == nil
	case *GenreClassification:
		return t == nil
	case *MoodAnalysis:
		return t == nil
	case *SimilarityAnalysis:
		return t == nil
	}
	return false
}
