package model

// AudioAnalysis holds the audio features of a single recording
type AudioAnalysis struct {
	Tempo            float64    `json:"tempo" validate:"gt=0,lte=300"` // BPM
	Key              PitchClass `json:"key" validate:"required,oneof=C C# D D# E F F# G G# A A# B"`
	Mode             Mode       `json:"mode" validate:"required,oneof=major minor"`
	Energy           float64    `json:"energy" validate:"gte=0,lte=1"`
	Danceability     float64    `json:"danceability" validate:"gte=0,lte=1"`
	Valence          float64    `json:"valence" validate:"gte=0,lte=1"`
	Loudness         float64    `json:"loudness" validate:"gte=-60,lte=5"` // dB
	Speechiness      float64    `json:"speechiness" validate:"gte=0,lte=1"`
	Instrumentalness float64    `json:"instrumentalness" validate:"gte=0,lte=1"`
	Acousticness     float64    `json:"acousticness" validate:"gte=0,lte=1"`
	Liveness         float64    `json:"liveness" validate:"gte=0,lte=1"`
	TimeSignature    int        `json:"timeSignature" validate:"gte=1,lte=12"`
	DurationMs       int        `json:"durationMs" validate:"gt=0"`
}

// Embedding is a dense vector representation of an entity
type Embedding struct {
	EntityType    EntityType    `json:"entityType,omitempty"`
	EntityID      string        `json:"entityId,omitempty"`
	EmbeddingType EmbeddingType `json:"embeddingType,omitempty"`
	Vector        []float64     `json:"vector" validate:"required,min=1"`
	ModelVersion  string        `json:"modelVersion" validate:"required"`
	Dimensions    int           `json:"dimensions" validate:"gt=0"`
}

// GenreScore is one label of a multi-label genre classification
type GenreScore struct {
	Name       string  `json:"name" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// GenreClassification holds genre labels. Confidences are independent.
type GenreClassification struct {
	Genres          []GenreScore `json:"genres" validate:"required,min=1,dive"`
	PrimaryGenre    string       `json:"primaryGenre" validate:"required"`
	Subgenres       []string     `json:"subgenres"`
	ConfidenceScore float64      `json:"confidenceScore" validate:"gte=0,lte=1"`
}

// MoodScore is one detected mood
type MoodScore struct {
	Name       string  `json:"name" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// MoodAnalysis holds the emotional profile of a recording
type MoodAnalysis struct {
	PrimaryMood      string           `json:"primaryMood" validate:"required"`
	Moods            []MoodScore      `json:"moods" validate:"dive"`
	EnergyLevel      EnergyLevel      `json:"energyLevel" validate:"required,oneof=low medium high"`
	EmotionalValence EmotionalValence `json:"emotionalValence" validate:"required,oneof=negative neutral positive"`
	ArousalLevel     ArousalLevel     `json:"arousalLevel" validate:"required,oneof=calm moderate energetic"`
}

// SimilarTrack is one neighbour of a seed track
type SimilarTrack struct {
	TrackID         string         `json:"trackId" validate:"required"`
	SimilarityScore float64        `json:"similarityScore" validate:"gte=0,lte=1"`
	SimilarityType  SimilarityType `json:"similarityType" validate:"required,oneof=acoustic semantic collaborative"`
}

// TrackCluster groups similar tracks under a label
type TrackCluster struct {
	ClusterID string   `json:"clusterId"`
	Label     string   `json:"label"`
	TrackIDs  []string `json:"trackIds"`
}

// SimilarityAnalysis holds the nearest neighbours of a seed track
type SimilarityAnalysis struct {
	SeedTrackID   string         `json:"seedTrackId,omitempty"`
	SimilarTracks []SimilarTrack `json:"similarTracks" validate:"dive"`
	Clusters      []TrackCluster `json:"clusters"`
}

// EmbeddingMatch is a result of a vector similarity search
type EmbeddingMatch struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Similarity float64    `json:"similarity"`
}
