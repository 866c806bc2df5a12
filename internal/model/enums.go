package model

// Entity types
type EntityType string

const (
	EntityTrack     EntityType = "track"
	EntityVideo     EntityType = "video"
	EntityArtist    EntityType = "artist"
	EntityRelease   EntityType = "release"
	EntityPodcast   EntityType = "podcast"
	EntityEpisode   EntityType = "episode"
	EntityBook      EntityType = "book"
	EntityAudiobook EntityType = "audiobook"
)

var ValidEntityTypes = []EntityType{
	EntityTrack, EntityVideo, EntityArtist, EntityRelease,
	EntityPodcast, EntityEpisode, EntityBook, EntityAudiobook,
}

func (t EntityType) IsValid() bool {
	for _, v := range ValidEntityTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Enrichment types
type EnrichmentType string

const (
	EnrichmentAudioFeatures       EnrichmentType = "audio_features"
	EnrichmentEmbeddings          EnrichmentType = "embeddings"
	EnrichmentGenreClassification EnrichmentType = "genre_classification"
	EnrichmentMoodAnalysis        EnrichmentType = "mood_analysis"
	EnrichmentSimilarity          EnrichmentType = "similarity"
)

var ValidEnrichmentTypes = []EnrichmentType{
	EnrichmentAudioFeatures, EnrichmentEmbeddings, EnrichmentGenreClassification,
	EnrichmentMoodAnalysis, EnrichmentSimilarity,
}

func (t EnrichmentType) IsValid() bool {
	for _, v := range ValidEnrichmentTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Pitch classes
type PitchClass string

const (
	PitchC      PitchClass = "C"
	PitchCSharp PitchClass = "C#"
	PitchD      PitchClass = "D"
	PitchDSharp PitchClass = "D#"
	PitchE      PitchClass = "E"
	PitchF      PitchClass = "F"
	PitchFSharp PitchClass = "F#"
	PitchG      PitchClass = "G"
	PitchGSharp PitchClass = "G#"
	PitchA      PitchClass = "A"
	PitchASharp PitchClass = "A#"
	PitchB      PitchClass = "B"
)

var PitchClasses = []PitchClass{
	PitchC, PitchCSharp, PitchD, PitchDSharp, PitchE, PitchF,
	PitchFSharp, PitchG, PitchGSharp, PitchA, PitchASharp, PitchB,
}

// Modes
type Mode string

const (
	ModeMajor Mode = "major"
	ModeMinor Mode = "minor"
)

// Mood scales
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

type EmotionalValence string

const (
	ValenceNegative EmotionalValence = "negative"
	ValenceNeutral  EmotionalValence = "neutral"
	ValencePositive EmotionalValence = "positive"
)

type ArousalLevel string

const (
	ArousalCalm      ArousalLevel = "calm"
	ArousalModerate  ArousalLevel = "moderate"
	ArousalEnergetic ArousalLevel = "energetic"
)

// Embedding types
type EmbeddingType string

const (
	EmbeddingAudio    EmbeddingType = "audio"
	EmbeddingText     EmbeddingType = "text"
	EmbeddingMetadata EmbeddingType = "metadata"
	EmbeddingCombined EmbeddingType = "combined"
)

// Similarity types
type SimilarityType string

const (
	SimilarityAcoustic      SimilarityType = "acoustic"
	SimilaritySemantic      SimilarityType = "semantic"
	SimilarityCollaborative SimilarityType = "collaborative"
)

// Update feed operations
type UpdateOp string

const (
	UpdateOpUpsert UpdateOp = "upsert"
	UpdateOpDelete UpdateOp = "delete"
)

// Rights violation reasons
type RightsReason string

const (
	RightsExplicitNotAllowed RightsReason = "explicit_not_allowed"
	RightsCountryBlocked     RightsReason = "country_blocked"
	RightsCountryNotLicensed RightsReason = "country_not_licensed"
	RightsNotFound           RightsReason = "not_found"
)
