package analysis

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/model"
)

const (
	defaultDimensions   = 128
	defaultModelVersion = "local-v1"
)

var (
	genrePool = []string{
		"pop", "rock", "electronic", "hip-hop", "jazz", "classical",
		"r&b", "folk", "metal", "ambient", "latin", "country",
	}
	subgenrePool = map[string][]string{
		"pop":        {"synth-pop", "dream pop", "indie pop"},
		"rock":       {"indie rock", "alt rock", "post-rock"},
		"electronic": {"house", "techno", "synthwave"},
		"hip-hop":    {"boom bap", "trap", "lo-fi"},
		"jazz":       {"bebop", "fusion", "smooth jazz"},
		"classical":  {"baroque", "romantic", "minimalism"},
		"r&b":        {"neo soul", "contemporary r&b"},
		"folk":       {"indie folk", "americana"},
		"metal":      {"doom", "progressive metal"},
		"ambient":    {"drone", "dark ambient"},
		"latin":      {"reggaeton", "bossa nova"},
		"country":    {"outlaw country", "bluegrass"},
	}
	moodPool = []string{
		"happy", "melancholic", "energetic", "calm", "romantic",
		"dark", "uplifting", "nostalgic", "aggressive", "dreamy",
	}
	timeSignatures = []int{3, 4, 4, 4, 4, 6}
)

type indexKey struct {
	entityType    model.EntityType
	entityID      string
	embeddingType model.EmbeddingType
}

// LocalBackend produces plausible, schema-conformant results without any
// I/O. Results are seeded from the inputs, so identical calls return
// identical results.
type LocalBackend struct {
	delay        time.Duration
	dimensions   int
	modelVersion string

	mu    sync.RWMutex
	index map[indexKey][]float64
}

func NewLocalBackend(cfg *config.AnalysisConfig) *LocalBackend {
	b := &LocalBackend{
		delay:        cfg.LocalDelay,
		dimensions:   cfg.Dimensions,
		modelVersion: cfg.ModelVersion,
		index:        make(map[indexKey][]float64),
	}
	if b.dimensions <= 0 {
		b.dimensions = defaultDimensions
	}
	if b.modelVersion == "" {
		b.modelVersion = defaultModelVersion
	}
	return b
}

func (b *LocalBackend) Name() string { return "local" }

// seeded returns a generator whose sequence depends only on parts
func seeded(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// wait simulates the latency of real analysis
func (b *LocalBackend) wait(ctx context.Context) error {
	if b.delay <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil
	}
	t := time.NewTimer(b.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
	case <-t.C:
		return nil
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (b *LocalBackend) AnalyzeAudio(ctx context.Context, audioURI string) (*model.AudioAnalysis, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	r := seeded("audio", audioURI)

	mode := model.ModeMajor
	if r.Intn(2) == 1 {
		mode = model.ModeMinor
	}
	return &model.AudioAnalysis{
		Tempo:            round(60+r.Float64()*120, 1),
		Key:              model.PitchClasses[r.Intn(len(model.PitchClasses))],
		Mode:             mode,
		Energy:           round(r.Float64(), 3),
		Danceability:     round(r.Float64(), 3),
		Valence:          round(r.Float64(), 3),
		Loudness:         round(-30+r.Float64()*27, 2),
		Speechiness:      round(r.Float64()*0.5, 3),
		Instrumentalness: round(r.Float64(), 3),
		Acousticness:     round(r.Float64(), 3),
		Liveness:         round(r.Float64()*0.6, 3),
		TimeSignature:    timeSignatures[r.Intn(len(timeSignatures))],
		DurationMs:       120000 + r.Intn(240000),
	}, nil
}

// GenerateEmbedding returns a unit vector and remembers it for
// FindSimilarByEmbedding.
func (b *LocalBackend) GenerateEmbedding(ctx context.Context, entityType model.EntityType, entityID, content string, embeddingType model.EmbeddingType) (*model.Embedding, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	r := seeded("embedding", string(entityType), entityID, content, string(embeddingType), b.modelVersion)

	vec := make([]float64, b.dimensions)
	var norm float64
	for i := range vec {
		vec[i] = r.NormFloat64()
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}

	b.mu.Lock()
	b.index[indexKey{entityType: entityType, entityID: entityID, embeddingType: embeddingType}] = vec
	b.mu.Unlock()

	out := make([]float64, len(vec))
	copy(out, vec)
	return &model.Embedding{
		EntityType:    entityType,
		EntityID:      entityID,
		EmbeddingType: embeddingType,
		Vector:        out,
		ModelVersion:  b.modelVersion,
		Dimensions:    b.dimensions,
	}, nil
}

func (b *LocalBackend) ClassifyGenre(ctx context.Context, audioURI string, metadata map[string]string) (*model.GenreClassification, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	r := seeded("genre", audioURI, metadata["genre"])

	var genres []model.GenreScore
	if hint := metadata["genre"]; hint != "" {
		genres = append(genres, model.GenreScore{Name: hint, Confidence: round(0.9+r.Float64()*0.09, 3)})
	}
	for _, i := range r.Perm(len(genrePool)) {
		if len(genres) == 3 {
			break
		}
		if len(genres) > 0 && genrePool[i] == genres[0].Name {
			continue
		}
		genres = append(genres, model.GenreScore{Name: genrePool[i], Confidence: round(0.2+r.Float64()*0.65, 3)})
	}
	sort.SliceStable(genres, func(i, j int) bool {
		return genres[i].Confidence > genres[j].Confidence
	})

	primary := genres[0]
	subgenres := []string{}
	if pool := subgenrePool[primary.Name]; len(pool) > 0 {
		subgenres = append(subgenres, pool[r.Intn(len(pool))])
	}
	return &model.GenreClassification{
		Genres:          genres,
		PrimaryGenre:    primary.Name,
		Subgenres:       subgenres,
		ConfidenceScore: primary.Confidence,
	}, nil
}

func (b *LocalBackend) AnalyzeMood(ctx context.Context, audioURI, lyrics string) (*model.MoodAnalysis, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	r := seeded("mood", audioURI, lyrics)

	moods := make([]model.MoodScore, 0, 3)
	for _, i := range r.Perm(len(moodPool))[:3] {
		moods = append(moods, model.MoodScore{Name: moodPool[i], Confidence: round(0.3+r.Float64()*0.7, 3)})
	}
	sort.SliceStable(moods, func(i, j int) bool {
		return moods[i].Confidence > moods[j].Confidence
	})

	energy := []model.EnergyLevel{model.EnergyLow, model.EnergyMedium, model.EnergyHigh}
	valence := []model.EmotionalValence{model.ValenceNegative, model.ValenceNeutral, model.ValencePositive}
	arousal := []model.ArousalLevel{model.ArousalCalm, model.ArousalModerate, model.ArousalEnergetic}
	return &model.MoodAnalysis{
		PrimaryMood:      moods[0].Name,
		Moods:            moods,
		EnergyLevel:      energy[r.Intn(len(energy))],
		EmotionalValence: valence[r.Intn(len(valence))],
		ArousalLevel:     arousal[r.Intn(len(arousal))],
	}, nil
}

// FindSimilarTracks ranks indexed track embeddings against the seed when the
// seed has one, and otherwise synthesizes neighbours.
func (b *LocalBackend) FindSimilarTracks(ctx context.Context, trackID string, limit int) (*model.SimilarityAnalysis, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	tracks := b.indexedNeighbours(trackID, limit)
	if tracks == nil {
		tracks = syntheticNeighbours(trackID, limit)
	}

	result := &model.SimilarityAnalysis{SeedTrackID: trackID, SimilarTracks: tracks, Clusters: []model.TrackCluster{}}
	if len(tracks) > 0 {
		r := seeded("cluster", trackID)
		ids := make([]string, 0, len(tracks))
		for _, t := range tracks {
			ids = append(ids, t.TrackID)
		}
		result.Clusters = append(result.Clusters, model.TrackCluster{
			ClusterID: fmt.Sprintf("cl-%08x", r.Uint32()),
			Label:     genrePool[r.Intn(len(genrePool))],
			TrackIDs:  ids,
		})
	}
	return result, nil
}

// seedPreference picks the seed vector when a track is indexed under several
// embedding types. Candidates are only ranked in the seed's vector space.
var seedPreference = []model.EmbeddingType{
	model.EmbeddingCombined,
	model.EmbeddingAudio,
	model.EmbeddingText,
	model.EmbeddingMetadata,
}

func (b *LocalBackend) indexedNeighbours(trackID string, limit int) []model.SimilarTrack {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var (
		seed     []float64
		seedType model.EmbeddingType
	)
	for _, et := range seedPreference {
		if v, ok := b.index[indexKey{entityType: model.EntityTrack, entityID: trackID, embeddingType: et}]; ok {
			seed, seedType = v, et
			break
		}
	}
	if seed == nil {
		return nil
	}

	best := make(map[string]float64)
	for k, v := range b.index {
		if k.entityType != model.EntityTrack || k.embeddingType != seedType || k.entityID == trackID || len(v) != len(seed) {
			continue
		}
		// cosine lies in [-1,1], scores are reported in [0,1]
		score := round((cosine(seed, v)+1)/2, 4)
		if prev, ok := best[k.entityID]; !ok || score > prev {
			best[k.entityID] = score
		}
	}

	tracks := make([]model.SimilarTrack, 0, len(best))
	for id, score := range best {
		tracks = append(tracks, model.SimilarTrack{TrackID: id, SimilarityScore: score, SimilarityType: model.SimilaritySemantic})
	}
	sortTracks(tracks)
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks
}

func syntheticNeighbours(trackID string, limit int) []model.SimilarTrack {
	r := seeded("similar", trackID)
	types := []model.SimilarityType{model.SimilarityAcoustic, model.SimilaritySemantic, model.SimilarityCollaborative}

	seen := map[string]bool{trackID: true}
	tracks := make([]model.SimilarTrack, 0, limit)
	score := 0.95 + r.Float64()*0.04
	for len(tracks) < limit {
		id := fmt.Sprintf("trk-%06d", r.Intn(1000000))
		if seen[id] {
			continue
		}
		seen[id] = true
		tracks = append(tracks, model.SimilarTrack{
			TrackID:         id,
			SimilarityScore: round(score, 4),
			SimilarityType:  types[r.Intn(len(types))],
		})
		score = math.Max(0, score-r.Float64()*0.05)
	}
	sortTracks(tracks)
	return tracks
}

func sortTracks(tracks []model.SimilarTrack) {
	sort.SliceStable(tracks, func(i, j int) bool {
		if tracks[i].SimilarityScore != tracks[j].SimilarityScore {
			return tracks[i].SimilarityScore > tracks[j].SimilarityScore
		}
		return tracks[i].TrackID < tracks[j].TrackID
	})
}

// FindSimilarByEmbedding ranks every indexed embedding of the same
// dimensionality by cosine similarity to vector.
func (b *LocalBackend) FindSimilarByEmbedding(ctx context.Context, vector []float64, limit int) ([]model.EmbeddingMatch, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	b.mu.RLock()
	matches := make([]model.EmbeddingMatch, 0, len(b.index))
	for k, v := range b.index {
		if len(v) != len(vector) {
			continue
		}
		matches = append(matches, model.EmbeddingMatch{
			EntityType: k.entityType,
			EntityID:   k.entityID,
			Similarity: round(cosine(vector, v), 6),
		})
	}
	b.mu.RUnlock()

	sortMatches(matches)
	matches = dedupeMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func sortMatches(matches []model.EmbeddingMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		return a.EntityID < b.EntityID
	})
}

// dedupeMatches keeps the best match per entity. matches must be sorted.
func dedupeMatches(matches []model.EmbeddingMatch) []model.EmbeddingMatch {
	type entity struct {
		typ model.EntityType
		id  string
	}
	seen := make(map[entity]bool, len(matches))
	out := matches[:0]
	for _, m := range matches {
		k := entity{typ: m.EntityType, id: m.EntityID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	return out
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
