package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateInput checks that the input variant matches kind and is complete
func ValidateInput(in *JobInput) error {
	if in == nil {
		return errors.New("input is missing")
	}
	v := in.Variant()
	if isNilVariant(v) {
		return fmt.Errorf("input for %s is missing", in.Kind)
	}
	return Validator().Struct(v)
}

// ValidateOutput checks a result against the schema of its enrichment type
func ValidateOutput(out *JobOutput) error {
	if out == nil {
		return errors.New("output is missing")
	}
	v := out.Variant()
	if isNilVariant(v) {
		return fmt.Errorf("output for %s is missing", out.Kind)
	}
	if err := Validator().Struct(v); err != nil {
		return err
	}

	switch out.Kind {
	case EnrichmentEmbeddings:
		if len(out.Embedding.Vector) != out.Embedding.Dimensions {
			return fmt.Errorf("embedding has %d values, expected %d", len(out.Embedding.Vector), out.Embedding.Dimensions)
		}
	case EnrichmentGenreClassification:
		best := out.Genre.Genres[0]
		primary := -1.0
		for _, g := range out.Genre.Genres {
			if g.Confidence > best.Confidence {
				best = g
			}
			if g.Name == out.Genre.PrimaryGenre {
				primary = g.Confidence
			}
		}
		if primary < best.Confidence {
			return fmt.Errorf("primary genre %q is not the highest-confidence genre %q", out.Genre.PrimaryGenre, best.Name)
		}
	case EnrichmentSimilarity:
		tracks := out.Similarity.SimilarTracks
		for i := range tracks {
			if out.Similarity.SeedTrackID != "" && tracks[i].TrackID == out.Similarity.SeedTrackID {
				return fmt.Errorf("similar tracks contain the seed track %q", tracks[i].TrackID)
			}
			if i > 0 && tracks[i].SimilarityScore > tracks[i-1].SimilarityScore {
				return errors.New("similar tracks are not sorted by score")
			}
		}
	}
	return nil
}
