// Package catalog is the enrichment pipeline's view of the content catalog:
// typed entity lookup, search, rights evaluation, the change feed and the
// derived-feature store the pipeline writes back into.
package catalog

import (
	"context"
	"time"

	"github.com/makeasinger/enrichment/internal/model"
)

// Gateway is the read contract of the catalog. Lookups report absence with
// ok == false; a missing entity is not an error.
type Gateway interface {
	GetTrack(ctx context.Context, id string) (*model.Track, bool)
	GetVideo(ctx context.Context, id string) (*model.Video, bool)
	GetArtist(ctx context.Context, id string) (*model.Artist, bool)
	GetRelease(ctx context.Context, id string) (*model.Release, bool)
	GetPodcast(ctx context.Context, id string) (*model.Podcast, bool)
	GetEpisode(ctx context.Context, id string) (*model.Episode, bool)
	GetBook(ctx context.Context, id string) (*model.Book, bool)
	GetAudiobook(ctx context.Context, id string) (*model.Audiobook, bool)
	Lookup(ctx context.Context, entityType model.EntityType, id string) (model.Entity, bool)

	Search(ctx context.Context, q model.SearchQuery) model.SearchResponse
	CheckRights(ctx context.Context, entityType model.EntityType, id, country string, explicitOK bool) model.RightsResult
	GetUpdates(ctx context.Context, since, until time.Time, limit int) (model.UpdatesPage, error)
	GetAudioFeatures(ctx context.Context, entityType model.EntityType, id string) (*model.AudioAnalysis, bool, error)
}

// FeatureStore holds derived enrichment output keyed by
// (entity type, entity id, feature kind). Writes overwrite by key.
type FeatureStore interface {
	Put(ctx context.Context, rec *model.FeatureRecord) error
	Get(ctx context.Context, entityType model.EntityType, id string, kind model.EnrichmentType) (*model.FeatureRecord, bool, error)
}
