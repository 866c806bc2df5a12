package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/makeasinger/enrichment/internal/catalog"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/metrics"
	"github.com/makeasinger/enrichment/internal/model"
)

const defaultSyncBatch = 100

// syncedTypes are the entity types that carry audio worth enriching
var syncedTypes = map[model.EntityType]bool{
	model.EntityTrack:   true,
	model.EntityEpisode: true,
	model.EntityVideo:   true,
}

// SyncResult summarises one pass over the catalog change feed
type SyncResult struct {
	Events      int       `json:"events"`
	JobsCreated int       `json:"jobsCreated"`
	Cursor      time.Time `json:"cursor"`
}

// Syncer follows the catalog change feed and requests enrichment for
// upserted entities. The cursor is kept in memory, so a restart replays the
// feed from the beginning.
type Syncer struct {
	catalog catalog.Gateway
	enrich  *EnrichmentService
	kinds   []model.EnrichmentType
	batch   int
	metrics *metrics.Metrics
	logger  *logrus.Entry
	now     func() time.Time

	mu     sync.Mutex
	cursor time.Time
}

func NewSyncer(gw catalog.Gateway, enrich *EnrichmentService, cfg *config.CatalogConfig, m *metrics.Metrics, logger *logrus.Logger) (*Syncer, error) {
	kinds := make([]model.EnrichmentType, 0, len(cfg.SyncKinds))
	for _, k := range cfg.SyncKinds {
		kind := model.EnrichmentType(k)
		if !kind.IsValid() {
			return nil, fmt.Errorf("unknown enrichment type %q in catalog.sync_kinds", k)
		}
		kinds = append(kinds, kind)
	}
	batch := cfg.SyncBatch
	if batch <= 0 {
		batch = defaultSyncBatch
	}
	return &Syncer{
		catalog: gw,
		enrich:  enrich,
		kinds:   kinds,
		batch:   batch,
		metrics: m,
		logger:  logger.WithField("component", "catalog_sync"),
		now:     time.Now,
	}, nil
}

// Cursor returns the position the next pass resumes from
func (s *Syncer) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// SyncOnce consumes the feed from the cursor up to now, page by page.
// Concurrent calls are serialized.
func (s *Syncer) SyncOnce(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := s.now()
	var res SyncResult
	for {
		page, err := s.catalog.GetUpdates(ctx, s.cursor, until, s.batch)
		if err != nil {
			res.Cursor = s.cursor
			return res, fmt.Errorf("failed to read catalog updates: %w", err)
		}

		for _, ev := range page.Events {
			res.Events++
			s.metrics.SyncEvent(ev.Op)
			if ev.Op != model.UpdateOpUpsert || !syncedTypes[ev.EntityType] {
				continue
			}
			res.JobsCreated += s.request(ctx, ev)
		}

		s.cursor = page.NextSince
		if len(page.Events) == 0 || !page.NextSince.Before(until) {
			break
		}
	}

	res.Cursor = s.cursor
	if res.Events > 0 {
		s.logger.WithFields(logrus.Fields{
			"events":       res.Events,
			"jobs_created": res.JobsCreated,
			"cursor":       res.Cursor,
		}).Info("Catalog sync finished")
	}
	return res, nil
}

// Run calls SyncOnce every interval until ctx is cancelled
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Error("Catalog sync failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Syncer) request(ctx context.Context, ev model.UpdateEvent) int {
	created := 0
	for _, kind := range s.kinds {
		// similarity is seeded by a track
		if kind == model.EnrichmentSimilarity && ev.EntityType != model.EntityTrack {
			continue
		}
		_, err := s.enrich.CreateJob(ctx, &model.CreateJobRequest{
			EntityType:     ev.EntityType,
			EntityID:       ev.EntityID,
			EnrichmentType: kind,
		})
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"entity_type":     ev.EntityType,
				"entity_id":       ev.EntityID,
				"enrichment_type": kind,
			}).Warn("Skipping enrichment for catalog update")
			continue
		}
		created++
	}
	return created
}
