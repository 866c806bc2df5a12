package catalog

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/makeasinger/enrichment/internal/model"
)

var ErrInvalidRange = errors.New("since must not be after until")

const (
	defaultSearchLimit  = 20
	defaultUpdatesLimit = 100
)

type entityKey struct {
	typ model.EntityType
	id  string
}

// MemoryGateway is an in-process catalog. Entities are treated as
// immutable once stored; Upsert replaces them wholesale.
type MemoryGateway struct {
	mu       sync.RWMutex
	entities map[entityKey]model.Entity
	events   []model.UpdateEvent // ordered by UpdatedAt
	features FeatureStore
	now      func() time.Time
}

// GatewayOption configures a MemoryGateway
type GatewayOption func(*MemoryGateway)

// WithClock overrides the time source used to stamp updates
func WithClock(now func() time.Time) GatewayOption {
	return func(g *MemoryGateway) {
		g.now = now
	}
}

func NewMemoryGateway(features FeatureStore, opts ...GatewayOption) *MemoryGateway {
	g := &MemoryGateway{
		entities: make(map[entityKey]model.Entity),
		features: features,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Upsert stores an entity, bumps its version and appends an update event
func (g *MemoryGateway) Upsert(e model.Entity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := entityKey{typ: e.Type(), id: e.Meta().ID}
	meta := e.Meta()
	if prev, ok := g.entities[key]; ok && prev.Meta().Version >= meta.Version {
		meta.Version = prev.Meta().Version
	}
	meta.Version++
	meta.UpdatedAt = g.now()
	meta.ETag = etag(key, meta.Version)
	if meta.CanonicalID == "" {
		meta.CanonicalID = meta.ID
	}

	g.entities[key] = e
	g.appendEvent(model.UpdateEvent{
		EntityType: key.typ,
		EntityID:   key.id,
		Op:         model.UpdateOpUpsert,
		Version:    meta.Version,
		UpdatedAt:  meta.UpdatedAt,
	})
}

// Delete removes an entity and appends a delete event
func (g *MemoryGateway) Delete(entityType model.EntityType, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := entityKey{typ: entityType, id: id}
	prev, ok := g.entities[key]
	if !ok {
		return false
	}
	delete(g.entities, key)
	g.appendEvent(model.UpdateEvent{
		EntityType: entityType,
		EntityID:   id,
		Op:         model.UpdateOpDelete,
		Version:    prev.Meta().Version + 1,
		UpdatedAt:  g.now(),
	})
	return true
}

// appendEvent keeps the log ordered even if the clock steps backwards
func (g *MemoryGateway) appendEvent(ev model.UpdateEvent) {
	i := sort.Search(len(g.events), func(i int) bool {
		return g.events[i].UpdatedAt.After(ev.UpdatedAt)
	})
	g.events = append(g.events, model.UpdateEvent{})
	copy(g.events[i+1:], g.events[i:])
	g.events[i] = ev
}

func etag(key entityKey, version int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%s/%d", key.typ, key.id, version)
	return fmt.Sprintf(`W/"%x"`, h.Sum64())
}

func (g *MemoryGateway) Lookup(_ context.Context, entityType model.EntityType, id string) (model.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entities[entityKey{typ: entityType, id: id}]
	return e, ok
}

func (g *MemoryGateway) GetTrack(ctx context.Context, id string) (*model.Track, bool) {
	return lookupAs[*model.Track](ctx, g, model.EntityTrack, id)
}

func (g *MemoryGateway) GetVideo(ctx context.Context, id string) (*model.Video, bool) {
	return lookupAs[*model.Video](ctx, g, model.EntityVideo, id)
}

func (g *MemoryGateway) GetArtist(ctx context.Context, id string) (*model.Artist, bool) {
	return lookupAs[*model.Artist](ctx, g, model.EntityArtist, id)
}

func (g *MemoryGateway) GetRelease(ctx context.Context, id string) (*model.Release, bool) {
	return lookupAs[*model.Release](ctx, g, model.EntityRelease, id)
}

func (g *MemoryGateway) GetPodcast(ctx context.Context, id string) (*model.Podcast, bool) {
	return lookupAs[*model.Podcast](ctx, g, model.EntityPodcast, id)
}

func (g *MemoryGateway) GetEpisode(ctx context.Context, id string) (*model.Episode, bool) {
	return lookupAs[*model.Episode](ctx, g, model.EntityEpisode, id)
}

func (g *MemoryGateway) GetBook(ctx context.Context, id string) (*model.Book, bool) {
	return lookupAs[*model.Book](ctx, g, model.EntityBook, id)
}

func (g *MemoryGateway) GetAudiobook(ctx context.Context, id string) (*model.Audiobook, bool) {
	return lookupAs[*model.Audiobook](ctx, g, model.EntityAudiobook, id)
}

func lookupAs[T model.Entity](ctx context.Context, g *MemoryGateway, entityType model.EntityType, id string) (T, bool) {
	var zero T
	e, ok := g.Lookup(ctx, entityType, id)
	if !ok {
		return zero, false
	}
	typed, ok := e.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

type scoredResult struct {
	result model.SearchResult
	score  float64
}

// Search ranks entities by how their title and subtitle match the query.
// Ties are broken by type and id so identical queries return identical pages.
func (g *MemoryGateway) Search(_ context.Context, q model.SearchQuery) model.SearchResponse {
	query := strings.ToLower(strings.TrimSpace(q.Query))
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	g.mu.RLock()
	var matches []scoredResult
	for key, e := range g.entities {
		if q.Type != "" && key.typ != q.Type {
			continue
		}
		score := relevance(query, e)
		if score == 0 {
			continue
		}
		matches = append(matches, scoredResult{
			result: model.SearchResult{
				ID:       key.id,
				Type:     key.typ,
				Title:    e.DisplayTitle(),
				Subtitle: e.DisplaySubtitle(),
				Artwork:  e.Meta().Artwork,
				Version:  e.Meta().Version,
			},
			score: score,
		})
	}
	g.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.result.Type != b.result.Type {
			return a.result.Type < b.result.Type
		}
		return a.result.ID < b.result.ID
	})

	resp := model.SearchResponse{Results: []model.SearchResult{}, Total: len(matches)}
	if offset >= len(matches) {
		return resp
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}
	for _, m := range matches[offset:end] {
		resp.Results = append(resp.Results, m.result)
	}
	return resp
}

func relevance(query string, e model.Entity) float64 {
	if query == "" {
		return 0
	}
	title := strings.ToLower(e.DisplayTitle())
	subtitle := strings.ToLower(e.DisplaySubtitle())
	switch {
	case title == query:
		return 4
	case strings.HasPrefix(title, query):
		return 3
	case strings.Contains(title, query):
		return 2
	case subtitle != "" && strings.Contains(subtitle, query):
		return 1
	}
	return 0
}

// CheckRights evaluates explicit-content and territorial restrictions and
// reports every violated rule, not only the first.
func (g *MemoryGateway) CheckRights(ctx context.Context, entityType model.EntityType, id, country string, explicitOK bool) model.RightsResult {
	e, ok := g.Lookup(ctx, entityType, id)
	if !ok {
		return model.RightsResult{Allowed: false, Reason: model.RightsNotFound, Reasons: []model.RightsReason{model.RightsNotFound}}
	}

	meta := e.Meta()
	var reasons []model.RightsReason
	if meta.Explicit && !explicitOK {
		reasons = append(reasons, model.RightsExplicitNotAllowed)
	}

	country = strings.ToUpper(strings.TrimSpace(country))
	if country != "" {
		if containsCountry(meta.BlockedCountries, country) {
			reasons = append(reasons, model.RightsCountryBlocked)
		}
		if len(meta.AllowedCountries) > 0 && !containsCountry(meta.AllowedCountries, country) {
			reasons = append(reasons, model.RightsCountryNotLicensed)
		}
	}

	if len(reasons) == 0 {
		return model.RightsResult{Allowed: true}
	}
	return model.RightsResult{Allowed: false, Reason: reasons[0], Reasons: reasons}
}

func containsCountry(list []string, country string) bool {
	for _, c := range list {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// GetUpdates returns change events with UpdatedAt in [since, until), oldest
// first. When the page is not truncated NextSince is until. When it is,
// NextSince resumes right after the last returned event, and a page never
// ends in the middle of a group of events sharing one timestamp, so paging
// neither skips nor repeats events.
func (g *MemoryGateway) GetUpdates(_ context.Context, since, until time.Time, limit int) (model.UpdatesPage, error) {
	if until.IsZero() {
		until = g.now()
	}
	if since.After(until) {
		return model.UpdatesPage{}, ErrInvalidRange
	}
	if limit <= 0 {
		limit = defaultUpdatesLimit
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	lo := sort.Search(len(g.events), func(i int) bool {
		return !g.events[i].UpdatedAt.Before(since)
	})
	hi := sort.Search(len(g.events), func(i int) bool {
		return !g.events[i].UpdatedAt.Before(until)
	})
	window := g.events[lo:hi]

	if len(window) <= limit {
		return model.UpdatesPage{Events: copyEvents(window), NextSince: until}, nil
	}

	last := window[limit-1].UpdatedAt
	if window[limit].UpdatedAt.After(last) {
		return model.UpdatesPage{Events: copyEvents(window[:limit]), NextSince: last.Add(time.Nanosecond)}, nil
	}

	// the next event shares the last timestamp, so end the page before that group
	cut := sort.Search(limit, func(i int) bool {
		return !window[i].UpdatedAt.Before(last)
	})
	if cut > 0 {
		return model.UpdatesPage{Events: copyEvents(window[:cut]), NextSince: last}, nil
	}

	// the whole page shares one timestamp, so return the full group
	end := sort.Search(len(window), func(i int) bool {
		return window[i].UpdatedAt.After(last)
	})
	return model.UpdatesPage{Events: copyEvents(window[:end]), NextSince: last.Add(time.Nanosecond)}, nil
}

func copyEvents(events []model.UpdateEvent) []model.UpdateEvent {
	out := make([]model.UpdateEvent, len(events))
	copy(out, events)
	return out
}

func (g *MemoryGateway) GetAudioFeatures(ctx context.Context, entityType model.EntityType, id string) (*model.AudioAnalysis, bool, error) {
	if g.features == nil {
		return nil, false, nil
	}
	rec, ok, err := g.features.Get(ctx, entityType, id, model.EnrichmentAudioFeatures)
	if err != nil || !ok {
		return nil, false, err
	}
	if rec.Output == nil || rec.Output.Audio == nil {
		return nil, false, nil
	}
	return rec.Output.Audio, true, nil
}
