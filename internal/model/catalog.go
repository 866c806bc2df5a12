package model

import (
	"encoding/json"
	"time"
)

// EntityMeta holds the fields shared by every catalog entity
type EntityMeta struct {
	ID               string    `json:"id"`
	CanonicalID      string    `json:"canonicalId,omitempty"`
	Version          int       `json:"version"`
	ETag             string    `json:"etag"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Explicit         bool      `json:"explicit"`
	AllowedCountries []string  `json:"allowedCountries,omitempty"`
	BlockedCountries []string  `json:"blockedCountries,omitempty"`
	Artwork          string    `json:"artwork,omitempty"`
}

// Entity is implemented by every catalog object
type Entity interface {
	Meta() *EntityMeta
	Type() EntityType
	DisplayTitle() string
	DisplaySubtitle() string
}

// AudioSource is implemented by entities that carry a playable audio stream
type AudioSource interface {
	Entity
	AudioLocation() string
}

type Track struct {
	EntityMeta
	Title      string   `json:"title"`
	ArtistID   string   `json:"artistId"`
	ArtistName string   `json:"artistName"`
	ReleaseID  string   `json:"releaseId,omitempty"`
	ISRC       string   `json:"isrc,omitempty"`
	DurationMs int      `json:"durationMs"`
	AudioURI   string   `json:"audioUri"`
	Genres     []string `json:"genres,omitempty"`
	Lyrics     string   `json:"lyrics,omitempty"`
}

type Video struct {
	EntityMeta
	Title      string `json:"title"`
	ArtistID   string `json:"artistId,omitempty"`
	ArtistName string `json:"artistName,omitempty"`
	DurationMs int    `json:"durationMs"`
	StreamURI  string `json:"streamUri"`
}

type Artist struct {
	EntityMeta
	Name   string   `json:"name"`
	Genres []string `json:"genres,omitempty"`
}

type Release struct {
	EntityMeta
	Title       string   `json:"title"`
	ArtistID    string   `json:"artistId"`
	ArtistName  string   `json:"artistName"`
	ReleaseDate string   `json:"releaseDate,omitempty"`
	TrackIDs    []string `json:"trackIds,omitempty"`
}

type Podcast struct {
	EntityMeta
	Title     string `json:"title"`
	Publisher string `json:"publisher"`
}

type Episode struct {
	EntityMeta
	Title      string `json:"title"`
	PodcastID  string `json:"podcastId"`
	Publisher  string `json:"publisher,omitempty"`
	DurationMs int    `json:"durationMs"`
	AudioURI   string `json:"audioUri"`
}

type Book struct {
	EntityMeta
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn,omitempty"`
}

type Audiobook struct {
	EntityMeta
	Title      string `json:"title"`
	Author     string `json:"author"`
	Narrator   string `json:"narrator,omitempty"`
	DurationMs int    `json:"durationMs"`
	AudioURI   string `json:"audioUri"`
}

func (m *EntityMeta) Meta() *EntityMeta { return m }

func (*Track) Type() EntityType     { return EntityTrack }
func (*Video) Type() EntityType     { return EntityVideo }
func (*Artist) Type() EntityType    { return EntityArtist }
func (*Release) Type() EntityType   { return EntityRelease }
func (*Podcast) Type() EntityType   { return EntityPodcast }
func (*Episode) Type() EntityType   { return EntityEpisode }
func (*Book) Type() EntityType      { return EntityBook }
func (*Audiobook) Type() EntityType { return EntityAudiobook }

func (t *Track) DisplayTitle() string     { return t.Title }
func (v *Video) DisplayTitle() string     { return v.Title }
func (a *Artist) DisplayTitle() string    { return a.Name }
func (r *Release) DisplayTitle() string   { return r.Title }
func (p *Podcast) DisplayTitle() string   { return p.Title }
func (e *Episode) DisplayTitle() string   { return e.Title }
func (b *Book) DisplayTitle() string      { return b.Title }
func (a *Audiobook) DisplayTitle() string { return a.Title }

func (t *Track) DisplaySubtitle() string     { return t.ArtistName }
func (v *Video) DisplaySubtitle() string     { return v.ArtistName }
func (a *Artist) DisplaySubtitle() string    { return "" }
func (r *Release) DisplaySubtitle() string   { return r.ArtistName }
func (p *Podcast) DisplaySubtitle() string   { return p.Publisher }
func (e *Episode) DisplaySubtitle() string   { return e.Publisher }
func (b *Book) DisplaySubtitle() string      { return b.Author }
func (a *Audiobook) DisplaySubtitle() string { return a.Author }

func (t *Track) AudioLocation() string     { return t.AudioURI }
func (v *Video) AudioLocation() string     { return v.StreamURI }
func (e *Episode) AudioLocation() string   { return e.AudioURI }
func (a *Audiobook) AudioLocation() string { return a.AudioURI }

// SearchQuery holds catalog search parameters
type SearchQuery struct {
	Query  string     `query:"q" validate:"required,max=200"`
	Type   EntityType `query:"type" validate:"omitempty,oneof=track video artist release podcast episode book audiobook"`
	Limit  int        `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset int        `query:"offset" validate:"omitempty,min=0"`
}

// SearchResult is a lightweight projection of an entity
type SearchResult struct {
	ID       string     `json:"id"`
	Type     EntityType `json:"type"`
	Title    string     `json:"title"`
	Subtitle string     `json:"subtitle,omitempty"`
	Artwork  string     `json:"artwork,omitempty"`
	Version  int        `json:"version"`
}

// SearchResponse is a page of search results
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// RightsResult is the outcome of a rights check. Reason is the first of Reasons.
type RightsResult struct {
	Allowed bool           `json:"allowed"`
	Reason  RightsReason   `json:"reason,omitempty"`
	Reasons []RightsReason `json:"reasons,omitempty"`
}

// UpdateEvent is one record of the catalog change feed
type UpdateEvent struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Op         UpdateOp   `json:"op"`
	Version    int        `json:"version"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// UpdatesPage is a page of the change feed
type UpdatesPage struct {
	Events    []UpdateEvent `json:"events"`
	NextSince time.Time     `json:"nextSince"`
}

// FeatureRecord is derived metadata attached to an entity
type FeatureRecord struct {
	EntityType EntityType     `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Kind       EnrichmentType `json:"kind"`
	JobID      string         `json:"jobId"`
	Output     *JobOutput     `json:"data"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// UnmarshalJSON decodes Output according to Kind
func (r *FeatureRecord) UnmarshalJSON(data []byte) error {
	type alias FeatureRecord
	aux := struct {
		*alias
		Output json.RawMessage `json:"data"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	out, err := DecodeOutput(r.Kind, aux.Output)
	if err != nil {
		return err
	}
	r.Output = out
	return nil
}
