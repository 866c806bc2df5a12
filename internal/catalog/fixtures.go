package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/makeasinger/enrichment/internal/model"
)

//go:embed fixtures.json
var fixturesJSON []byte

type fixtures struct {
	Artists    []*model.Artist    `json:"artists"`
	Releases   []*model.Release   `json:"releases"`
	Tracks     []*model.Track     `json:"tracks"`
	Videos     []*model.Video     `json:"videos"`
	Podcasts   []*model.Podcast   `json:"podcasts"`
	Episodes   []*model.Episode   `json:"episodes"`
	Books      []*model.Book      `json:"books"`
	Audiobooks []*model.Audiobook `json:"audiobooks"`
}

// LoadFixtures seeds the gateway with the demo catalog
func LoadFixtures(g *MemoryGateway) error {
	var f fixtures
	if err := json.Unmarshal(fixturesJSON, &f); err != nil {
		return fmt.Errorf("failed to decode catalog fixtures: %w", err)
	}

	for _, e := range f.Artists {
		g.Upsert(e)
	}
	for _, e := range f.Releases {
		g.Upsert(e)
	}
	for _, e := range f.Tracks {
		g.Upsert(e)
	}
	for _, e := range f.Videos {
		g.Upsert(e)
	}
	for _, e := range f.Podcasts {
		g.Upsert(e)
	}
	for _, e := range f.Episodes {
		g.Upsert(e)
	}
	for _, e := range f.Books {
		g.Upsert(e)
	}
	for _, e := range f.Audiobooks {
		g.Upsert(e)
	}
	return nil
}
