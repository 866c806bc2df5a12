package e2e

import (
	"net/http"
	"testing"
	"time"
)

func TestCatalogGet(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta, http.MethodGet, "/api/catalog/track/7", "")
	assertStatus(t, resp, http.StatusOK)
	etag := resp.Header.Get("ETag")
	track := parseJSON(t, resp)
	if track["title"] != "Harbor Lights" {
		t.Errorf("expected 'Harbor Lights', got %v", track["title"])
	}
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	resp, err := doRequest(ta.app, http.MethodGet, "/api/catalog/track/7", "", map[string]string{
		"Authorization": "Bearer " + generateToken(t, ta.auth),
		"If-None-Match": etag,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotModified)

	resp = doAuthRequest(t, ta, http.MethodGet, "/api/catalog/track/404", "")
	assertStatus(t, resp, http.StatusNotFound)

	resp = doAuthRequest(t, ta, http.MethodGet, "/api/catalog/playlist/1", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCatalogSearch(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta, http.MethodGet, "/api/catalog/search?q=lights&type=track", "")
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	results, _ := body["results"].([]interface{})
	// one title match, three tracks by Nova Lights
	if len(results) != 4 {
		t.Fatalf("expected 4 track results, got %d", len(results))
	}
	if first := results[0].(map[string]interface{}); first["id"] != "7" {
		t.Errorf("expected track 7, got %v", first["id"])
	}

	resp = doAuthRequest(t, ta, http.MethodGet, "/api/catalog/search", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCatalogRights(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name    string
		path    string
		allowed bool
		reason  string
	}{
		{"unrestricted", "/api/catalog/rights/track/1?country=US", true, ""},
		{"blocked country", "/api/catalog/rights/track/8?country=DE", false, "country_blocked"},
		{"outside allow list", "/api/catalog/rights/track/42?country=FR", false, "country_not_licensed"},
		{"explicit not allowed", "/api/catalog/rights/track/3?country=US&explicitOk=false", false, "explicit_not_allowed"},
		{"unknown entity", "/api/catalog/rights/track/404?country=US", false, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doAuthRequest(t, ta, http.MethodGet, tt.path, "")
			assertStatus(t, resp, http.StatusOK)
			body := parseJSON(t, resp)
			if body["allowed"] != tt.allowed {
				t.Errorf("expected allowed=%v, got %v", tt.allowed, body["allowed"])
			}
			if tt.reason != "" && body["reason"] != tt.reason {
				t.Errorf("expected reason %q, got %v", tt.reason, body["reason"])
			}
		})
	}

	resp := doAuthRequest(t, ta, http.MethodGet, "/api/catalog/rights/track/1?country=USA", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCatalogUpdates(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta, http.MethodGet, "/api/catalog/updates?limit=1000", "")
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	events, _ := body["events"].([]interface{})
	if len(events) != 15 {
		t.Errorf("expected 15 fixture events, got %d", len(events))
	}
	if body["nextSince"] == nil {
		t.Error("expected 'nextSince' in response")
	}

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp = doAuthRequest(t, ta, http.MethodGet, "/api/catalog/updates?since="+future+"&until=2020-01-01T00:00:00Z", "")
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doAuthRequest(t, ta, http.MethodGet, "/api/catalog/updates?since=yesterday", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCatalogSync(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta, http.MethodPost, "/api/catalog/sync", "")
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["events"] != float64(15) {
		t.Errorf("expected 15 events, got %v", result["events"])
	}
	// audio features for 9 audio entities, embeddings for the same 9
	if result["jobsCreated"] != float64(18) {
		t.Errorf("expected 18 jobs, got %v", result["jobsCreated"])
	}

	resp = doAuthRequest(t, ta, http.MethodGet, "/api/enrichment/stats", "")
	assertStatus(t, resp, http.StatusOK)
	if stats := parseJSON(t, resp); stats["pending"] != float64(18) {
		t.Errorf("expected 18 pending jobs, got %v", stats["pending"])
	}

	resp = doAuthRequest(t, ta, http.MethodPost, "/api/catalog/sync", "")
	assertStatus(t, resp, http.StatusOK)
	if again := parseJSON(t, resp); again["jobsCreated"] != float64(0) {
		t.Errorf("expected no new jobs on second sync, got %v", again["jobsCreated"])
	}
}
