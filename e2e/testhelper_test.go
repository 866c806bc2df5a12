package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/enrichment/internal/analysis"
	"github.com/makeasinger/enrichment/internal/catalog"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/handler"
	"github.com/makeasinger/enrichment/internal/logging"
	"github.com/makeasinger/enrichment/internal/metrics"
	"github.com/makeasinger/enrichment/internal/middleware"
	"github.com/makeasinger/enrichment/internal/scheduler"
	"github.com/makeasinger/enrichment/internal/server"
	"github.com/makeasinger/enrichment/internal/service"
	"github.com/makeasinger/enrichment/internal/store"
	ws "github.com/makeasinger/enrichment/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	auth    *middleware.AuthMiddleware
	gateway *catalog.MemoryGateway
}

type setupOptions struct {
	redisStore    bool
	enrichPerHour int
}

// setupApp builds the same app as main.go against miniredis, the demo
// catalog and the local analysis backend.
func setupApp(t *testing.T) *testApp {
	return setupAppWith(t, setupOptions{enrichPerHour: 10000})
}

func setupAppWith(t *testing.T, opts setupOptions) *testApp {
	t.Helper()
	log := logging.Discard()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	var (
		jobStore store.Store
		features catalog.FeatureStore
	)
	if opts.redisStore {
		jobStore = store.NewRedisStore(redisClient)
		features = catalog.NewRedisFeatureStore(redisClient)
	} else {
		jobStore = store.NewMemoryStore()
		features = catalog.NewMemoryFeatureStore()
	}

	gateway := catalog.NewMemoryGateway(features)
	if err := catalog.LoadFixtures(gateway); err != nil {
		t.Fatalf("failed to load fixtures: %v", err)
	}

	// unconfigured analysis service selects the local backend
	backend, err := analysis.Select(&config.AnalysisConfig{Mode: analysis.ModeAuto, Dimensions: 32}, log)
	if err != nil {
		t.Fatalf("failed to select backend: %v", err)
	}

	m := metrics.New()
	hub := ws.NewHub(log)

	schedCfg := &config.SchedulerConfig{
		MaxRetries:      3,
		DefaultPriority: 50,
		BackoffInitial:  time.Second,
		BackoffMax:      time.Minute,
	}
	sched := scheduler.New(jobStore, backend, schedCfg, log,
		scheduler.WithFeatureStore(features),
		scheduler.WithNotifier(hub),
		scheduler.WithMetrics(m),
	)

	svc := service.NewEnrichmentService(jobStore, gateway, sched, nil, m, schedCfg, log)
	syncer, err := service.NewSyncer(gateway, svc, &config.CatalogConfig{SyncKinds: []string{"audio_features", "embeddings"}}, m, log)
	if err != nil {
		t.Fatalf("failed to create syncer: %v", err)
	}

	validate := validator.New()
	auth := middleware.NewAuthMiddleware(testJWTSecret)

	app := server.New(server.Deps{
		Enrichment:        svc,
		EnrichmentHandler: handler.NewEnrichmentHandler(svc, validate),
		CatalogHandler:    handler.NewCatalogHandler(gateway, features, syncer, validate),
		Auth:              auth,
		RateLimiter:       middleware.NewRateLimiter(redisClient, log),
		Hub:               hub,
		Metrics:           m,
		EnrichPerHour:     opts.enrichPerHour,
	})

	return &testApp{app: app, auth: auth, gateway: gateway}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T, auth *middleware.AuthMiddleware) string {
	t.Helper()
	token, err := auth.GenerateToken("test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, ta *testApp, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(ta.app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, ta.auth),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error envelope.
func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

// toJSON encodes v for use in a request body.
func toJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to encode JSON: %v", err)
	}
	return string(b)
}
