package analysis

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Health states reported by CheckHealth
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

const healthTimeout = 3 * time.Second

// HealthChecker is implemented by backends that depend on an external service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health describes the selected backend for the /health endpoint
type Health struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
	Breaker string `json:"breaker,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CheckHealth asks b for its health. A backend that does no I/O is always ok; a remote
// backend with a local fallback is degraded rather than unavailable when
// the remote side is down.
func CheckHealth(ctx context.Context, b Backend) Health {
	h := Health{Backend: b.Name(), Status: HealthOK}

	hc, ok := b.(HealthChecker)
	if !ok {
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	err := hc.HealthCheck(ctx)
	fb, hasFallback := b.(*FallbackBackend)
	if hasFallback {
		h.Breaker = fb.State().String()
	}
	switch {
	case err != nil && hasFallback:
		h.Status = HealthDegraded
		h.Error = err.Error()
	case err != nil:
		h.Status = HealthUnavailable
		h.Error = err.Error()
	case hasFallback && fb.State() != gobreaker.StateClosed:
		h.Status = HealthDegraded
	}
	return h
}
