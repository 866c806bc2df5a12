package analysis

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/makeasinger/enrichment/internal/config"
)

const (
	ModeAuto   = "auto"
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// Select picks the analysis backend once at startup.
//
//	auto   remote when both base URL and API key are set, local otherwise
//	remote remote, or ErrNotConfigured when base URL or API key is missing
//	local  local
//
// A remote backend is wrapped in a FallbackBackend when the breaker is enabled.
func Select(cfg *config.AnalysisConfig, logger *logrus.Logger) (Backend, error) {
	log := logger.WithField("component", "analysis")
	remote := NewRemoteBackend(cfg)

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", ModeAuto:
		if !remote.IsConfigured() {
			log.Warn("Analysis service not configured, using local backend")
			return NewLocalBackend(cfg), nil
		}
	case ModeRemote:
		if !remote.IsConfigured() {
			return nil, fmt.Errorf("%w: analysis.base_url and analysis.api_key are required in remote mode", ErrNotConfigured)
		}
	case ModeLocal:
		log.Info("Using local analysis backend")
		return NewLocalBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unknown analysis mode %q", cfg.Mode)
	}

	if !cfg.Breaker.Enabled {
		log.WithField("base_url", cfg.BaseURL).Info("Using remote analysis backend")
		return remote, nil
	}
	log.WithField("base_url", cfg.BaseURL).Info("Using remote analysis backend with local fallback")
	return NewFallbackBackend(remote, NewLocalBackend(cfg), cfg.Breaker, logger), nil
}
