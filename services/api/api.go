// Package api is the HTTP surface of snapshotd.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"snapshotd/services/dispatch"
	"snapshotd/services/orchestrator"
	"snapshotd/services/snapshots"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultMaxPayload     = 4 << 20
	serviceName           = "snapshotd"
)

// Services are the domain dependencies behind the handlers.
type Services struct {
	Shares       *snapshots.ShareStore
	Jobs         *snapshots.JobStore
	Generations  *snapshots.GenerationStore
	Orchestrator *orchestrator.Orchestrator
	WorkerAuth   *dispatch.Authenticator
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	PublicBaseURL      string
	SessionSecret      string
	CookieDomain       string
	CookieSecure       bool
	AllowedOrigins     []string
	RateLimitMutations int
	RateLimitWindow    time.Duration
	MaxPayloadBytes    int64
	RequestTimeout     time.Duration

	// Reported by /healthz.
	StoreName      string
	QuotaBackend   string
	InlineFallback bool

	// Ready backs /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
	// Middleware wraps every request, typically tracing and request logs.
	Middleware func(http.Handler) http.Handler
	// Gatherer serves /metrics. Nil selects the default registry.
	Gatherer prometheus.Gatherer
}

// API wires dependencies, schemas and configuration for HTTP handlers.
type API struct {
	svc     Services
	cfg     Config
	schemas *schemas
	logger  zerolog.Logger
}

// New validates dependencies and applies defaults.
func New(svc Services, cfg Config, logger zerolog.Logger) (*API, error) {
	if svc.Shares == nil {
		return nil, errors.New("share store is required")
	}
	if svc.Jobs == nil {
		return nil, errors.New("job store is required")
	}
	if svc.Generations == nil {
		return nil, errors.New("generation store is required")
	}
	if svc.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if svc.WorkerAuth == nil {
		svc.WorkerAuth = dispatch.NewAuthenticator(dispatch.AuthConfig{}, logger, nil)
	}

	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = defaultMaxPayload
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	s, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	return &API{svc: svc, cfg: cfg, schemas: s, logger: logger}, nil
}
