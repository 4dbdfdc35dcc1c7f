package api

import (
	"context"
	"net/http"
	"time"
)

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	orch := a.svc.Orchestrator
	queue := orch.DispatcherName()
	if queue == "" {
		queue = "none"
	}
	quotaBackend := a.cfg.QuotaBackend
	if quotaBackend == "" {
		quotaBackend = "store"
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": serviceName,
		"store":   a.cfg.StoreName,
		"jobs": map[string]any{
			"enabled":        orch.JobsEnabled(),
			"queue":          queue,
			"inlineFallback": a.cfg.InlineFallback,
		},
		"quota": map[string]any{
			"backend":           quotaBackend,
			"globalDailyLimit":  orch.Config().GlobalDailyLimit,
			"anonGenerationCap": orch.Config().AnonGenerationLimit,
		},
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := a.cfg.Ready(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("readiness check failed")
			respondError(w, r, http.StatusServiceUnavailable, "NOT_READY", "not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ready": true})
}
