package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"snapshotd/services/snapshots"
)

type shareResponse struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"createdAt"`
	ContentHash  string          `json:"contentHash"`
	Reused       *bool           `json:"reused,omitempty"`
	ShareURL     string          `json:"shareUrl"`
	ViewCount    *int64          `json:"viewCount,omitempty"`
	LastViewedAt *time.Time      `json:"lastViewedAt,omitempty"`
	Snapshot     json.RawMessage `json:"snapshot,omitempty"`
}

func (a *API) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	body, err := a.readBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	snapshot, err := a.schemas.normalizeSnapshot(unwrapSnapshot(body))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	owner := identityFrom(r).owner()
	res, err := a.svc.Shares.CreateShare(r.Context(), snapshot, snapshots.CreateShareOptions{
		IdempotencyKey: key,
		Owner:          &owner,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	reused := res.Reused
	respondJSON(w, status, shareResponse{
		ID:          res.Share.ID,
		CreatedAt:   res.Share.CreatedAt,
		ContentHash: res.Share.ContentHash,
		Reused:      &reused,
		ShareURL:    a.shareURL(r, res.Share.ID),
	})
}

func (a *API) handleGetShare(w http.ResponseWriter, r *http.Request) {
	share, err := a.svc.Shares.GetShare(r.Context(), chi.URLParam(r, "id"), snapshots.GetShareOptions{IncrementView: true})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=30")
	views := share.ViewCount
	respondJSON(w, http.StatusOK, shareResponse{
		ID:           share.ID,
		CreatedAt:    share.CreatedAt,
		ContentHash:  share.ContentHash,
		ShareURL:     a.shareURL(r, share.ID),
		ViewCount:    &views,
		LastViewedAt: share.LastViewedAt,
		Snapshot:     share.Payload,
	})
}

func (a *API) handleShareStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Shares.GetShareStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=20")
	respondJSON(w, http.StatusOK, map[string]any{
		"id":           stats.ShareID,
		"createdAt":    stats.CreatedAt,
		"contentHash":  stats.ContentHash,
		"viewCount":    stats.ViewCount,
		"lastViewedAt": stats.LastViewedAt,
	})
}
