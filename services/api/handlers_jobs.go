package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"snapshotd/services/dispatch"
	"snapshotd/services/snapshots"
)

type jobResultView struct {
	ShareID      string    `json:"shareId"`
	ShareURL     string    `json:"shareUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	SnapshotHash string    `json:"snapshotHash"`
	Reused       bool      `json:"reused"`
}

type jobView struct {
	JobID         string         `json:"jobId"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	AttemptCount  int            `json:"attemptCount"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt,omitempty"`
	Error         string         `json:"error,omitempty"`
	Result        *jobResultView `json:"result,omitempty"`
}

func (a *API) jobView(r *http.Request, job snapshots.Job) jobView {
	v := jobView{
		JobID:         job.ID,
		Status:        string(job.Status),
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		AttemptCount:  job.AttemptCount,
		LastAttemptAt: job.LastAttemptAt,
		Error:         job.Error,
	}
	if job.Result != nil {
		v.Result = &jobResultView{
			ShareID:      job.Result.ShareID,
			ShareURL:     a.shareURL(r, job.Result.ShareID),
			CreatedAt:    job.Result.CreatedAt,
			SnapshotHash: job.Result.SnapshotHash,
			Reused:       job.Result.Reused,
		}
	}
	return v
}

func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !a.svc.Orchestrator.JobsEnabled() {
		a.writeError(w, r, dispatch.ErrDisabled)
		return
	}
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
	job, err := a.svc.Orchestrator.SubmitShareJob(r.Context(), snapshot, key, &owner, middleware.GetReqID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"jobId":   job.ID,
		"status":  job.Status,
		"queued":  true,
		"pollUrl": "/v1/jobs/" + job.ID,
	})
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.svc.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, a.jobView(r, job))
}

// handleProcessJob is the worker endpoint the relay pushes descriptors to.
// 4xx responses tell the relay not to redeliver.
func (a *API) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.WorkerAuth.Authenticate(r); err != nil {
		a.writeError(w, r, err)
		return
	}

	body, err := a.readBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := validate(a.schemas.process, body); err != nil {
		a.writeError(w, r, err)
		return
	}
	var d dispatch.Descriptor
	if err := json.Unmarshal(body, &d); err != nil {
		a.writeError(w, r, &snapshots.ValidationError{Message: "request body must be valid JSON"})
		return
	}
	if key := strings.TrimSpace(d.IdempotencyKey); key != "" && !idempotencyKeyPattern.MatchString(key) {
		a.writeError(w, r, errInvalidIdempotencyKey)
		return
	}
	if d.Owner != nil && !d.Owner.Valid() {
		a.writeError(w, r, &snapshots.ValidationError{Field: "owner", Message: "invalid owner"})
		return
	}
	if d.Snapshot, err = a.schemas.normalizeSnapshot(d.Snapshot); err != nil {
		if _, ferr := a.svc.Jobs.FailJob(r.Context(), d.JobID, err.Error()); ferr != nil {
			a.logger.Warn().Err(ferr).Str("job_id", d.JobID).Msg("record rejected job")
		}
		a.writeError(w, r, err)
		return
	}

	job, err := a.svc.Orchestrator.ProcessShareJob(r.Context(), d)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a.jobView(r, job))
}
