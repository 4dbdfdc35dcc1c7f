package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"snapshotd/services/orchestrator"
	"snapshotd/services/snapshots"
)

type generationView struct {
	ID               string             `json:"id"`
	CreatedAt        time.Time          `json:"createdAt"`
	OwnerType        string             `json:"ownerType"`
	Intention        string             `json:"intention"`
	DurationSeconds  int                `json:"durationSeconds"`
	BackgroundTheme  string             `json:"backgroundTheme"`
	SceneTime        string             `json:"sceneTime"`
	ThumbnailDataURL string             `json:"thumbnailDataUrl,omitempty"`
	SceneModel       string             `json:"sceneModel,omitempty"`
	MusicModel       string             `json:"musicModel,omitempty"`
	SceneCode        string             `json:"sceneCode,omitempty"`
	MusicCode        string             `json:"musicCode,omitempty"`
	Prompts          *snapshots.Prompts `json:"prompts,omitempty"`
	Simulation       *bool              `json:"simulation,omitempty"`
}

func summaryView(rec snapshots.GenerationRecord) generationView {
	return generationView{
		ID:               rec.ID,
		CreatedAt:        rec.CreatedAt,
		OwnerType:        string(rec.Owner.Type),
		Intention:        rec.Intention,
		DurationSeconds:  rec.DurationSeconds,
		BackgroundTheme:  rec.BackgroundTheme,
		SceneTime:        rec.SceneTime,
		ThumbnailDataURL: rec.ThumbnailDataURL,
		SceneModel:       rec.SceneModel,
		MusicModel:       rec.MusicModel,
	}
}

func fullView(gen snapshots.Generation) generationView {
	v := summaryView(gen.GenerationRecord)
	prompts := gen.Content.Prompts
	simulation := gen.Content.Simulation
	v.SceneCode = gen.Content.SceneCode
	v.MusicCode = gen.Content.MusicCode
	v.Prompts = &prompts
	v.Simulation = &simulation
	return v
}

func (a *API) handleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	req, err := a.schemas.parseGeneration(body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out, err := a.svc.Orchestrator.CreateGeneration(r.Context(), identityFrom(r).owner(), orchestrator.GenerationInput{
		Intention:       req.Intention,
		DurationSeconds: int(req.DurationSeconds),
		BackgroundTheme: string(req.BackgroundTheme),
		SceneTime:       string(req.SceneTime),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := map[string]any{"generation": fullView(out.Generation)}
	if out.RemainingFree != nil {
		resp["remainingFreeGenerations"] = *out.RemainingFree
	}
	if out.RemainingDailyOverall != nil {
		resp["remainingDailyGenerationsOverall"] = *out.RemainingDailyOverall
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	if id.user == nil {
		a.writeError(w, r, errAuthRequired)
		return
	}

	// Unparseable or zero limits fall back to the default page size.
	limit := 0
	if n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit"))); err == nil && n != 0 {
		limit = max(n, 1)
	}

	recs, err := a.svc.Generations.List(r.Context(), *id.user, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	views := make([]generationView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, summaryView(rec))
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, map[string]any{"generations": views})
}

func (a *API) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	gen, err := a.svc.Generations.GetForOwner(r.Context(), chi.URLParam(r, "id"), identityFrom(r).owner())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, map[string]any{"generation": fullView(gen)})
}

func (a *API) handleSetThumbnail(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	dataURL, err := a.schemas.parseThumbnail(body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	rec, err := a.svc.Generations.SetThumbnail(r.Context(), chi.URLParam(r, "id"), identityFrom(r).owner(), dataURL)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"generation": summaryView(rec)})
}
