package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"snapshotd/services/dispatch"
	"snapshotd/services/snapshots"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// readBody reads at most the configured payload size.
func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, &snapshots.ValidationError{Message: "request body required"}
	}
	defer r.Body.Close()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxPayloadBytes))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &snapshots.ValidationError{Message: "request body required"}
	}
	return data, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	respondJSON(w, status, errorBody{
		Error:     msg,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeError maps domain errors onto HTTP responses. Anything unrecognised
// is logged and reported as a generic 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetReqID(r.Context())

	var (
		validation *snapshots.ValidationError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, errorBody{
			Error:     validation.Message,
			Code:      "VALIDATION_ERROR",
			Field:     validation.Field,
			RequestID: reqID,
		})
	case errors.Is(err, errInvalidIdempotencyKey):
		respondError(w, r, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", err.Error())
	case errors.As(err, &tooLarge):
		respondError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
	case errors.Is(err, snapshots.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, snapshots.ErrVisitorLimit):
		respondError(w, r, http.StatusForbidden, "AUTH_REQUIRED_FOR_MORE_GENERATIONS", err.Error())
	case errors.Is(err, snapshots.ErrQuotaExceeded):
		respondError(w, r, http.StatusTooManyRequests, "GLOBAL_DAILY_LIMIT_REACHED", err.Error())
	case errors.Is(err, dispatch.ErrDisabled):
		respondError(w, r, http.StatusServiceUnavailable, "JOBS_DISABLED", err.Error())
	case errors.Is(err, dispatch.ErrUnauthorized):
		respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, dispatch.ErrAuthNotConfigured):
		respondError(w, r, http.StatusServiceUnavailable, "WORKER_AUTH_NOT_CONFIGURED", "worker authentication is not configured")
	case errors.Is(err, errAuthRequired):
		respondError(w, r, http.StatusUnauthorized, "AUTH_REQUIRED", err.Error())
	default:
		a.logger.Error().Err(err).Str("request_id", reqID).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

var errAuthRequired = errors.New("sign in required")

// shareURL builds the public link for a share.
func (a *API) shareURL(r *http.Request, id string) string {
	base := a.cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimRight(base, "/") + "/s/" + id
}

func idempotencyKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	if key == "" {
		return "", nil
	}
	if !idempotencyKeyPattern.MatchString(key) {
		return "", errInvalidIdempotencyKey
	}
	return key, nil
}
