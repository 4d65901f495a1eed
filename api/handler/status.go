package handler

import (
	"errors"
	"net/http"
	"strconv"

	"switchyard/api/audit"
	"switchyard/api/model"
)

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.Status(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, model.ErrStorageUnavailable) {
			code = http.StatusServiceUnavailable
		}
		writeJSONStatus(w, code, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, st)
}

// History serves GET /api/history?limit=N, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := audit.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		if n > 0 {
			limit = min(n, 500)
		}
	}

	attempts, err := h.orch.History(r.Context(), limit)
	if err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	if attempts == nil {
		attempts = []model.DeploymentAttempt{}
	}
	writeJSON(w, attempts)
}

// Site serves the loaded site file together with its validation findings.
func (h *Handler) Site(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"site":       h.site,
		"validation": model.ValidateSite(h.site),
	})
}
