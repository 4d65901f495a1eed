package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"switchyard/api/hub"
	"switchyard/api/model"
	"switchyard/api/orchestrator"
)

// Check reports whether one backing service is reachable.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type Handler struct {
	orch    *orchestrator.Orchestrator
	site    *model.Site
	ws      *hub.Hub
	checks  []Check
	version string
}

func New(orch *orchestrator.Orchestrator, site *model.Site, ws *hub.Hub, version string, checks ...Check) *Handler {
	return &Handler{
		orch:    orch,
		site:    site,
		ws:      ws,
		checks:  checks,
		version: version,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}
