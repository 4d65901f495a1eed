package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"switchyard/api/model"
	"switchyard/api/orchestrator"
)

type DeployRequest struct {
	Version string `json:"version"`
}

// Deploy runs a deployment to completion and returns its result. The
// attempt keeps running if the client goes away; only the deploy timeout
// cancels it.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	res, err := h.orch.Deploy(context.WithoutCancel(r.Context()), req.Version)
	switch {
	case errors.Is(err, model.ErrDeploymentInProgress):
		writeJSONStatus(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	case errors.Is(err, model.ErrInvalidConfig):
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	case err != nil:
		writeJSONStatus(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSONStatus(w, deployStatusCode(res), res)
}

// deployStatusCode maps a finished attempt to an HTTP status.
func deployStatusCode(res *orchestrator.Result) int {
	a := res.Attempt
	switch {
	case a.Outcome == model.OutcomeSuccess:
		return http.StatusOK
	case a.Kind == model.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case a.Kind == model.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
