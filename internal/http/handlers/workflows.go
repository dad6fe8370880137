package handlers

import (
	"net/http"

	"comfyrelay/internal/workflow"
)

// workflowsResponse lists templates as {name, filename} objects. Clients pass
// filename back as the generate request's workflow.
type workflowsResponse struct {
	Workflows []workflow.Entry `json:"workflows"`
}

func (a *App) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Workflows.List()
	if err != nil {
		a.logger.Error().Err(err).Msg("list workflows failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list workflows")
		return
	}
	if entries == nil {
		entries = []workflow.Entry{}
	}
	a.json(w, http.StatusOK, workflowsResponse{Workflows: entries})
}
