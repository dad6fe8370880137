package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status    string `json:"status"`
	Templates int    `json:"templates"`
}

// Health reports liveness and how many templates the relay can serve. An
// unreadable template directory answers 503.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Workflows.List()
	if err != nil {
		a.logger.Error().Err(err).Msg("health: list templates failed")
		a.json(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
		return
	}
	a.json(w, http.StatusOK, healthResponse{Status: "ok", Templates: len(entries)})
}
