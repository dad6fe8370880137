package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"comfyrelay/internal/domain"
	"comfyrelay/internal/storage"
	"comfyrelay/pkg/zip"
)

// ServeImage streams an artifact persisted for a session.
func (a *App) ServeImage(w http.ResponseWriter, r *http.Request) {
	key := storage.JoinKey(chi.URLParam(r, "session"), chi.URLParam(r, "name"))
	rc, err := a.Artifacts.Open(r.Context(), key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "image not found")
		return
	case errors.Is(err, storage.ErrInvalidKey):
		a.error(w, http.StatusBadRequest, "bad_request", "invalid image path")
		return
	case err != nil:
		a.logger.Error().Err(err).Str("key", key).Msg("open artifact failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to open image")
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(key))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("stream artifact interrupted")
	}
}

// SessionArchive returns every artifact of a session as one zip file.
func (a *App) SessionArchive(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	keys, err := a.Artifacts.List(r.Context(), sessionID)
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		a.error(w, http.StatusBadRequest, "bad_request", "invalid session")
		return
	case err != nil:
		a.logger.Error().Err(err).Str("session_id", sessionID).Msg("list artifacts failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list images")
		return
	case len(keys) == 0:
		a.error(w, http.StatusNotFound, "not_found", "no images for session")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=session-%s.zip", path.Base(sessionID)))
	w.WriteHeader(http.StatusOK)
	n, err := zip.WriteArchive(r.Context(), w, a.Artifacts, keys)
	if err != nil {
		a.logger.Warn().Err(err).Str("session_id", sessionID).Int("entries", n).Msg("archive interrupted")
	}
}
