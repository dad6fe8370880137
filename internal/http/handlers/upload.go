package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
)

type uploadResponse struct {
	Filename string `json:"filename"`
}

// Upload forwards the multipart "file" field to the engine's input folder and
// returns the name the engine stored it under.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "file field is required")
		return
	}
	defer file.Close()

	name := filepath.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "file name is required")
		return
	}
	stored, err := a.Uploader.UploadImage(r.Context(), name, file)
	if err != nil {
		a.logger.Error().Err(err).Str("filename", name).Msg("upload to engine failed")
		a.error(w, http.StatusBadGateway, "engine_error", err.Error())
		return
	}
	a.logger.Info().Str("filename", stored).Msg("input image uploaded")
	a.json(w, http.StatusOK, uploadResponse{Filename: stored})
}
