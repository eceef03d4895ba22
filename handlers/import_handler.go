package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"poi-server/middleware"
	"poi-server/services"
	"poi-server/utils/errors"
)

// maxUploadBytes caps KML/KMZ uploads at 32 MB.
const maxUploadBytes = 32 << 20

type ImportHandler struct {
	importService *services.ImportService
}

func NewImportHandler(importService *services.ImportService) *ImportHandler {
	return &ImportHandler{importService: importService}
}

// UploadImport accepts a multipart KML/KMZ file, parses it and stages the
// batch. The response is the import-result consumed by the admin UI.
func (h *ImportHandler) UploadImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, errors.NewAPIError("FILE_ERROR", "Could not read upload", http.StatusBadRequest))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, errors.NewAPIError("FILE_ERROR", "Missing file field", http.StatusBadRequest))
		return
	}
	defer file.Close()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if ext != "kml" && ext != "kmz" {
		middleware.WriteError(w, errors.NewValidationError("Only .kml and .kmz files are supported"))
		return
	}

	// Read one byte past the limit so an oversized file is rejected
	// outright instead of being truncated into unparseable XML.
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		middleware.WriteError(w, errors.NewAPIError("FILE_ERROR", "Could not read upload", http.StatusBadRequest))
		return
	}
	if len(data) > maxUploadBytes {
		middleware.WriteError(w, errors.NewAPIError("FILE_ERROR", "File exceeds the upload size limit", http.StatusRequestEntityTooLarge))
		return
	}

	batch, err := h.importService.ParseAndStage(r.Context(), data, ext)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"pois_by_category": batch.POIsByCategory,
		"category_names":   batch.CategoryNames,
		"total":            batch.Total,
		"debug_log":        batch.DebugLog,
	})
}

// CommitImport consumes the staged batch into the store.
func (h *ImportHandler) CommitImport(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Mode        string         `json:"mode"`
		Assignments map[int]string `json:"assignments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		middleware.WriteError(w, errors.ErrInvalidInput)
		return
	}
	if input.Mode == "" {
		input.Mode = "replace"
	}

	result, err := h.importService.CommitImport(r.Context(), input.Mode, input.Assignments)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
