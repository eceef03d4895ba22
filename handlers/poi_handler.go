package handlers

import (
	"encoding/json"
	"net/http"

	"poi-server/middleware"
	"poi-server/models"
	"poi-server/services"
	"poi-server/utils/errors"
)

type POIHandler struct {
	storeService  *services.StoreService
	importService *services.ImportService
}

func NewPOIHandler(storeService *services.StoreService, importService *services.ImportService) *POIHandler {
	return &POIHandler{storeService: storeService, importService: importService}
}

// GetMapData is the public endpoint the map client renders from.
func (h *POIHandler) GetMapData(w http.ResponseWriter, r *http.Request) {
	categories, err := h.storeService.GetCategories(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	pois, err := h.storeService.GetPOIs(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"categories": categories,
		"pois":       pois,
	})
}

// SavePOI inserts (index omitted or -1) or updates one POI.
func (h *POIHandler) SavePOI(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Category string     `json:"category"`
		Index    *int       `json:"index"`
		POI      models.POI `json:"poi"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		middleware.WriteError(w, errors.ErrInvalidInput)
		return
	}
	index := -1
	if input.Index != nil {
		index = *input.Index
	}
	if err := h.storeService.SavePOI(r.Context(), input.Category, index, input.POI); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "POI saved"})
}

// BulkDeletePOIs removes a set of "category|index" identifiers.
func (h *POIHandler) BulkDeletePOIs(w http.ResponseWriter, r *http.Request) {
	var input struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || len(input.IDs) == 0 {
		middleware.WriteError(w, errors.ErrInvalidInput)
		return
	}
	deleted, err := h.importService.BulkDelete(r.Context(), input.IDs)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"deleted": deleted})
}

// MovePOIs moves a set of identifiers into a target category.
func (h *POIHandler) MovePOIs(w http.ResponseWriter, r *http.Request) {
	var input struct {
		IDs            []string `json:"ids"`
		TargetCategory string   `json:"target_category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || len(input.IDs) == 0 {
		middleware.WriteError(w, errors.ErrInvalidInput)
		return
	}
	moved, err := h.importService.MoveToCategory(r.Context(), input.IDs, input.TargetCategory)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"moved": moved})
}

// GetActivity returns the bounded admin activity log, newest first.
func (h *POIHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.storeService.GetActivity(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"activity": entries})
}
