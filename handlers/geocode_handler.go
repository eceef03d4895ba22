package handlers

import (
	"encoding/json"
	"net/http"

	"poi-server/middleware"
	"poi-server/services"
)

type GeocodeHandler struct {
	importService  *services.ImportService
	geocodeService *services.GeocodeService
}

func NewGeocodeHandler(importService *services.ImportService, geocodeService *services.GeocodeService) *GeocodeHandler {
	return &GeocodeHandler{importService: importService, geocodeService: geocodeService}
}

// ReverseGeocodePass runs the store-wide reverse geocoding pass. Sequential
// provider calls mean this can take a while on a large store; the admin UI
// shows progress and waits.
func (h *GeocodeHandler) ReverseGeocodePass(w http.ResponseWriter, r *http.Request) {
	stats, err := h.importService.ReverseGeocodePass(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"stats": stats})
}

// ClearCache drops every cached geocoding lookup.
func (h *GeocodeHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.geocodeService.ClearCache(r.Context()); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Geocoding cache cleared"})
}
