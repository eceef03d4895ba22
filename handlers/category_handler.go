package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"poi-server/middleware"
	"poi-server/models"
	"poi-server/services"
	"poi-server/utils/errors"
)

type CategoryHandler struct {
	storeService *services.StoreService
}

func NewCategoryHandler(storeService *services.StoreService) *CategoryHandler {
	return &CategoryHandler{storeService: storeService}
}

func (h *CategoryHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.storeService.GetCategories(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(categories)
}

// SaveCategory creates a category or renames an existing one. The key is
// derived from the name on create and never changes afterwards.
func (h *CategoryHandler) SaveCategory(w http.ResponseWriter, r *http.Request) {
	var input models.Category
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		middleware.WriteError(w, errors.ErrInvalidInput)
		return
	}
	if input.Key == "" {
		input.Key = services.CategoryKey(input.Name)
	}
	if input.Color == "" {
		input.Color = services.CategoryColor(input.Key)
	}
	if err := h.storeService.SaveCategory(r.Context(), input); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(input)
}

// DeleteCategory removes a category and all of its POIs.
func (h *CategoryHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := h.storeService.DeleteCategory(r.Context(), key); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Category deleted"})
}
