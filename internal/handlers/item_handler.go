package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/interfaces"
)

// ItemHandler serves work item status and history
type ItemHandler struct {
	items  interfaces.WorkItemStorage
	logger arbor.ILogger
}

// NewItemHandler creates a new ItemHandler
func NewItemHandler(items interfaces.WorkItemStorage, logger arbor.ILogger) *ItemHandler {
	return &ItemHandler{
		items:  items,
		logger: logger,
	}
}

// GetItemHandler handles GET /api/items/{id}
func (h *ItemHandler) GetItemHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := PathID(r.URL.Path, "/api/items/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Item id is required")
		return
	}

	item, err := h.items.GetWorkItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Item not found")
			return
		}
		h.logger.Error().Str("item_id", id).Err(err).Msg("Failed to get work item")
		WriteError(w, http.StatusInternalServerError, "Failed to get item")
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

// ListOwnerItemsHandler handles GET /api/owners/{id}/items?limit=
func (h *ItemHandler) ListOwnerItemsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ownerID, err := PathOwnerID(r.URL.Path, "/api/owners/")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := QueryInt(r, "limit", 20, 100)

	items, err := h.items.ListWorkItemsByOwner(r.Context(), ownerID, limit)
	if err != nil {
		h.logger.Error().Int64("owner_id", ownerID).Err(err).Msg("Failed to list work items")
		WriteError(w, http.StatusInternalServerError, "Failed to list items")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id": ownerID,
		"items":    items,
		"count":    len(items),
	})
}
