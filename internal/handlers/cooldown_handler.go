package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/ternarybob/arbor"
)

// AdminTokenHeader carries the admin token for privileged routes
const AdminTokenHeader = "X-Admin-Token"

// CooldownHandler reads and clears owner upload cooldowns
type CooldownHandler struct {
	registry   CooldownRegistry
	adminToken string
	logger     arbor.ILogger
}

// NewCooldownHandler creates a new CooldownHandler. An empty adminToken disables clearing.
func NewCooldownHandler(registry CooldownRegistry, adminToken string, logger arbor.ILogger) *CooldownHandler {
	return &CooldownHandler{
		registry:   registry,
		adminToken: adminToken,
		logger:     logger,
	}
}

// GetCooldownHandler handles GET /api/cooldowns/{owner}
func (h *CooldownHandler) GetCooldownHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, err := PathOwnerID(r.URL.Path, "/api/cooldowns/")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.registry.Check(r.Context(), ownerID)
	if err != nil {
		h.logger.Error().Int64("owner_id", ownerID).Err(err).Msg("Failed to check cooldown")
		WriteError(w, http.StatusInternalServerError, "Failed to check cooldown")
		return
	}

	body := map[string]interface{}{
		"owner_id": ownerID,
		"active":   status.Active,
	}
	if status.Active {
		body["remaining_seconds"] = int(status.Remaining.Seconds())
		body["until"] = status.Until
		body["message"] = status.Message()
	}
	WriteJSON(w, http.StatusOK, body)
}

// ClearCooldownHandler handles DELETE /api/cooldowns/{owner}, requiring the admin token
func (h *CooldownHandler) ClearCooldownHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		WriteError(w, http.StatusUnauthorized, "Admin token required")
		return
	}

	ownerID, err := PathOwnerID(r.URL.Path, "/api/cooldowns/")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	wasActive, err := h.registry.Clear(r.Context(), ownerID)
	if err != nil {
		h.logger.Error().Int64("owner_id", ownerID).Err(err).Msg("Failed to clear cooldown")
		WriteError(w, http.StatusInternalServerError, "Failed to clear cooldown")
		return
	}

	h.logger.Info().Int64("owner_id", ownerID).Bool("was_active", wasActive).Msg("Cooldown cleared by admin")
	if !wasActive {
		WriteSuccess(w, "No active cooldown")
		return
	}
	WriteSuccess(w, "Cooldown cleared")
}

func (h *CooldownHandler) authorized(r *http.Request) bool {
	if h.adminToken == "" {
		return false
	}
	got := r.Header.Get(AdminTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) == 1
}
