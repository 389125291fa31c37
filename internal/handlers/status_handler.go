package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
)

// StatusHandler reports queue and login state
type StatusHandler struct {
	queue  QueueStats
	login  LoginIndicator
	logger arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler. login may be nil.
func NewStatusHandler(queue QueueStats, login LoginIndicator, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		queue:  queue,
		login:  login,
		logger: logger,
	}
}

// QueueHandler handles GET /api/queue
func (h *StatusHandler) QueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats := h.queue.Stats()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"depth":             stats.Depth,
		"workers":           stats.Workers,
		"running":           stats.Running,
		"login_in_progress": h.login != nil && h.login.InProgress(),
	})
}
