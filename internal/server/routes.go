package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (per-owner notifications and report files)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Intake
	mux.HandleFunc("/api/submissions", s.app.SubmissionHandler.SubmitHandler) // POST multipart upload

	// API routes - Status and history
	mux.HandleFunc("/api/queue", s.app.StatusHandler.QueueHandler)
	mux.HandleFunc("/api/items/", s.app.ItemHandler.GetItemHandler)
	mux.HandleFunc("/api/owners/", s.handleOwnerRoutes)

	// API routes - Cooldowns (DELETE needs the admin token)
	mux.HandleFunc("/api/cooldowns/", s.handleCooldownRoutes)

	// System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleOwnerRoutes routes /api/owners/{id}/... requests
func (s *Server) handleOwnerRoutes(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/items") {
		s.app.ItemHandler.ListOwnerItemsHandler(w, r)
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleCooldownRoutes routes /api/cooldowns/{id} requests
func (s *Server) handleCooldownRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.CooldownHandler.GetCooldownHandler(w, r)
	case "DELETE":
		s.app.CooldownHandler.ClearCooldownHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
