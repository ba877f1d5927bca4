package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Extraction
	mux.HandleFunc("/extract", s.app.ExtractHandler.StartHandler) // POST - queue an extraction
	mux.HandleFunc("/extract/", s.handleExtractRoutes)            // GET/DELETE /{userEmail}, GET /{userEmail}/orders

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleExtractRoutes routes /extract/{userEmail} and its sub-resources
func (s *Server) handleExtractRoutes(w http.ResponseWriter, r *http.Request) {
	if RouteByPathSuffix(w, r, "/extract/", []PathSuffixRouter{
		{Suffix: "/orders", Handler: s.app.ExtractHandler.OrdersHandler},
	}) {
		return
	}

	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.ExtractHandler.StatusHandler,
		http.MethodDelete: s.app.ExtractHandler.CancelHandler,
	})
}
