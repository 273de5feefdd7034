package server

import (
	"encoding/json"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleHealth returns liveness plus a small status summary.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"clients":   s.hub.ClientCount(),
		"channels":  s.hub.ChannelNames(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// handleStats returns introspection data across the resilience layers and
// the hub.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"fetch":    s.orchestrator.GetStats(),
		"channels": s.hub.GetStats(),
	}
	if s.collector != nil {
		response["usage"] = s.collector.GetSnapshot()
	}
	writeJSON(w, http.StatusOK, response)
}

// handleClients lists connected clients and their subscriptions.
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := s.hub.GetClients()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clients": clients,
		"count":   len(clients),
	})
}
