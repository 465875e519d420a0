package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status      string      `json:"status"`
	Timestamp   string      `json:"timestamp"`
	Version     VersionInfo `json:"version"`
	Uptime      string      `json:"uptime"`
	Goroutines  int         `json:"num_goroutines"`
	LiveClients int         `json:"live_clients"`
	RequestID   string      `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    GetVersionInfo(),
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		RequestID:  middleware.GetReqID(r.Context()),
	}
	if s.hub != nil {
		resp.LiveClients = s.hub.Clients()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
