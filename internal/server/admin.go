package server

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status      string `json:"status"`
	Services    int    `json:"services"`
	LastRefresh string `json:"last_refresh,omitempty"`
	Circuit     string `json:"circuit"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()

	health := healthResponse{
		Status:   "healthy",
		Services: stats.Services,
		Circuit:  stats.Circuit.State.String(),
		Error:    stats.LastRefreshError,
	}
	if !stats.LastRefresh.IsZero() {
		health.LastRefresh = stats.LastRefresh.Format(time.RFC3339)
	}
	if !s.cache.Healthy() {
		health.Status = "degraded"
	}

	// Degraded still answers 200: cached configs keep being served
	writeJSON(w, http.StatusOK, health)
}

type statsResponse struct {
	Cache       any `json:"cache"`
	RenderCache any `json:"render_cache,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Cache: s.cache.Stats()}
	if s.render != nil {
		resp.RenderCache = s.render.Metrics()
	}

	writeJSON(w, http.StatusOK, resp)
}
