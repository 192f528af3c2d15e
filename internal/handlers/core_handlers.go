package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleHealth reports liveness and whether the store answers.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
		defer cancel()

		resp := HealthResponse{Status: "ok", Database: "ok", Timestamp: time.Now().UTC()}
		status := http.StatusOK
		if err := s.Store.Ping(ctx); err != nil {
			s.Logger.Warn("Health check: store unreachable", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
