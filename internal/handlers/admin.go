package handlers

import (
	"context"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/counters"
)

const healthTimeout = 2 * time.Second

// HandleReconcile runs a counter reconciliation pass for ?scope= (default all)
func (s *Server) HandleReconcile() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		scope := r.URL.Query().Get("scope")
		if scope == "" {
			scope = counters.ScopeAll
		}
		start := time.Now()
		report, err := s.Reconciler.Reconcile(r.Context(), scope)
		if err != nil {
			return err
		}
		s.Metrics.AddOperationLatency("reconcile_request", time.Since(start))
		writeJSON(w, http.StatusOK, single(report))
		return nil
	})
}

// HandleHealth pings the user store
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		body := map[string]any{
			"status":      "ok",
			"uptime":      s.Metrics.Uptime().Round(time.Second).String(),
			"server_time": time.Now().UTC(),
		}
		if _, err := s.Stores.Users.Count(ctx, bson.M{}); err != nil {
			s.Logger.Error("health check failed", "error", err)
			body["status"] = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}
