// File: internal/server/handlers.go
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/auth"
	"github.com/ecochain/eco-relayer/internal/ledger"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// healthHandler reports storage and chain reachability
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{}
	healthy := true

	if s.deps.Storage != nil {
		ok := s.deps.Storage.IsHealthy()
		components["storage"] = ok
		healthy = healthy && ok
	}
	if s.deps.Chain != nil {
		err := s.deps.Chain.HealthCheck(r.Context())
		components["chain"] = err == nil
		healthy = healthy && err == nil
	}
	// a missing queue degrades deferred retries but the relayer still serves inline mints
	components["queue"] = s.deps.QueueName

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":          state,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.deps.Version,
		"metrics_enabled": s.config.EnableMetrics,
		"components":      components,
	})
}

// verifyHandler records a facility verification and mints inline
func (s *HTTPServer) verifyHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req ledger.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		s.logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"user_id":  claims.UserID,
		}).Info("Verification requested")
	}

	details, err := s.deps.Orchestrator.VerifyAndProcess(r.Context(), orderID, &req)
	if err != nil {
		s.writeAppError(w, "Failed to verify order", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"order":   details.Order,
	})
}

// mintHandler retries minting for a single order
func (s *HTTPServer) mintHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	details, err := s.deps.Orchestrator.Retry(r.Context(), orderID)
	if err != nil {
		s.writeAppError(w, "Failed to mint eco credits", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"order":   details.Order,
		"message": "Eco credits minted successfully",
	})
}

// timelineHandler returns an order with its audit trail
func (s *HTTPServer) timelineHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	details, err := s.deps.Ledger.Details(r.Context(), orderID)
	if err != nil {
		s.writeAppError(w, "Failed to load order", err)
		return
	}

	events, err := s.deps.Ledger.Timeline(r.Context(), orderID)
	if err != nil {
		s.writeAppError(w, "Failed to load timeline", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order":    details.Order,
		"facility": details.Facility,
		"timeline": events,
	})
}

// relayerHandler processes at most one queued job
func (s *HTTPServer) relayerHandler(w http.ResponseWriter, r *http.Request) {
	processed, err := s.deps.Orchestrator.ProcessOneFromQueue(r.Context())
	if err != nil && !processed {
		s.writeAppError(w, "Failed to read minting queue", err)
		return
	}

	resp := map[string]interface{}{"processed": processed}
	if err != nil {
		// the job was taken and failed; its order now carries the failure
		resp["error"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// backgroundHandler runs the daily sweep
func (s *HTTPServer) backgroundHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Background tasks are not configured", nil)
		return
	}

	summary, err := s.deps.Sweeper.Run(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Background tasks failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

// leaderboardHandler returns a page of users ranked by minted credits
func (s *HTTPServer) leaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeAppError(w, "Invalid limit", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeAppError(w, "Invalid offset", err)
		return
	}

	board, err := s.deps.Impact.Leaderboard(r.Context(), limit, offset)
	if err != nil {
		s.writeAppError(w, "Failed to fetch leaderboard", err)
		return
	}
	s.writeJSON(w, http.StatusOK, board)
}

// progressHandler returns the caller's recycling impact
func (s *HTTPServer) progressHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		s.writeAppError(w, "Unauthorized", utils.NewAppError(utils.ErrCodeAuth, "Missing session"))
		return
	}

	progress, err := s.deps.Impact.Progress(r.Context(), claims.UserID)
	if err != nil {
		s.writeAppError(w, "Failed to calculate progress", err)
		return
	}
	s.writeJSON(w, http.StatusOK, progress)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Invalid "+key, raw)
	}
	return n, nil
}
