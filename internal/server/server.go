// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/auth"
	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/internal/impact"
	"github.com/ecochain/eco-relayer/internal/ledger"
	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/internal/relay"
	"github.com/ecochain/eco-relayer/internal/storage"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// HealthChecker is implemented by components the health route probes
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the components the HTTP surface drives
type Dependencies struct {
	Storage        storage.Storage
	Ledger         *ledger.Ledger
	Orchestrator   *relay.Orchestrator
	Sweeper        *relay.Sweeper
	Auth           *auth.Authenticator
	Impact         *impact.Service
	Chain          HealthChecker
	QueueName      string
	CronSecret     string
	Version        string
	MetricsManager *metrics.Manager
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config  *config.ServerConfig
	deps    Dependencies
	server  *http.Server
	router  *mux.Router
	handler http.Handler
	logger  *logrus.Logger

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.ServerConfig, deps Dependencies) (*HTTPServer, error) {
	if deps.Ledger == nil || deps.Orchestrator == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Server requires a ledger and an orchestrator")
	}
	if deps.Auth == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Server requires an authenticator")
	}

	if deps.Impact == nil && deps.Storage != nil {
		deps.Impact = impact.NewService(deps.Storage)
	}

	s := &HTTPServer{
		config:   cfg,
		deps:     deps,
		logger:   utils.GetLogger(),
		stopChan: make(chan struct{}),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	if s.deps.MetricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	if s.config.EnableMetrics && s.deps.MetricsManager != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.MetricsManager.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	// Order endpoints need an app session
	orders := api.PathPrefix("/orders/{id}").Subrouter()
	orders.Use(s.requireUser)
	orders.HandleFunc("/verify", s.verifyHandler).Methods(http.MethodPost)
	orders.HandleFunc("/mint", s.mintHandler).Methods(http.MethodPost)
	orders.HandleFunc("/timeline", s.timelineHandler).Methods(http.MethodGet)

	// Read models over minted orders
	if s.deps.Impact != nil {
		api.HandleFunc("/leaderboard", s.leaderboardHandler).Methods(http.MethodGet)
		api.Handle("/progress", s.requireUser(http.HandlerFunc(s.progressHandler))).Methods(http.MethodGet)
	}

	// Operational endpoints are called by schedulers
	api.Handle("/relayer", s.requireCronSecret(http.HandlerFunc(s.relayerHandler))).Methods(http.MethodPost)
	api.Handle("/background", s.requireCronSecret(http.HandlerFunc(s.backgroundHandler))).Methods(http.MethodPost)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.router)
}

// Handler returns the root handler, CORS included
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.deps.MetricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to surface immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.updateComponentMetrics()
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.deps.MetricsManager.UpdateSystemMetrics()
	pm := s.deps.MetricsManager.GetPrometheusMetrics()

	if s.deps.Storage != nil {
		pm.UpdateComponentHealth("storage", s.deps.Storage.IsHealthy())
	}
	if s.deps.Chain != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pm.UpdateComponentHealth("chain", s.deps.Chain.HealthCheck(ctx) == nil)
		cancel()
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.stopOnce.Do(func() { close(s.stopChan) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["code"] = utils.ErrorCode(err)
		errorResponse["details"] = err.Error()

		entry := s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		})
		if status >= http.StatusInternalServerError {
			entry.Error("HTTP error")
		} else {
			entry.Debug("HTTP error")
		}
	}

	s.writeJSON(w, status, errorResponse)
}

// writeAppError maps err onto its status code
func (s *HTTPServer) writeAppError(w http.ResponseWriter, message string, err error) {
	s.writeError(w, statusFor(err), message, err)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeValidation, utils.ErrCodeInvalidState:
		return http.StatusBadRequest
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeAuth:
		return http.StatusUnauthorized
	case utils.ErrCodeChainCall:
		return http.StatusBadGateway
	case utils.ErrCodeQueueUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
