// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/internal/auth"
	"github.com/silk-labs/silk-indexer/internal/chain"
	"github.com/silk-labs/silk-indexer/internal/config"
	"github.com/silk-labs/silk-indexer/internal/feed"
	"github.com/silk-labs/silk-indexer/internal/metrics"
	"github.com/silk-labs/silk-indexer/internal/storage"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// HTTPServer serves the read API over the mirror
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	connection     *chain.ConnectionManager
	poller         *feed.Poller
	auth           *auth.Service
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	version        string
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	store storage.Storage,
	connection *chain.ConnectionManager,
	poller *feed.Poller,
	authService *auth.Service,
	metricsManager *metrics.Manager,
	version string,
) *HTTPServer {
	s := &HTTPServer{
		config:         cfg,
		storage:        store,
		connection:     connection,
		poller:         poller,
		auth:           authService,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		version:        version,
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Key issuance stays open; everything below it requires a key when
	// auth is enabled.
	api.HandleFunc("/auth/challenge", s.authChallengeHandler).Methods("POST")
	api.HandleFunc("/auth/verify", s.authVerifyHandler).Methods("POST")

	protected := api.NewRoute().Subrouter()
	if s.config.EnableAuth {
		protected.Use(s.authMiddleware)
	}
	protected.HandleFunc("/auth/revoke", s.authRevokeHandler).Methods("POST")
	protected.HandleFunc("/accounts", s.listAccountsHandler).Methods("GET")
	protected.HandleFunc("/accounts/{address}", s.getAccountHandler).Methods("GET")
	protected.HandleFunc("/accounts/{address}/events", s.listEventsHandler).Methods("GET")
	protected.HandleFunc("/operators/{address}/accounts", s.operatorAccountsHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"auth_enabled":    s.config.EnableAuth,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth()
		go s.componentHealthUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) componentHealthUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth()
	}
}

func (s *HTTPServer) updateComponentHealth() {
	prom := s.metricsManager.GetPrometheusMetrics()
	if s.storage != nil {
		prom.UpdateComponentHealth("storage", s.storage.GetHealth().Healthy)
	}
	if s.connection != nil {
		prom.UpdateComponentHealth("chain", s.connection.IsHealthy())
	}
	if s.poller != nil {
		prom.UpdateComponentHealth("feed", s.poller.IsRunning())
	}
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
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
