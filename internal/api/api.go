package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/pygate/pygate/internal/config"
	"github.com/pygate/pygate/internal/consent"
	"github.com/pygate/pygate/internal/gate"
	"github.com/pygate/pygate/internal/statestore"
	"github.com/pygate/pygate/internal/toolreg"

	_ "github.com/pygate/pygate/build/swagger" // Import generated docs
)

// @title pygate API
// @version 1.0
// @description REST API for gating interpreter operations through scanning and consent, managing always-allow grants, and querying the audit trail.
// @description
// @description ## Features
// @description - Submit cell executions and patches through the gating pipeline
// @description - Register and manage dynamic tools
// @description - Resolve pending consent requests
// @description - Manage always-allow grants
// @description - Query the audit trail
// @description - Switch between consent-required and auto-approve modes

// @contact.name pygate
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter your API key (with or without "Bearer " prefix)

// APIServer provides the HTTP surface for the gating pipeline
type APIServer struct {
	config     *config.APIConfig
	pipeline   *gate.Pipeline
	consent    *consent.Manager
	registry   *toolreg.Registry
	stateStore statestore.StateStore
	rules      *config.Store
	router     *http.ServeMux
	server     *http.Server
	logger     *slog.Logger
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.APIConfig, pipeline *gate.Pipeline, consentMgr *consent.Manager, registry *toolreg.Registry, store statestore.StateStore, rules *config.Store, logger *slog.Logger) *APIServer {
	api := &APIServer{
		config:     cfg,
		pipeline:   pipeline,
		consent:    consentMgr,
		registry:   registry,
		stateStore: store,
		rules:      rules,
		router:     http.NewServeMux(),
		logger:     logger,
	}

	api.setupRoutes()

	api.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 6 * time.Minute, // gated operations block on consent
		IdleTimeout:  60 * time.Second,
	}

	return api
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Gated operations (POST)
	s.router.HandleFunc("/api/v1/cells/execute", s.corsMiddleware(s.authMiddleware(s.handleExecuteCell, true)))
	s.router.HandleFunc("/api/v1/cells/patch", s.corsMiddleware(s.authMiddleware(s.handlePatchCell, true)))

	// Tool registry
	s.router.HandleFunc("/api/v1/tools", s.corsMiddleware(s.authMiddleware(s.handleTools, false)))
	s.router.HandleFunc("/api/v1/tools/", s.corsMiddleware(s.authMiddleware(s.handleToolByName, false)))

	// Consent requests
	s.router.HandleFunc("/api/v1/consents/pending", s.corsMiddleware(s.authMiddleware(s.handleListPendingConsents, false)))
	s.router.HandleFunc("/api/v1/consents/decision", s.corsMiddleware(s.authMiddleware(s.handleConsentDecision, true)))

	// Always-allow grants
	s.router.HandleFunc("/api/v1/grants", s.corsMiddleware(s.authMiddleware(s.handleGrants, false)))

	// Audit trail (GET)
	s.router.HandleFunc("/api/v1/audit", s.corsMiddleware(s.authMiddleware(s.handleListAudit, false)))

	// Session mode
	s.router.HandleFunc("/api/v1/mode", s.corsMiddleware(s.authMiddleware(s.handleMode, false)))

	// Swagger documentation
	s.router.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Redirect root to swagger
	s.router.HandleFunc("/", s.handleRootRedirect)
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func (s *APIServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// authMiddleware provides optional API key authentication
// requireWrite indicates if this is a write operation that should be blocked in read-only mode
func (s *APIServer) authMiddleware(next http.HandlerFunc, requireWrite bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requireWrite && s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		if s.config.APIKey != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				s.respondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Accept both "Bearer <token>" and just "<token>"
			token := authHeader
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if token != s.config.APIKey {
				s.respondError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
		}

		next(w, r)
	}
}

// Start starts the API server and blocks until the context is cancelled
func (s *APIServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("API server is disabled")
		return nil
	}

	s.logger.Info("starting API server",
		"port", s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error",
				"error", err.Error())
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON sends a JSON response
func (s *APIServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response",
			"error", err.Error())
	}
}

// respondError sends an error response
func (s *APIServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseQueryParam extracts a query parameter from the request
func parseQueryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// parseQueryParamInt extracts an integer query parameter
func parseQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
		return intValue
	}
	return defaultValue
}

// handleRootRedirect redirects / to /swagger/
func (s *APIServer) handleRootRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
}
