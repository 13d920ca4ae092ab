package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/handler"
	"github.com/faucetdb/adminguard/internal/openapi"
	"github.com/faucetdb/adminguard/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	CORSMethods       []string
	RequestsPerMinute int
	OperatorRole      string
	TLSCertFile       string
	TLSKeyFile        string
	Version           string
	// TrustedProxies are the peers allowed to set the client address via
	// forwarding headers.
	TrustedProxies []*net.IPNet
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ShutdownTimeout:   30 * time.Second,
		CORSOrigins:       []string{"*"},
		CORSMethods:       []string{"GET", "POST", "PUT", "DELETE"},
		RequestsPerMinute: 600,
		OperatorRole:      "super_admin",
		Version:           "dev",
	}
}

// ConfigFrom maps the file configuration onto a server Config.
func ConfigFrom(fc *config.FileConfig, version string) (Config, error) {
	cfg := DefaultConfig()
	proxies, err := config.ParseNetworks(fc.Server.TrustedProxies)
	if err != nil {
		return Config{}, fmt.Errorf("server.trusted_proxies: %w", err)
	}
	cfg.TrustedProxies = proxies
	cfg.Host = fc.Server.Host
	cfg.Port = fc.Server.Port
	if fc.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = fc.Server.ShutdownTimeout
	}
	if len(fc.Server.CORS.Origins) > 0 {
		cfg.CORSOrigins = fc.Server.CORS.Origins
	}
	if len(fc.Server.CORS.Methods) > 0 {
		cfg.CORSMethods = fc.Server.CORS.Methods
	}
	cfg.RequestsPerMinute = fc.Server.RequestsPerMinute
	if fc.Auth.OperatorRole != "" {
		cfg.OperatorRole = fc.Auth.OperatorRole
	}
	if fc.Server.TLS.Enabled {
		cfg.TLSCertFile = fc.Server.TLS.CertFile
		cfg.TLSKeyFile = fc.Server.TLS.KeyFile
	}
	if version != "" {
		cfg.Version = version
	}
	return cfg, nil
}

// Server is the top-level HTTP server for adminguard. It owns the Chi router
// and the components behind the security API.
type Server struct {
	cfg      Config
	router   chi.Router
	deps     handler.Deps
	verifier middleware.AssertionVerifier
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to serve. Run it under a supervisor via Serve.
func New(cfg Config, deps handler.Deps, verifier middleware.AssertionVerifier, clk clock.Clock, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		verifier: verifier,
		clock:    clk,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TrustedProxies(s.cfg.TrustedProxies))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: append(append([]string{}, s.cfg.CORSMethods...), "OPTIONS"),
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.SessionHeader, middleware.VerifierHeader, "X-Requested-With"},
		ExposedHeaders: []string{
			"X-Request-ID",
			middleware.SessionHeader,
			middleware.VerifierHeader,
			middleware.WarningHeader,
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks, metrics and docs (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version).ServeSpec)

	// --- Security API ---
	h := handler.NewSecurityHandler(s.deps)
	handlers := map[string]http.HandlerFunc{
		"createSession":             h.CreateSession,
		"currentSession":            h.CurrentSession,
		"logout":                    h.Logout,
		"rotateSession":             h.RotateSession,
		"recordAction":              h.RecordAction,
		"listOwnActions":            h.ListActions,
		"listSessions":              h.ListSessions,
		"invalidateAllSessions":     h.InvalidateAll,
		"listSessionEvents":         h.ListEvents,
		"recordFailure":             h.RecordFailure,
		"listBlocks":                h.ListBlocks,
		"cleanupBlocks":             h.CleanupBlocks,
		"checkBlock":                h.CheckBlock,
		"unblock":                   h.Unblock,
		"listIncidents":             h.ListIncidents,
		"getIncident":               h.GetIncident,
		"resolveIncident":           h.ResolveIncident,
		"listAdminActions":          h.ListActions,
		"assessAdmin":               h.Assess,
		"alertAdmin":                h.Alert,
		"getInvalidationSchedule":   h.GetSchedule,
		"setInvalidationSchedule":   h.SetSchedule,
		"clearInvalidationSchedule": h.ClearSchedule,
	}

	r.Route(openapi.BasePath, func(r chi.Router) {
		// Blocked addresses are turned away before anything else runs.
		r.Use(middleware.Blocklist(s.deps.Limiter, s.clock.Now, s.logger))
		if s.cfg.RequestsPerMinute > 0 {
			r.Use(middleware.RateLimit(s.cfg.RequestsPerMinute))
		}
		r.Use(middleware.Identity(s.verifier, s.deps.Limiter, s.logger))
		if s.cfg.RequestsPerMinute > 0 {
			r.Use(middleware.RateLimitByAdmin(s.cfg.RequestsPerMinute))
		}

		r.Group(func(r chi.Router) {
			s.mount(r, openapi.AccessIdentity, handlers)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionGate(s.deps.Sessions, s.deps.Limiter, s.logger))
			s.mount(r, openapi.AccessSession, handlers)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(s.cfg.OperatorRole))
			s.mount(r, openapi.AccessOperator, handlers)
		})
	})

	s.router = r
}

// mount registers every documented route with the given access level.
func (s *Server) mount(r chi.Router, access openapi.Access, handlers map[string]http.HandlerFunc) {
	for _, rt := range openapi.Routes {
		if rt.Access != access {
			continue
		}
		fn, ok := handlers[rt.OperationID]
		if !ok {
			panic(fmt.Sprintf("server: no handler for operation %q", rt.OperationID))
		}
		r.Method(rt.Method, rt.Path, fn)
	}
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the security store is
// reachable, or 503 otherwise. Every gate fails closed without the store.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Serve implements suture.Service. It listens until ctx is cancelled, then
// drains in-flight requests within the shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", httpServer.Addr, "tls", s.cfg.TLSCertFile != "")
		var err error
		if s.cfg.TLSCertFile != "" {
			err = httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown requested, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("server stopped")
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "http-server"
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
