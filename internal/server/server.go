// Package server provides the HTTP server and routing for lotledger.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/di"
	currencyhandlers "github.com/aristath/lotledger/internal/modules/currency/handlers"
	ledgerhandlers "github.com/aristath/lotledger/internal/modules/ledger/handlers"
	portfoliohandlers "github.com/aristath/lotledger/internal/modules/portfolio/handlers"
	priceshandlers "github.com/aristath/lotledger/internal/modules/prices/handlers"
	"github.com/aristath/lotledger/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Container    *di.Container    // DI container with all services
	Jobs         *di.JobInstances // Optional, enables manual job runs
	Port         int
	DevMode      bool
	BaseCurrency string // Default for portfolios created without one
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	port           int
	container      *di.Container
	systemHandlers *SystemHandlers
	baseCurrency   string
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	var backuper scheduler.Backuper
	if cfg.Container.BackupService != nil {
		backuper = cfg.Container.BackupService
	}
	var jobs JobLookup
	if cfg.Jobs != nil {
		jobs = cfg.Jobs
	}

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		port:           cfg.Port,
		container:      cfg.Container,
		systemHandlers: NewSystemHandlers(cfg.Container.Databases(), backuper, jobs, cfg.Log),
		baseCurrency:   cfg.BaseCurrency,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.DevMode)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the event stream is long-lived and API routes
		// carry their own timeout middleware.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware shared by every route
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(devMode bool) {
	c := s.container

	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Event stream: long-lived, so outside the timeout and compression
		r.Get("/events/ws", NewEventsStreamHandler(c.EventBus, s.log).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			if !devMode {
				r.Use(middleware.Compress(5))
			}

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Post("/backup", s.systemHandlers.HandleBackup)
				r.Post("/jobs/{name}", s.systemHandlers.HandleRunJob)
			})

			ledgerHandler := ledgerhandlers.NewHandler(c.LedgerRepo, c.EventManager, s.log)
			ledgerHandler.SetDefaultBaseCurrency(s.baseCurrency)
			ledgerHandler.RegisterRoutes(r)

			portfoliohandlers.NewHandler(c.PortfolioService, s.log).RegisterRoutes(r)
			currencyhandlers.NewHandler(c.RateRepo, c.EventManager, s.log).RegisterRoutes(r)
			priceshandlers.NewHandler(c.PriceRepo, c.EventManager, s.log).RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
