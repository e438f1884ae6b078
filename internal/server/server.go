// Package server provides the HTTP API for Kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/storage"
)

// Server is the HTTP server for the Kioku API.
type Server struct {
	service *memory.Service
	storage storage.Store
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	service *memory.Service,
	store storage.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		service: service,
		storage: store,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/records", s.handleUpsertRecord)
	r.Get("/api/v1/records", s.handleListRecords)
	r.Get("/api/v1/records/{id}", s.handleGetRecord)
	r.Delete("/api/v1/records/{id}", s.handleDeleteRecord)
	r.Get("/api/v1/projects", s.handleListProjects)
	r.Delete("/api/v1/projects/{id}", s.handleDeleteProject)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
