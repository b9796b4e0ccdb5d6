package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/filingest/internal/blob"
	"github.com/dgallion1/filingest/internal/config"
	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/metrics"
	"github.com/dgallion1/filingest/internal/pipeline"
	"github.com/dgallion1/filingest/internal/registry"
)

// Server is the HTTP API server for filingest.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	registry     *registry.Registry
	blobs        *blob.Store
	metrics      *metrics.Metrics
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. m may be nil.
func NewServer(orch *pipeline.Orchestrator, reg *registry.Registry, blobs *blob.Store, m *metrics.Metrics, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		registry:     reg,
		blobs:        blobs,
		metrics:      m,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(s.requireAPIKey)
		}

		r.Post("/api/documents", s.handleIngest)
		r.Post("/api/documents/upload", s.handleUpload)
		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/documents/{docID}", s.handleGetDocument)
		r.Get("/api/documents/{docID}/chunks", s.handleListChunks)
		r.Post("/api/documents/{docID}/reprocess", s.handleReprocess)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)
		r.Get("/api/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, filing.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, filing.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, filing.ErrInvalidTransition),
		errors.Is(err, filing.ErrConflict),
		errors.Is(err, pipeline.ErrInFlight):
		code = http.StatusConflict
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrStopped):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	jsonError(w, err.Error(), code)
}
