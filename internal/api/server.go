// Package api serves the sample tracking dashboard over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"onebreath/internal/analysis"
	"onebreath/internal/auth"
	"onebreath/internal/blob"
	"onebreath/internal/export"
	"onebreath/internal/lifecycle"
	"onebreath/internal/notify"
	"onebreath/internal/observability"
	"onebreath/pkg/domain"
)

// Analyzer produces cached insights over the analyzed dataset.
type Analyzer interface {
	Insights(ctx context.Context) (analysis.Insight, error)
}

// Monitor is the lifecycle sweep surface used by the API.
type Monitor interface {
	Nudge()
	Sweep(ctx context.Context) (lifecycle.Report, error)
	LastReport() (lifecycle.Report, bool)
}

// Backuper snapshots the sample store.
type Backuper interface {
	Backup(ctx context.Context) (export.BackupResult, error)
}

// Deps are the collaborators a Server routes requests to. Store, Blobs and
// Verifier are required.
type Deps struct {
	Store    domain.Store
	Blobs    blob.Store
	Verifier auth.Verifier
	Notifier notify.Notifier
	Analyzer Analyzer
	Monitor  Monitor
	Backuper Backuper
	Logs     *observability.LogSink
	Metrics  *observability.Metrics
	Clock    domain.Clock
	Logger   *zap.Logger
}

// Config tunes request handling.
type Config struct {
	CORSOrigins        []string
	RequestTimeout     time.Duration
	RequestHistory     int
	PresignExpiry      time.Duration
	ProcessingDuration time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.RequestHistory <= 0 {
		c.RequestHistory = 1000
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = blob.DefaultPresignExpiry
	}
	if c.ProcessingDuration <= 0 {
		c.ProcessingDuration = domain.ProcessingDuration
	}
	return c
}

// Server routes the dashboard API.
type Server struct {
	router   chi.Router
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	clock    domain.Clock
	requests *RequestLog
	streams  atomic.Int64
}

// NewServer validates deps and builds the router.
func NewServer(deps Deps, cfg Config) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("api: store required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("api: blob store required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("api: token verifier required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &Server{
		router:   chi.NewRouter(),
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		clock:    deps.Clock,
		requests: NewRequestLog(cfg.RequestHistory),
	}
	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Requests exposes the request log ring.
func (s *Server) Requests() *RequestLog { return s.requests }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.recoverer)
	r.Use(cors.Handler(s.corsOptions()))
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	timeout := middleware.Timeout(s.cfg.RequestTimeout)
	r.With(timeout).Post("/api/auth/signin", s.handleSignIn("User authenticated", "Invalid token"))
	r.With(timeout).Post("/api/auth/googleSignIn", s.handleSignIn("Google sign-in successful", "Failed to authenticate with Google"))

	r.Group(func(r chi.Router) {
		r.Use(timeout)
		r.Use(s.authenticate)
		r.Use(s.nudge)
		r.Get("/samples", s.handleListSamples)
		r.Post("/samples", s.handleRegisterSample)
		r.Get("/samples/{chipID}", s.handleGetSample)
		r.Post("/update_sample", s.handleUpdateSample)
		r.Post("/update_patient_info", s.handleUpdatePatientInfo)
		r.Post("/upload_document_metadata", s.handleDocumentMetadata)
		r.Post("/generate_presigned_url", s.handlePresign)
		r.Post("/upload_from_memory", s.handleUploadFromMemory)
		r.Get("/completed_samples", s.handleCompletedSamples)
		r.Get("/download_dataset", s.handleDownloadDataset)
		r.Get("/analyzed", s.handleAnalyzed)
		r.Get("/dashboard/summary", s.handleDashboardSummary)
		r.Get("/ai_analysis", s.handleAIAnalysis)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireAdmin)
		// The stream is long-lived and stays outside the request timeout.
		r.Get("/logs/stream", s.handleLogStream)
		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Get("/health", s.handleAdminHealth)
			r.Get("/logs/error", s.handleErrorLogs)
			r.Get("/logs/request", s.handleRequestLogs)
			r.Get("/metrics", s.handleAdminMetrics)
			r.Post("/sweep", s.handleSweep)
			r.Post("/backup", s.handleBackup)
		})
	})
}
