// Package server serves the published artifacts to the dashboard and
// exposes the re-run trigger and the optional store browsers.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/taxiflow/taxiflow/internal/model"
	"github.com/taxiflow/taxiflow/pkg/artifact"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/ledger"
	"github.com/taxiflow/taxiflow/pkg/logging"
	"github.com/taxiflow/taxiflow/pkg/relstore"
	"github.com/taxiflow/taxiflow/pkg/watch"
)

// Regenerate modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// Dispatcher triggers a remote pipeline run.
type Dispatcher interface {
	Trigger(ctx context.Context, payload map[string]interface{}) error
}

// SummaryStore reads summary records from the document store.
type SummaryStore interface {
	Summaries(ctx context.Context) ([]model.HourlySummary, error)
}

// TripStore reads a page of rows from the relational store.
type TripStore interface {
	Trips(ctx context.Context) (*relstore.Rows, error)
}

// Options configures a Server. Every collaborator is optional; endpoints
// whose collaborator is missing answer 503.
type Options struct {
	OutputDir   string
	CORSOrigins []string

	// Mode selects how POST /api/regenerate works.
	Mode       string
	Dispatcher Dispatcher
	// LocalRun runs the pipeline in-process (ModeLocal).
	LocalRun func(ctx context.Context) error

	Ledger   ledger.Backend
	DocStore SummaryStore
	RelStore TripStore
	Logger   *slog.Logger
}

// Server handles HTTP requests for the dashboard.
type Server struct {
	opts      Options
	artifacts *ArtifactStore
	events    *SSEBroker
	mux       *http.ServeMux
	logger    *slog.Logger
	started   time.Time

	// local regeneration
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobMu   sync.Mutex
	job     *Job
	lastJob *Job
}

// Job describes an in-process regeneration.
type Job struct {
	Status    string     `json:"status"` // running, succeeded, failed
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// NewServer creates a server and loads the current artifacts.
func NewServer(opts Options) *Server {
	if opts.Mode == "" {
		opts.Mode = ModeRemote
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		artifacts: NewArtifactStore(opts.OutputDir),
		events:    NewSSEBroker(),
		mux:       http.NewServeMux(),
		logger:    logging.OrDiscard(opts.Logger),
		started:   time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if err := s.artifacts.Reload(); err != nil {
		s.logger.Warn("artifacts unreadable", "dir", opts.OutputDir, "error", err)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP handlers.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/sample", s.handleSample)
	s.mux.HandleFunc("/api/summary", s.handleSummary)
	s.mux.HandleFunc("/api/regenerate", s.handleRegenerate)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/docstore/summary", s.handleDocSummary)
	s.mux.HandleFunc("/api/relstore/trips", s.handleRelTrips)
	s.mux.Handle("/api/events", s.events)
	s.mux.HandleFunc("/", s.handleDashboard)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && s.allowOrigin(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) allowOrigin(origin string) bool {
	for _, o := range s.opts.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Reload re-reads the artifacts and notifies dashboard clients.
func (s *Server) Reload() {
	err := s.artifacts.Reload()
	if err != nil {
		s.logger.Warn("artifacts unreadable", "dir", s.opts.OutputDir, "error", err)
		s.events.Publish("error", map[string]string{"error": err.Error()})
		return
	}
	_, hasSummary, _ := s.artifacts.Summary()
	s.logger.Info("artifacts reloaded", "dir", s.opts.OutputDir, "has_summary", hasSummary)
	s.events.Publish("artifacts", map[string]interface{}{"loaded_at": s.artifacts.LoadedAt()})
}

// Watch reloads the artifacts whenever they change on disk. Blocks until
// ctx is cancelled.
func (s *Server) Watch(ctx context.Context) error {
	// The directory may not exist before the first run.
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return tferrors.WrapFS(err, "create output directory")
	}
	w, err := watch.NewWatcher(s.opts.OutputDir, artifact.SampleFile, artifact.SummaryFile)
	if err != nil {
		return err
	}
	w.OnChange = func(string) { s.Reload() }
	w.OnError = func(err error) { s.logger.Warn("artifact watcher error", "error", err) }
	return w.Run(ctx)
}

// CloseEvents ends the open event streams so that a graceful shutdown does
// not wait on them.
func (s *Server) CloseEvents() {
	s.events.Close()
}

// Close cancels a running local regeneration and waits for it.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, hasSample, _ := s.artifacts.Sample()
	_, hasSummary, _ := s.artifacts.Summary()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"uptime_ms":   time.Since(s.started).Milliseconds(),
		"has_sample":  hasSample,
		"has_summary": hasSummary,
		"mode":        s.opts.Mode,
		"clients":     s.events.Subscribers(),
	})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	rows, ok, err := s.artifacts.Sample()
	s.writeArtifact(w, rows, ok, err)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	rows, ok, err := s.artifacts.Summary()
	s.writeArtifact(w, rows, ok, err)
}

func (s *Server) writeArtifact(w http.ResponseWriter, v interface{}, ok bool, err error) {
	switch {
	case err != nil:
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
	case !ok:
		jsonResponse(w, http.StatusNotFound, map[string]string{"status": "no_data"})
	default:
		data, err := artifact.Encode(v)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.Ledger == nil {
		jsonError(w, "run ledger not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.opts.Ledger.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "ledger", s.opts.Ledger.Name(), "error", err)
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if runs == nil {
		runs = []model.RunRecord{}
	}
	jsonResponse(w, http.StatusOK, runs)
}

func (s *Server) handleDocSummary(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.DocStore == nil {
		jsonError(w, "document store not configured", http.StatusServiceUnavailable)
		return
	}
	rows, err := s.opts.DocStore.Summaries(r.Context())
	if err != nil {
		s.logger.Error("docstore query failed", "error", err)
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonResponse(w, http.StatusOK, rows)
}

func (s *Server) handleRelTrips(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.RelStore == nil {
		jsonError(w, "relational store not configured", http.StatusServiceUnavailable)
		return
	}
	page, err := s.opts.RelStore.Trips(r.Context())
	if err != nil {
		s.logger.Error("relstore query failed", "error", err)
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonResponse(w, http.StatusOK, page)
}

// Helper functions

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	w.Header().Set("Allow", method)
	jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, status, map[string]string{"error": message})
}
