package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/efebarandurmaz/giftmap/internal/export"
	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/efebarandurmaz/giftmap/internal/layout"
	"github.com/efebarandurmaz/giftmap/internal/observability"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
	"github.com/efebarandurmaz/giftmap/internal/view"
)

// Engine is the scan session the dashboard controls and reads.
type Engine interface {
	ID() string
	Version() uint64
	Status() scanqueue.Status
	Snapshot() graph.Snapshot
	Records() []view.EntityRecord
	Record(id string) (view.EntityRecord, bool)
	Layout() layout.Memory
	Start(targets ...string) error
	Enqueue(targets ...string)
	Resume() bool
	Remove(target string) bool
	Stop()
	Reset(clearLayout bool) error
}

// Config holds dashboard server configuration.
type Config struct {
	ListenAddr string
	// KeepAlive is the SSE ping interval.
	KeepAlive time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ListenAddr: ":9090", KeepAlive: 30 * time.Second}
}

// Deps are the collaborators of the dashboard server. Engine, Store and Hub
// are required.
type Deps struct {
	Engine     Engine
	Store      *Store
	Hub        *Hub
	Repository graph.Repository
	Metrics    *observability.EngineMetrics
	Audit      *observability.AuditLogger
	Health     http.Handler
	Logger     *slog.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	config *Config
	deps   Deps
	logger *slog.Logger
	router *chi.Mux
	server *http.Server
	stop   chan struct{}
}

// NewServer creates a new dashboard server.
func NewServer(config *Config, deps Deps) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: logger.With("component", "dashboard"),
		router: chi.NewRouter(),
		stop:   make(chan struct{}),
	}
	s.setupRoutes()

	// SSE streams are long-lived, so there is no write timeout.
	s.server = &http.Server{
		Addr:        config.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(corsMiddleware)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/scan", s.handleScanStatus)
		r.Post("/scan", s.handleScan)
		r.Post("/scan/stop", s.handleStop)
		r.Post("/scan/resume", s.handleResume)
		r.Post("/scan/reset", s.handleReset)
		r.Delete("/scan/queue/{target}", s.handleRemove)

		r.Get("/records", s.handleRecords)
		r.Get("/records/{id}", s.handleRecord)
		r.Get("/graph", s.handleGraph)
		r.Get("/stats", s.handleStats)
		r.Get("/logs", s.handleLogs)

		r.Get("/layout/{id}", s.handleGetLayout)
		r.Put("/layout/{id}", s.handlePutLayout)
		r.Delete("/layout", s.handleClearLayout)

		r.Post("/export/neo4j", s.handleNeo4jExport)
		r.Get("/events", s.handleSSE)
	})

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}
	if s.deps.Health != nil {
		for _, p := range []string{"/health", "/ready", "/live", "/healthz", "/readyz", "/livez"} {
			s.router.Handle(p, s.deps.Health)
		}
	}
}

// Handler returns the dashboard's router.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving the dashboard.
func (s *Server) Start() error {
	s.logger.Info("starting dashboard server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server error: %w", err)
	}
	return nil
}

// Stop closes open event streams and gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping dashboard server")
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return s.server.Shutdown(ctx)
}

type scanRequest struct {
	Targets []string `json:"targets"`
	Fresh   bool     `json:"fresh"`
}

// handleScan handles POST /api/scan
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	targets := make([]string, 0, len(req.Targets))
	for _, t := range req.Targets {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		respondError(w, http.StatusBadRequest, "at least one target is required")
		return
	}

	if req.Fresh {
		if err := s.deps.Engine.Start(targets...); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else {
		s.deps.Engine.Enqueue(targets...)
	}
	respondJSONStatus(w, http.StatusAccepted, s.overview())
}

// handleScanStatus handles GET /api/scan
func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.overview())
}

func (s *Server) overview() ScanOverview {
	sid := s.deps.Engine.ID()
	return ScanOverview{
		SessionID: sid,
		Version:   s.deps.Engine.Version(),
		Status:    s.deps.Engine.Status(),
		Runs:      s.deps.Store.ListRuns(sid),
	}
}

// handleStop handles POST /api/scan/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.Stop()
	respondJSON(w, s.overview())
}

// handleResume handles POST /api/scan/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	started := s.deps.Engine.Resume()
	respondJSON(w, map[string]any{"started": started, "status": s.deps.Engine.Status()})
}

// handleReset handles POST /api/scan/reset?layout=true
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	clearLayout, _ := strconv.ParseBool(r.URL.Query().Get("layout"))
	if err := s.deps.Engine.Reset(clearLayout); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, s.overview())
}

// handleRemove handles DELETE /api/scan/queue/{target}
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	if !s.deps.Engine.Remove(target) {
		respondError(w, http.StatusNotFound, "target not pending: "+target)
		return
	}
	respondJSON(w, s.deps.Engine.Status())
}

// handleRecords handles GET /api/records
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records := s.deps.Engine.Records()
	if role := view.Role(r.URL.Query().Get("role")); role != "" {
		filtered := make([]view.EntityRecord, 0, len(records))
		for _, rec := range records {
			if rec.Role == role {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	respondJSON(w, records)
}

// handleRecord handles GET /api/records/{id}. Bare platform ids are accepted.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.deps.Engine.Record(id)
	if !ok && !strings.HasPrefix(id, "u_") {
		rec, ok = s.deps.Engine.Record("u_" + id)
	}
	if !ok {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	respondJSON(w, rec)
}

// handleGraph handles GET /api/graph?format=json|dot|mermaid
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, span := observability.StartExportSpan(r.Context(), string(format))
	defer span.End()
	start := time.Now()

	sid := s.deps.Engine.ID()
	snap := s.deps.Engine.Snapshot()
	body, err := export.Render(snap, format)
	s.deps.Metrics.RecordExport(string(format), err)
	s.deps.Audit.LogExport(sid, string(format), len(snap.Nodes), len(snap.Edges), time.Since(start), err)
	if err != nil {
		observability.RecordError(span, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Write(body)
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sid := s.deps.Engine.ID()
	respondJSON(w, StatsResponse{
		SessionID: sid,
		Graph:     export.Build(s.deps.Engine.Snapshot()).Stats,
		Runs:      s.deps.Store.RunStats(sid),
	})
}

// handleLogs handles GET /api/logs?limit=N for the current session.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	respondJSON(w, s.deps.Store.GetLogs(s.deps.Engine.ID(), limit))
}

// handleGetLayout handles GET /api/layout/{id}
func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	pos, ok, err := s.deps.Engine.Layout().Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no stored position")
		return
	}
	respondJSON(w, pos)
}

// handlePutLayout handles PUT /api/layout/{id}
func (s *Server) handlePutLayout(w http.ResponseWriter, r *http.Request) {
	var pos layout.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		respondError(w, http.StatusBadRequest, "invalid position: "+err.Error())
		return
	}
	if err := s.deps.Engine.Layout().Put(chi.URLParam(r, "id"), pos); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearLayout handles DELETE /api/layout
func (s *Server) handleClearLayout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.Layout().Clear(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Audit.LogLayoutClear(s.deps.Engine.ID())
	w.WriteHeader(http.StatusNoContent)
}

// handleNeo4jExport handles POST /api/export/neo4j
func (s *Server) handleNeo4jExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repository == nil {
		respondError(w, http.StatusServiceUnavailable, "graph database not configured")
		return
	}

	ctx, span := observability.StartExportSpan(r.Context(), "neo4j")
	defer span.End()
	start := time.Now()

	sid := s.deps.Engine.ID()
	snap := s.deps.Engine.Snapshot()
	err := s.deps.Repository.StoreSnapshot(ctx, sid, snap)
	s.deps.Metrics.RecordExport("neo4j", err)
	s.deps.Audit.LogExport(sid, "neo4j", len(snap.Nodes), len(snap.Edges), time.Since(start), err)
	if err != nil {
		observability.RecordError(span, err)
		s.logger.Error("neo4j export failed", "session", sid, "error", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	nodes, rels, err := s.deps.Repository.CountSession(ctx, sid)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, map[string]any{
		"session_id":    sid,
		"nodes":         nodes,
		"relationships": rels,
	})
}

// handleSSE handles GET /api/events (Server-Sent Events)
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	client, err := NewClient(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s.deps.Hub.Register(client)
	defer s.deps.Hub.Unregister(client)
	s.logger.Debug("SSE client connected")

	data, _ := json.Marshal(&Event{
		Type:      "connected",
		Timestamp: time.Now(),
		SessionID: s.deps.Engine.ID(),
		Data:      s.deps.Engine.Status(),
	})
	client.Send(data)

	stop := make(chan struct{})
	go func() {
		select {
		case <-r.Context().Done():
		case <-s.stop:
		}
		close(stop)
	}()
	client.Serve(stop, s.config.KeepAlive)
	s.logger.Debug("SSE client disconnected")
}

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSONStatus(w, status, map[string]string{"error": msg})
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
