package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaycore/relaycore/audit"
	"github.com/relaycore/relaycore/backoff"
	"github.com/relaycore/relaycore/candidate"
	"github.com/relaycore/relaycore/config"
	"github.com/relaycore/relaycore/gate"
	"github.com/relaycore/relaycore/health"
	"github.com/relaycore/relaycore/internal/database"
	"github.com/relaycore/relaycore/internal/server"
	"github.com/relaycore/relaycore/internal/telemetry"
	"github.com/relaycore/relaycore/llm"
	"github.com/relaycore/relaycore/llm/idempotency"
	"github.com/relaycore/relaycore/llm/tools"
	"github.com/relaycore/relaycore/quotatools"
	"github.com/relaycore/relaycore/router"
)

// Server is the AgentFlow process: the reliable router, its quota tools,
// and the HTTP surface in front of them.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	telemetry  *telemetry.Providers
	db         *gorm.DB

	tracker      *health.Tracker
	backoffStore *backoff.Store
	auditSink    *audit.BroadcastSink
	router       *router.Router
	gate         *gate.Gate
	tools        tools.ToolRegistry

	httpManager *server.Manager
}

// NewServer wires C3-C9 together around cfg. db may be nil: the SQLite
// audit driver does not use it, and any other audit driver then falls back
// to broadcast-only (nothing is persisted).
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{cfg: cfg, configPath: configPath, logger: logger, telemetry: otelProviders, db: db}
}

// Start builds the reliability stack and brings up the HTTP listener.
// Non-blocking; call WaitForShutdown to block for a signal.
func (s *Server) Start() error {
	s.tracker = health.NewTracker(health.DefaultConfig(), s.logger)
	s.backoffStore = backoff.NewStore(backoff.DefaultCapacity)

	sink, err := s.buildAuditSink()
	if err != nil {
		s.logger.Warn("audit sink unavailable, falling back to broadcast-only", zap.Error(err))
		sink = audit.NopSink{}
	}
	s.auditSink = audit.NewBroadcastSink(sink, s.logger)

	s.router = router.New(s.cfg, s.tracker, s.backoffStore, s.auditSink, s.logger)
	s.gate = gate.New(s.tracker, s.backoffStore, s.router.LastSeenQuota(), s.cfg.Reliability, s.logger)

	s.tools = tools.NewDefaultRegistry(s.logger)
	idem := idempotency.NewMemoryManager(s.logger)
	if err := quotatools.Register(s.tools, idem, s.router, s.auditSink, s.logger); err != nil {
		return fmt.Errorf("failed to register quota tools: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/events", s.auditSink.ServeHTTP)
	mux.HandleFunc("/v1/chat/completions", s.handleChat)
	mux.HandleFunc("/v1/chat/completions/stream", s.handleStream)
	mux.HandleFunc("/v1/quota/report", s.handleQuotaReport)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) buildAuditSink() (audit.Sink, error) {
	if !s.cfg.Audit.Enabled {
		return audit.NopSink{}, nil
	}
	if s.cfg.Audit.Driver == "" || s.cfg.Audit.Driver == "sqlite" {
		dsn := s.cfg.Audit.DSN
		if dsn == "" {
			dsn = "relaycore_audit.db"
		}
		return audit.NewSQLiteSink(dsn, s.logger)
	}
	if s.db == nil {
		return audit.NopSink{}, fmt.Errorf("audit driver %q requires a database connection", s.cfg.Audit.Driver)
	}
	pool, err := database.NewPoolManager(s.db, database.DefaultPoolConfig(), s.logger)
	if err != nil {
		return audit.NopSink{}, fmt.Errorf("audit pool init failed: %w", err)
	}
	return audit.NewGormSink(pool, s.logger)
}

// chatHTTPRequest is the wire shape of /v1/chat/completions: the router's
// family-keyed candidate pool isn't part of llm.ChatRequest itself, since
// the router (not the provider) decides which candidate answers a family.
type chatHTTPRequest struct {
	Family string `json:"family"`
	llm.ChatRequest
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Family == "" {
		http.Error(w, "family is required", http.StatusBadRequest)
		return
	}

	advisory := s.gate.PreFlight(r.Context(), candidate.Candidate{Family: req.Family, Model: req.Model}, 1)
	resp, err := s.router.Chat(r.Context(), req.Family, &req.ChatRequest)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeAdvisoryHeader(w, advisory)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Family == "" {
		http.Error(w, "family is required", http.StatusBadRequest)
		return
	}

	chunks, err := s.router.Stream(r.Context(), req.Family, &req.ChatRequest)
	if err != nil {
		writeProviderError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleQuotaReport(w http.ResponseWriter, r *http.Request) {
	rep := quotatools.BuildReport(s.router, r.URL.Query().Get("provider"))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rep)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func writeAdvisoryHeader(w http.ResponseWriter, a gate.Advisory) {
	if a.Warranted() {
		w.Header().Set("X-Quota-Advisory", "warranted")
	}
}

func writeProviderError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// WaitForShutdown blocks until a termination signal is received, then
// shuts everything down gracefully.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown tears the server down; safe to call more than once.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
		}
	}
	s.logger.Info("graceful shutdown completed")
}
