package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"oats/internal/config"
	"oats/internal/logging"
	"oats/internal/orchestrator"
	"oats/pkg/types"
)

// Server is the stateless control plane. All durable state lives in the
// Kubernetes jobs; the tracker is a projection that can be rebuilt.
type Server struct {
	cfg     *config.ServerConfig
	orch    orchestrator.Orchestrator
	tracker *Tracker
	metrics *Metrics
	logger  logging.Logger
	router  *gin.Engine
}

// New assembles the control plane around an orchestrator.
func New(cfg *config.ServerConfig, orch orchestrator.Orchestrator, logger logging.Logger) (*Server, error) {
	tracker, err := NewTracker()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		orch:    orch,
		tracker: tracker,
		metrics: NewMetrics(tracker.ActiveCount),
		logger:  logging.OrNop(logger),
	}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if s.cfg.EnableCORS {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		router.Use(cors.New(corsCfg))
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	router.POST("/investigate", s.handleInvestigate)
	router.GET("/investigations", s.handleList)
	router.GET("/investigations/:id", s.handleGet)
	router.DELETE("/investigations/:id", s.handleDelete)
	router.GET("/investigations/:id/logs", s.handleLogs)
	router.GET("/ws", s.handleWebSocket)

	return router
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control plane listening on %s", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// workerEnv builds the oracle environment passed to every worker job.
func (s *Server) workerEnv() map[string]string {
	oracle := s.cfg.Oracle
	env := map[string]string{
		"UFFLOW_LLM_PROVIDER":   oracle.Provider,
		"UFFLOW_LLM_MODEL":      oracle.Model,
		"UFFLOW_TEMPERATURE":    fmt.Sprintf("%g", oracle.Temperature),
		"UFFLOW_MAX_TOKENS":     fmt.Sprintf("%d", oracle.MaxTokens),
		"UFFLOW_PROMPT_VERSION": oracle.PromptVersion,
		"UFFLOW_LOG_LEVEL":      s.cfg.LogLevel,
	}
	switch oracle.Provider {
	case "openai":
		env["OPENAI_API_KEY"] = oracle.APIKey
	case "anthropic":
		env["ANTHROPIC_API_KEY"] = oracle.APIKey
	}
	return env
}

// transition applies a lifecycle step and records terminal outcomes.
func (s *Server) transition(id string, status types.InvestigationStatus, update func(*Investigation)) error {
	if err := s.tracker.Transition(id, status, update); err != nil {
		return err
	}
	if status.Terminal() {
		s.metrics.Finished(string(status))
	}
	return nil
}

// refresh projects the backing job's phase onto the tracked record.
func (s *Server) refresh(ctx context.Context, inv *Investigation) *Investigation {
	if inv.Status.Terminal() {
		return inv
	}

	state, err := s.orch.State(ctx, inv.ID)
	if err != nil {
		s.logger.Debug("job state unavailable for %s: %v", inv.ID, err)
		return inv
	}

	switch state.Phase {
	case orchestrator.PhaseRunning:
		if inv.Status == types.StatusPending {
			_ = s.transition(inv.ID, types.StatusRunning, nil)
		}
	case orchestrator.PhaseSucceeded:
		if inv.Status == types.StatusPending {
			_ = s.transition(inv.ID, types.StatusRunning, nil)
		}
		verdict, summary := s.scanFinish(ctx, inv.ID)
		_ = s.transition(inv.ID, types.StatusSucceeded, func(rec *Investigation) {
			rec.Verdict = verdict
			rec.Summary = summary
		})
	case orchestrator.PhaseFailed:
		if inv.Status == types.StatusPending {
			_ = s.transition(inv.ID, types.StatusRunning, nil)
		}
		status := types.StatusFailed
		if state.Reason == "DeadlineExceeded" {
			status = types.StatusTimedOut
		}
		_ = s.transition(inv.ID, status, func(rec *Investigation) {
			rec.Error = state.Reason
		})
	}

	if updated, ok := s.tracker.Get(inv.ID); ok {
		return updated
	}
	return inv
}

// scanFinish reads the worker log stream and extracts the finish verdict.
func (s *Server) scanFinish(ctx context.Context, investigationID string) (types.Verdict, string) {
	stream, err := s.orch.StreamLogs(ctx, investigationID, false)
	if err != nil {
		s.logger.Warn("cannot read logs for %s: %v", investigationID, err)
		return "", ""
	}
	defer stream.Close()

	var verdict types.Verdict
	var summary string

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ev, err := types.ParseEvent(scanner.Bytes())
		if err != nil {
			continue
		}
		if ev.Type == types.EventFinish {
			verdict = ev.Verdict
			summary = ev.Summary
		}
	}
	return verdict, summary
}
