package server

import (
	"bufio"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"oats/internal/config"
	"oats/internal/orchestrator"
	"oats/internal/utils/id"
	"oats/pkg/types"
)

// InvestigateRequest is the POST /investigate payload.
type InvestigateRequest struct {
	Goal     string `json:"goal"`
	MaxTurns int    `json:"max_turns"`
}

// InvestigateResponse acknowledges an accepted investigation.
type InvestigateResponse struct {
	InvestigationID string                    `json:"investigation_id"`
	JobName         string                    `json:"job_name"`
	Status          types.InvestigationStatus `json:"status"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleInvestigate(c *gin.Context) {
	var req InvestigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	req.Goal = strings.TrimSpace(req.Goal)
	if req.Goal == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "goal must not be empty"})
		return
	}
	if req.MaxTurns == 0 {
		req.MaxTurns = config.DefaultMaxTurns
	}
	if req.MaxTurns < 1 || req.MaxTurns > config.MaxTurnsCap {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "max_turns must be between 1 and 50",
		})
		return
	}

	inv := &Investigation{
		ID:       id.NewInvestigationID(),
		Goal:     req.Goal,
		MaxTurns: req.MaxTurns,
		Status:   types.StatusPending,
	}
	s.tracker.Add(inv)
	s.metrics.Started()

	jobName, err := s.orch.Launch(c.Request.Context(), orchestrator.LaunchSpec{
		InvestigationID: inv.ID,
		Goal:            inv.Goal,
		MaxTurns:        inv.MaxTurns,
		Env:             s.workerEnv(),
	})
	if err != nil {
		s.logger.Error("launch failed for %s: %v", inv.ID, err)
		_ = s.transition(inv.ID, types.StatusCancelled, func(rec *Investigation) {
			rec.Error = "launch failed: " + err.Error()
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to launch investigation"})
		return
	}

	s.tracker.setJobName(inv.ID, jobName)
	s.logger.Info("accepted investigation %s (job %s)", inv.ID, jobName)

	c.JSON(http.StatusAccepted, InvestigateResponse{
		InvestigationID: inv.ID,
		JobName:         jobName,
		Status:          types.StatusPending,
	})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"investigations": s.tracker.List()})
}

func (s *Server) handleGet(c *gin.Context) {
	inv, ok := s.tracker.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "investigation not found"})
		return
	}
	c.JSON(http.StatusOK, s.refresh(c.Request.Context(), inv))
}

func (s *Server) handleDelete(c *gin.Context) {
	invID := c.Param("id")
	inv, ok := s.tracker.Get(invID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "investigation not found"})
		return
	}
	if inv.Status.Terminal() {
		// Deleting an already-finished investigation is a no-op.
		c.JSON(http.StatusOK, inv)
		return
	}

	if err := s.orch.Delete(c.Request.Context(), invID); err != nil {
		s.logger.Error("delete failed for %s: %v", invID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete investigation job"})
		return
	}
	if err := s.transition(invID, types.StatusCancelled, nil); err != nil {
		s.logger.Warn("cancel transition failed for %s: %v", invID, err)
	}

	inv, _ = s.tracker.Get(invID)
	c.JSON(http.StatusOK, inv)
}

func (s *Server) handleLogs(c *gin.Context) {
	invID := c.Param("id")
	if _, ok := s.tracker.Get(invID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "investigation not found"})
		return
	}

	follow := c.Query("follow") == "true"
	stream, err := s.orch.StreamLogs(c.Request.Context(), invID, follow)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "logs unavailable: " + err.Error()})
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	writer := c.Writer
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if _, err := writer.Write(append(scanner.Bytes(), '\n')); err != nil {
			return
		}
		writer.Flush()
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		s.logger.Debug("log stream for %s ended: %v", invID, err)
	}
}
