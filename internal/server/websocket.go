package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"oats/internal/config"
	"oats/internal/orchestrator"
	"oats/internal/utils/id"
	"oats/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients are served cross-origin; the REST surface carries no
	// cookies so origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientFrame is what the websocket peer sends.
type clientFrame struct {
	Type     string `json:"type"`
	Goal     string `json:"goal,omitempty"`
	MaxTurns int    `json:"max_turns,omitempty"`
}

// serverFrame is what the control plane sends back.
type serverFrame struct {
	Type            string                    `json:"type"`
	InvestigationID string                    `json:"investigation_id,omitempty"`
	JobName         string                    `json:"job_name,omitempty"`
	Status          types.InvestigationStatus `json:"status,omitempty"`
	Event           *types.Event              `json:"event,omitempty"`
	Error           string                    `json:"error,omitempty"`
}

const (
	frameStartInvestigation = "start_investigation"
	frameAgentMessage       = "agent_message"
	frameStatus             = "status"
	frameError              = "error"

	wsWriteTimeout = 10 * time.Second
)

// handleWebSocket runs one interactive investigation session: the client
// sends a start_investigation frame, the server launches a worker and relays
// every protocol event as an agent_message frame until the worker finishes.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	s.metrics.WSSession()

	var start clientFrame
	if err := conn.ReadJSON(&start); err != nil {
		s.writeFrame(conn, serverFrame{Type: frameError, Error: "invalid frame: " + err.Error()})
		return
	}
	if start.Type != frameStartInvestigation {
		s.writeFrame(conn, serverFrame{Type: frameError, Error: "expected a start_investigation frame"})
		return
	}

	start.Goal = strings.TrimSpace(start.Goal)
	if start.Goal == "" {
		s.writeFrame(conn, serverFrame{Type: frameError, Error: "goal must not be empty"})
		return
	}
	if start.MaxTurns == 0 {
		start.MaxTurns = config.DefaultMaxTurns
	}
	if start.MaxTurns < 1 || start.MaxTurns > config.MaxTurnsCap {
		s.writeFrame(conn, serverFrame{Type: frameError, Error: "max_turns must be between 1 and 50"})
		return
	}

	inv := &Investigation{
		ID:       id.NewInvestigationID(),
		Goal:     start.Goal,
		MaxTurns: start.MaxTurns,
		Status:   types.StatusPending,
	}
	s.tracker.Add(inv)
	s.metrics.Started()

	ctx := c.Request.Context()
	jobName, err := s.orch.Launch(ctx, orchestrator.LaunchSpec{
		InvestigationID: inv.ID,
		Goal:            inv.Goal,
		MaxTurns:        inv.MaxTurns,
		Env:             s.workerEnv(),
	})
	if err != nil {
		s.logger.Error("websocket launch failed for %s: %v", inv.ID, err)
		_ = s.transition(inv.ID, types.StatusCancelled, func(rec *Investigation) {
			rec.Error = "launch failed: " + err.Error()
		})
		s.writeFrame(conn, serverFrame{Type: frameError, Error: "failed to launch investigation"})
		return
	}
	s.tracker.setJobName(inv.ID, jobName)

	s.writeFrame(conn, serverFrame{
		Type:            frameStatus,
		InvestigationID: inv.ID,
		JobName:         jobName,
		Status:          types.StatusPending,
	})

	s.relayEvents(ctx, conn, inv.ID)

	if final, ok := s.tracker.Get(inv.ID); ok {
		final = s.refresh(ctx, final)
		s.writeFrame(conn, serverFrame{
			Type:            frameStatus,
			InvestigationID: final.ID,
			JobName:         final.JobName,
			Status:          final.Status,
		})
	}
}

// relayEvents follows the worker log stream and forwards each parseable
// event. It returns when the stream ends or a finish event arrives.
func (s *Server) relayEvents(ctx context.Context, conn *websocket.Conn, invID string) {
	stream, err := s.openLogStream(ctx, invID)
	if err != nil {
		s.writeFrame(conn, serverFrame{
			Type:            frameError,
			InvestigationID: invID,
			Error:           "log stream unavailable: " + err.Error(),
		})
		return
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ev, err := types.ParseEvent(scanner.Bytes())
		if err != nil {
			continue
		}
		if !s.writeFrame(conn, serverFrame{
			Type:            frameAgentMessage,
			InvestigationID: invID,
			Event:           &ev,
		}) {
			return
		}
		if ev.Type == types.EventFinish {
			return
		}
	}
}

// openLogStream retries while the worker pod is still being scheduled.
func (s *Server) openLogStream(ctx context.Context, invID string) (io.ReadCloser, error) {
	var stream io.ReadCloser
	var err error
	const attempts = 30
	for i := 0; i < attempts; i++ {
		stream, err = s.orch.StreamLogs(ctx, invID, true)
		if err == nil {
			return stream, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, err
}

func (s *Server) writeFrame(conn *websocket.Conn, frame serverFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("encode websocket frame: %v", err)
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write failed: %v", err)
		return false
	}
	return true
}
