package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"oats/internal/config"
	"oats/internal/orchestrator"
	"oats/pkg/types"
)

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		ListenAddr:  ":0",
		Namespace:   "oats",
		WorkerImage: "registry.local/oats-worker:test",
		LogLevel:    "info",
		Oracle: config.OracleConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-20250514",
			APIKey:        "test-key",
			Temperature:   0.2,
			MaxTokens:     4096,
			PromptVersion: "v3",
		},
	}
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Fake) {
	t.Helper()
	fake := orchestrator.NewFake()
	srv, err := New(testServerConfig(), fake, nil)
	require.NoError(t, err)
	return srv, fake
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func startInvestigation(t *testing.T, srv *Server, fake *orchestrator.Fake) InvestigateResponse {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/investigate", InvestigateRequest{Goal: "why is checkout-api crashlooping"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp InvestigateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.InvestigationID)
	require.True(t, fake.Launched(resp.InvestigationID))
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}

func TestInvestigateAccepted(t *testing.T) {
	t.Parallel()

	srv, fake := newTestServer(t)
	resp := startInvestigation(t, srv, fake)

	require.Equal(t, types.StatusPending, resp.Status)
	require.True(t, strings.HasPrefix(resp.JobName, "investigation-"))

	got, ok := srv.tracker.Get(resp.InvestigationID)
	require.True(t, ok)
	require.Equal(t, resp.JobName, got.JobName)
	require.Equal(t, config.DefaultMaxTurns, got.MaxTurns)
}

func TestInvestigateValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/investigate", InvestigateRequest{Goal: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "goal must not be empty")

	rec = doJSON(t, srv, http.MethodPost, "/investigate", InvestigateRequest{Goal: "g", MaxTurns: 99})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "max_turns must be between 1 and 50")

	req := httptest.NewRequest(http.MethodPost, "/investigate", strings.NewReader(`{"goal": 7}`))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingLaunchOrch struct {
	*orchestrator.Fake
}

func (f *failingLaunchOrch) Launch(context.Context, orchestrator.LaunchSpec) (string, error) {
	return "", fmt.Errorf("namespace quota exceeded")
}

func TestInvestigateLaunchFailure(t *testing.T) {
	t.Parallel()

	srv, err := New(testServerConfig(), &failingLaunchOrch{orchestrator.NewFake()}, nil)
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/investigate", InvestigateRequest{Goal: "g"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Zero(t, srv.tracker.ActiveCount(), "a failed launch leaves no active record")
}

func TestGetUnknownInvestigation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/investigations/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProjectsJobPhase(t *testing.T) {
	t.Parallel()

	srv, fake := newTestServer(t)
	resp := startInvestigation(t, srv, fake)

	rec := doJSON(t, srv, http.MethodGet, "/investigations/"+resp.InvestigationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var inv Investigation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, types.StatusRunning, inv.Status, "a running job promotes pending to running")

	finish := types.NewFinishEvent(7, types.VerdictSuccess, "rolled back the bad deploy", "")
	line, err := finish.Encode()
	require.NoError(t, err)
	fake.AppendLog(resp.InvestigationID, string(line))
	fake.Complete(resp.InvestigationID)

	rec = doJSON(t, srv, http.MethodGet, "/investigations/"+resp.InvestigationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, types.StatusSucceeded, inv.Status)
	require.Equal(t, types.VerdictSuccess, inv.Verdict)
	require.Equal(t, "rolled back the bad deploy", inv.Summary)
}

func TestGetMapsDeadlineToTimedOut(t *testing.T) {
	t.Parallel()

	srv, fake := newTestServer(t)
	resp := startInvestigation(t, srv, fake)
	fake.Fail(resp.InvestigationID, "DeadlineExceeded")

	rec := doJSON(t, srv, http.MethodGet, "/investigations/"+resp.InvestigationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var inv Investigation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, types.StatusTimedOut, inv.Status)
	require.Equal(t, "DeadlineExceeded", inv.Error)
}

func TestListInvestigations(t *testing.T) {
	t.Parallel()

	srv, fake := newTestServer(t)
	startInvestigation(t, srv, fake)

	rec := doJSON(t, srv, http.MethodGet, "/investigations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Investigations []Investigation `json:"investigations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Investigations, 1)
}

func TestDeleteCancelsInvestigation(t *testing.T) {
	t.Parallel()

	srv, fake := newTestServer(t)
	resp := startInvestigation(t, srv, fake)

	rec := doJSON(t, srv, http.MethodDelete, "/investigations/"+resp.InvestigationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var inv Investigation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, types.StatusCancelled, inv.Status)
	require.False(t, fake.Launched(resp.InvestigationID), "the backing job is deleted")

	// A repeated delete is idempotent and reports the terminal record.
	rec = doJSON(t, srv, http.MethodDelete, "/investigations/"+resp.InvestigationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, types.StatusCancelled, inv.Status)
}

func TestLogsEndpointStreamsNDJSON(t *testing.T) {
	t.Parallel()

	srv, fake := newTestServer(t)
	resp := startInvestigation(t, srv, fake)

	fake.AppendLog(resp.InvestigationID, `{"type":"status","phase":"started"}`)
	fake.AppendLog(resp.InvestigationID, `{"type":"thought","turn":1,"thought":"checking pods"}`)

	rec := doJSON(t, srv, http.MethodGet, "/investigations/"+resp.InvestigationID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "checking pods")

	rec = doJSON(t, srv, http.MethodGet, "/investigations/ghost/logs", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, fake := newTestServer(t)
	startInvestigation(t, srv, fake)

	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "oats_investigations_started_total 1")
	require.Contains(t, rec.Body.String(), "oats_investigations_active 1")
}

func TestWorkerEnvCarriesOracleSettings(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	env := srv.workerEnv()
	require.Equal(t, "anthropic", env["UFFLOW_LLM_PROVIDER"])
	require.Equal(t, "claude-sonnet-4-20250514", env["UFFLOW_LLM_MODEL"])
	require.Equal(t, "test-key", env["ANTHROPIC_API_KEY"])
	require.Equal(t, "0.2", env["UFFLOW_TEMPERATURE"])
	require.Equal(t, "4096", env["UFFLOW_MAX_TOKENS"])
	require.NotContains(t, env, "OPENAI_API_KEY")
}
