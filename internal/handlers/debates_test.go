package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krjordan/quorum/internal/database"
	"github.com/krjordan/quorum/internal/debate"
	"github.com/krjordan/quorum/internal/llm"
	"github.com/krjordan/quorum/internal/models"
	"github.com/krjordan/quorum/internal/tokens"
)

type stubProvider struct{}

func (stubProvider) Name() string            { return "stub" }
func (stubProvider) SupportsStreaming() bool { return false }

func (stubProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Content: "a position", Usage: llm.Usage{InputTokens: 8, OutputTokens: 4}}, nil
}

func (s stubProvider) Stream(ctx context.Context, req llm.Request, onDelta llm.DeltaFunc) (llm.Response, error) {
	return s.Complete(ctx, req)
}

type stubResolver struct{}

func (stubResolver) ProviderFor(model string) (llm.Provider, error) {
	return stubProvider{}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	counter := tokens.NewCounter(logger)
	service := debate.NewService(stubResolver{}, debate.NewAssembler(counter, 0), counter, nil, nil, logger)

	router := gin.New()
	handler := NewDebateHandler(service, nil, logger)
	handler.RegisterRoutes(router, prometheus.NewRegistry())
	return router
}

func validBody() []byte {
	body, _ := json.Marshal(models.DebateConfig{
		Topic:     "Will remote work outlast the decade?",
		MaxRounds: 1,
		Participants: []models.ParticipantConfig{
			{Name: "Optimist", Model: "gpt-4o"},
			{Name: "Skeptic", Model: "claude-3-5-sonnet-20241022"},
		},
	})
	return body
}

func createDebate(t *testing.T, router *gin.Engine) models.Debate {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/debates", bytes.NewReader(validBody()))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var d models.Debate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	return d
}

func do(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestCreateDebateEndpoint(t *testing.T) {
	router := newTestRouter(t)

	d := createDebate(t, router)
	assert.True(t, strings.HasPrefix(d.ID, "debate_"))
	assert.Equal(t, models.StatusInitialized, d.Status)
}

func TestCreateDebateRejectsBadConfig(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/debates", strings.NewReader(`{"topic":""}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/debates", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDebateEndpoint(t *testing.T) {
	router := newTestRouter(t)
	d := createDebate(t, router)

	w := do(router, http.MethodGet, "/api/debates/"+d.ID)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/debates/debate_missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDebatesEndpoint(t *testing.T) {
	router := newTestRouter(t)
	createDebate(t, router)
	createDebate(t, router)

	w := do(router, http.MethodGet, "/api/debates")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Debates []models.Debate `json:"debates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Debates, 2)
}

func sseEvents(t *testing.T, body string) []models.TurnEvent {
	t.Helper()
	var out []models.TurnEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.TurnEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		out = append(out, ev)
	}
	return out
}

func TestNextTurnStreamsSSE(t *testing.T) {
	router := newTestRouter(t)
	d := createDebate(t, router)

	w := do(router, http.MethodGet, "/api/debates/"+d.ID+"/next-turn")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	events := sseEvents(t, w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventDebateStart, events[0].EventType)
	assert.Equal(t, models.EventCostUpdate, events[len(events)-1].EventType)
	for _, ev := range events {
		assert.Equal(t, d.ID, ev.DebateID)
	}
}

func TestNextTurnUnknownDebateIs404(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/api/debates/debate_missing/next-turn")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseRefusesNextTurn(t *testing.T) {
	router := newTestRouter(t)
	d := createDebate(t, router)

	// Pause is invalid before the first turn.
	w := do(router, http.MethodPost, "/api/debates/"+d.ID+"/pause")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	do(router, http.MethodGet, "/api/debates/"+d.ID+"/next-turn")

	w = do(router, http.MethodPost, "/api/debates/"+d.ID+"/pause")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/debates/"+d.ID+"/next-turn")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/debates/"+d.ID+"/resume")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/debates/"+d.ID+"/next-turn")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStopEndpoint(t *testing.T) {
	router := newTestRouter(t)
	d := createDebate(t, router)

	w := do(router, http.MethodPost, "/api/debates/"+d.ID+"/stop")
	require.Equal(t, http.StatusOK, w.Code)

	var stopped models.Debate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stopped))
	assert.Equal(t, models.StatusStopped, stopped.Status)

	events := sseEvents(t, do(router, http.MethodGet, "/api/debates/"+d.ID+"/next-turn").Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDebateComplete, events[0].EventType)
}

func TestSummaryAndExportEndpoints(t *testing.T) {
	router := newTestRouter(t)
	d := createDebate(t, router)
	do(router, http.MethodGet, "/api/debates/"+d.ID+"/next-turn")
	do(router, http.MethodGet, "/api/debates/"+d.ID+"/next-turn")

	w := do(router, http.MethodGet, "/api/debates/"+d.ID+"/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var summary models.DebateSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.RoundsCompleted)

	w = do(router, http.MethodGet, "/api/debates/"+d.ID+"/export")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, w.Body.String(), "# Debate:")

	w = do(router, http.MethodGet, "/api/debates/"+d.ID+"/export?format=json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	w = do(router, http.MethodGet, "/api/debates/"+d.ID+"/export?format=pdf")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeQualityReader struct {
	conversationID string
	contradictions []models.Contradiction
	loops          []models.Loop
	sample         *models.HealthSample
}

func (f *fakeQualityReader) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	if id != f.conversationID {
		return nil, database.ErrNotFound
	}
	return &models.Conversation{ID: id, Topic: "test topic", CurrentHealthScore: 82}, nil
}

func (f *fakeQualityReader) MessageCount(_ context.Context, _ string) (int, error) {
	return 4, nil
}

func (f *fakeQualityReader) CitationCount(_ context.Context, _ string) (int, error) {
	return 2, nil
}

func (f *fakeQualityReader) Contradictions(_ context.Context, _ string) ([]models.Contradiction, error) {
	return f.contradictions, nil
}

func (f *fakeQualityReader) Loops(_ context.Context, _ string) ([]models.Loop, error) {
	return f.loops, nil
}

func (f *fakeQualityReader) LatestHealthSample(_ context.Context, _ string) (*models.HealthSample, error) {
	if f.sample == nil {
		return nil, database.ErrNotFound
	}
	return f.sample, nil
}

func TestQualityEndpoint(t *testing.T) {
	router := newTestRouter(t)
	d := createDebate(t, router)

	// No reader wired: the endpoint reports the feature as unavailable.
	w := do(router, http.MethodGet, "/api/debates/"+d.ID+"/quality")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestQualityEndpointWithReader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	counter := tokens.NewCounter(logger)
	service := debate.NewService(stubResolver{}, debate.NewAssembler(counter, 0), counter, nil, nil, logger)

	router := gin.New()
	handler := NewDebateHandler(service, nil, logger)
	handler.SetQualityReader(&fakeQualityReader{
		conversationID: "debate_abc",
		contradictions: []models.Contradiction{{ID: "c1", Severity: models.SeverityMedium}},
		sample:         &models.HealthSample{HealthScore: 82, Status: models.HealthGood},
	})
	handler.RegisterRoutes(router, nil)

	w := do(router, http.MethodGet, "/api/debates/debate_abc/quality")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "debate_abc", resp["conversation_id"])
	assert.Equal(t, float64(4), resp["message_count"])
	assert.Equal(t, float64(2), resp["citation_count"])
	assert.Len(t, resp["contradictions"], 1)
	assert.NotNil(t, resp["latest_sample"])

	w = do(router, http.MethodGet, "/api/debates/debate_missing/quality")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	router := newTestRouter(t)
	d := createDebate(t, router)

	assert.Equal(t, http.StatusOK, do(router, http.MethodDelete, "/api/debates/"+d.ID).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodDelete, "/api/debates/"+d.ID).Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}
