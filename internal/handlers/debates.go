// Package handlers exposes the debate orchestrator over HTTP: JSON CRUD
// endpoints plus the SSE turn stream.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/database"
	"github.com/krjordan/quorum/internal/debate"
	"github.com/krjordan/quorum/internal/models"
)

// QualityReader is the slice of the store the quality endpoint reads from.
type QualityReader interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	MessageCount(ctx context.Context, conversationID string) (int, error)
	CitationCount(ctx context.Context, conversationID string) (int, error)
	Contradictions(ctx context.Context, conversationID string) ([]models.Contradiction, error)
	Loops(ctx context.Context, conversationID string) ([]models.Loop, error)
	LatestHealthSample(ctx context.Context, conversationID string) (*models.HealthSample, error)
}

// DebateHandler serves the debate API.
type DebateHandler struct {
	service *debate.Service
	quality QualityReader
	dbPing  func() error
	logger  *logrus.Logger
}

// NewDebateHandler creates the handler. dbPing may be nil when the server
// runs without a database.
func NewDebateHandler(service *debate.Service, dbPing func() error, logger *logrus.Logger) *DebateHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &DebateHandler{service: service, dbPing: dbPing, logger: logger}
}

// SetQualityReader enables the quality endpoint. Without it the endpoint
// reports quality analysis as disabled.
func (h *DebateHandler) SetQualityReader(reader QualityReader) {
	h.quality = reader
}

// RegisterRoutes mounts the API on the router.
func (h *DebateHandler) RegisterRoutes(router *gin.Engine, gatherer prometheus.Gatherer) {
	api := router.Group("/api")
	{
		debates := api.Group("/debates")
		{
			debates.POST("", h.CreateDebate)
			debates.GET("", h.ListDebates)
			debates.GET("/:id", h.GetDebate)
			debates.GET("/:id/next-turn", h.NextTurn)
			debates.POST("/:id/stop", h.StopDebate)
			debates.POST("/:id/pause", h.PauseDebate)
			debates.POST("/:id/resume", h.ResumeDebate)
			debates.GET("/:id/summary", h.GetSummary)
			debates.GET("/:id/quality", h.GetQuality)
			debates.GET("/:id/export", h.ExportDebate)
			debates.DELETE("/:id", h.DeleteDebate)
		}
	}

	router.GET("/health", h.Health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// respondError maps service errors onto HTTP status codes.
func (h *DebateHandler) respondError(c *gin.Context, err error) {
	var verr *debate.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, debate.ErrNotFound), errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, debate.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CreateDebate handles POST /api/debates.
func (h *DebateHandler) CreateDebate(c *gin.Context) {
	var config models.DebateConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	d, err := h.service.Create(config)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// ListDebates handles GET /api/debates.
func (h *DebateHandler) ListDebates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"debates": h.service.List()})
}

// GetDebate handles GET /api/debates/:id.
func (h *DebateHandler) GetDebate(c *gin.Context) {
	d, err := h.service.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// NextTurn handles GET /api/debates/:id/next-turn as an SSE stream. One call
// runs exactly one participant turn; the connection closes when the turn's
// events are exhausted.
func (h *DebateHandler) NextTurn(c *gin.Context) {
	events, err := h.service.NextTurn(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Headers must go out before the first frame.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.logger.Error("Streaming not supported")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.WithError(err).Error("Failed to encode turn event")
				continue
			}
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(payload)
			c.Writer.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// StopDebate handles POST /api/debates/:id/stop.
func (h *DebateHandler) StopDebate(c *gin.Context) {
	d, err := h.service.Stop(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// PauseDebate handles POST /api/debates/:id/pause.
func (h *DebateHandler) PauseDebate(c *gin.Context) {
	d, err := h.service.Pause(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ResumeDebate handles POST /api/debates/:id/resume.
func (h *DebateHandler) ResumeDebate(c *gin.Context) {
	d, err := h.service.Resume(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetSummary handles GET /api/debates/:id/summary.
func (h *DebateHandler) GetSummary(c *gin.Context) {
	summary, err := h.service.Summary(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetQuality handles GET /api/debates/:id/quality, reporting the persisted
// analysis for a debate's conversation.
func (h *DebateHandler) GetQuality(c *gin.Context) {
	if h.quality == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quality analysis disabled"})
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()

	conv, err := h.quality.GetConversation(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	messageCount, err := h.quality.MessageCount(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	citationCount, err := h.quality.CitationCount(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	contradictions, err := h.quality.Contradictions(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	loops, err := h.quality.Loops(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := gin.H{
		"conversation_id": conv.ID,
		"topic":           conv.Topic,
		"health_score":    conv.CurrentHealthScore,
		"message_count":   messageCount,
		"citation_count":  citationCount,
		"contradictions":  contradictions,
		"loops":           loops,
	}
	sample, err := h.quality.LatestHealthSample(ctx, id)
	switch {
	case err == nil:
		resp["latest_sample"] = sample
	case !errors.Is(err, database.ErrNotFound):
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ExportDebate handles GET /api/debates/:id/export. The default format is
// markdown; ?format=json returns the raw debate state.
func (h *DebateHandler) ExportDebate(c *gin.Context) {
	id := c.Param("id")
	switch c.DefaultQuery("format", "markdown") {
	case "json":
		d, err := h.service.Get(id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+id+`.json"`)
		c.JSON(http.StatusOK, d)
	case "markdown", "md":
		doc, err := h.service.ExportMarkdown(id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+id+`.md"`)
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(doc))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format, use markdown or json"})
	}
}

// DeleteDebate handles DELETE /api/debates/:id.
func (h *DebateHandler) DeleteDebate(c *gin.Context) {
	if err := h.service.Delete(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Health handles GET /health.
func (h *DebateHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	if h.dbPing != nil {
		if err := h.dbPing(); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			c.JSON(http.StatusOK, resp)
			return
		}
		resp["database"] = "ok"
	}
	c.JSON(http.StatusOK, resp)
}
