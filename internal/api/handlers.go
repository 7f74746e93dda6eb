package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/watchlist-supervisor/internal/db"
	"github.com/xpadev-net/watchlist-supervisor/internal/httpapi"
	"github.com/xpadev-net/watchlist-supervisor/internal/ids"
	"github.com/xpadev-net/watchlist-supervisor/internal/log"
	"github.com/xpadev-net/watchlist-supervisor/internal/metrics"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

// SessionReader reads persisted sessions and notifications.
type SessionReader interface {
	GetSession(ctx context.Context, streamID string) (*db.StreamSession, error)
	ListNotifications(ctx context.Context, limit int) ([]*db.Notification, error)
}

// RecordingLister reports the registered capture tasks.
type RecordingLister interface {
	Names() []string
	Has(name string) bool
}

// HealthChecker reports whether storage is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	sessions   SessionReader
	recordings RecordingLister
	health     HealthChecker
}

// NewHandler creates a new API handler.
func NewHandler(sessions SessionReader, recordings RecordingLister, health HealthChecker) *Handler {
	return &Handler{
		sessions:   sessions,
		recordings: recordings,
		health:     health,
	}
}

// RouterConfig holds the optional parts of the router.
type RouterConfig struct {
	// RateLimit is the per-client request budget per minute on /api/v1.
	RateLimit int
	Metrics   *metrics.Metrics
	// Notifications serves the websocket notification feed.
	Notifications http.HandlerFunc
}

// NewRouter builds the gin engine serving every read-only route.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger())
	if cfg.Metrics != nil {
		router.Use(metrics.RequestMiddleware(cfg.Metrics))
	}

	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	if cfg.Notifications != nil {
		router.GET("/ws/notifications", gin.WrapF(cfg.Notifications))
	}

	v1 := router.Group("/api/v1")
	v1.Use(httpapi.RateLimit(cfg.RateLimit))
	{
		v1.GET("/streams/:stream_id", h.GetStream)
		v1.GET("/recordings", h.ListRecordings)
		v1.GET("/notifications", h.ListNotifications)
	}

	return router
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz handles GET /readyz
func (h *Handler) Readyz(c *gin.Context) {
	if err := h.health.Health(c.Request.Context()); err != nil {
		log.Warn("readiness check failed", zap.Error(err))
		httpapi.RespondUnavailable(c, "database connection failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// StreamResponse represents one stream session.
type StreamResponse struct {
	StreamID        string `json:"stream_id"`
	Username        string `json:"username"`
	Status          string `json:"status"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time,omitempty"`
	LastChunkNumber int    `json:"last_chunk_number"`
	FullVideoURL    string `json:"full_video_url,omitempty"`
	Recording       bool   `json:"recording"`
}

// GetStream handles GET /api/v1/streams/:stream_id
func (h *Handler) GetStream(c *gin.Context) {
	streamID := c.Param("stream_id")

	session, err := h.sessions.GetSession(c.Request.Context(), streamID)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			httpapi.RespondNotFound(c, "Stream not found")
			return
		}
		log.Error("failed to get stream session", zap.String("stream_id", streamID), zap.Error(err))
		httpapi.RespondDatabaseError(c, "Failed to get stream")
		return
	}

	resp := StreamResponse{
		StreamID:        session.StreamID,
		Username:        session.Username,
		Status:          string(session.Status),
		StartTime:       session.StartTime.Format(time.RFC3339),
		LastChunkNumber: session.LastChunkNumber,
		FullVideoURL:    session.FullVideoURL,
		Recording:       h.recordings.Has(ids.TaskName(session.StreamID)),
	}
	if session.EndTime != nil {
		resp.EndTime = session.EndTime.Format(time.RFC3339)
	}

	httpapi.RespondOK(c, resp)
}

// RecordingResponse describes one registered capture task.
type RecordingResponse struct {
	Task     string `json:"task"`
	StreamID string `json:"stream_id"`
}

// ListRecordings handles GET /api/v1/recordings
func (h *Handler) ListRecordings(c *gin.Context) {
	names := h.recordings.Names()
	items := make([]RecordingResponse, 0, len(names))
	for _, name := range names {
		streamID, _ := ids.StreamIDFromTaskName(name)
		items = append(items, RecordingResponse{Task: name, StreamID: streamID})
	}
	httpapi.RespondList(c, items)
}

// NotificationResponse represents one end-of-stream notification.
type NotificationResponse struct {
	ID          string `json:"id"`
	AccountID   int64  `json:"account_id"`
	AccountName string `json:"account_name"`
	Status      string `json:"status"`
	Link        string `json:"link"`
	StreamID    string `json:"stream_id"`
	CreatedAt   string `json:"created_at"`
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	limit := defaultNotificationLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			httpapi.RespondValidationError(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	notifications, err := h.sessions.ListNotifications(c.Request.Context(), limit)
	if err != nil {
		log.Error("failed to list notifications", zap.Error(err))
		httpapi.RespondDatabaseError(c, "Failed to list notifications")
		return
	}

	items := make([]NotificationResponse, len(notifications))
	for i, n := range notifications {
		items[i] = NotificationResponse{
			ID:          n.ID.String(),
			AccountID:   n.AccountID,
			AccountName: n.AccountName,
			Status:      n.Status,
			Link:        n.Link,
			StreamID:    n.StreamID,
			CreatedAt:   n.CreatedAt.Format(time.RFC3339),
		}
	}
	httpapi.RespondList(c, items)
}
