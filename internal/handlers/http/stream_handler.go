package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/internal/core/services"
	"voxrelay/internal/infrastructure/middleware"
	"voxrelay/pkg/errors"
	"voxrelay/pkg/utils"
	"voxrelay/pkg/validation"
)

// UpstreamController is the slice of the SFU client the control API drives.
type UpstreamController interface {
	Subscribe(ctx context.Context, key domain.StreamKey) error
	Unsubscribe(ctx context.Context, key domain.StreamKey) error
	Subscriptions() []domain.StreamKey
	Stats() domain.UpstreamStats
}

// StreamClaimer takes cross-instance ownership of a stream before the relay
// subscribes to it. Single-instance deployments run without one.
type StreamClaimer interface {
	Claim(ctx context.Context, key domain.StreamKey) (bool, error)
	Release(ctx context.Context, key domain.StreamKey) error
}

// SessionCounter reports how many downstream sessions are connected.
type SessionCounter interface {
	SessionCount() int
}

// PipelineCounters exposes processing totals for the status endpoint.
type PipelineCounters interface {
	ActiveWorkers() int
	EventsPublished() uint64
}

// StageServices reports which inference stages this relay runs. Returned on
// stream subscription so callers know which events to expect.
type StageServices struct {
	Transcription bool `json:"transcription"`
	Translation   bool `json:"translation"`
	Emotion       bool `json:"emotion"`
}

// StreamHandler is the relay's control surface: operators subscribe the
// relay to upstream audio streams, consumers read event history, everyone
// reads status.
type StreamHandler struct {
	upstream  UpstreamController
	claimer   StreamClaimer
	history   *services.HistoryService
	pipeline  PipelineCounters
	sessions  SessionCounter
	announcer ports.StreamAnnouncer
	services  StageServices
	logger    *zap.Logger

	instanceID string
	startedAt  time.Time
}

func NewStreamHandler(
	upstream UpstreamController,
	claimer StreamClaimer,
	history *services.HistoryService,
	pipeline PipelineCounters,
	sessions SessionCounter,
	announcer ports.StreamAnnouncer,
	stageServices StageServices,
	instanceID string,
	logger *zap.Logger,
) *StreamHandler {
	if announcer == nil {
		announcer = ports.NoopAnnouncer{}
	}
	return &StreamHandler{
		upstream:   upstream,
		claimer:    claimer,
		history:    history,
		pipeline:   pipeline,
		sessions:   sessions,
		announcer:  announcer,
		services:   stageServices,
		logger:     logger,
		instanceID: instanceID,
		startedAt:  time.Now(),
	}
}

// SetupRoutes mounts the control API. With auth on, stream management needs
// an operator token while reads stay open.
func (h *StreamHandler) SetupRoutes(router *gin.Engine, authService services.AuthService, requireAuth bool) {
	api := router.Group("/api/v1")

	manage := api.Group("")
	if requireAuth {
		manage.Use(
			middleware.AuthMiddleware(authService),
			middleware.RequireRole(authService, domain.RoleOperator),
		)
	}
	manage.POST("/streams", h.SubscribeStream)
	manage.DELETE("/streams", h.UnsubscribeStream)

	api.GET("/streams", h.ListSubscriptions)
	api.GET("/rooms/:roomId/events", h.RoomEvents)
	api.GET("/status", h.Status)
}

type streamRequest struct {
	RoomID     string            `json:"roomId" binding:"required"`
	PeerID     string            `json:"peerId" binding:"required"`
	ProducerID string            `json:"producerId" binding:"required"`
	Kind       string            `json:"kind" binding:"required"`
	Metadata   map[string]string `json:"metadata"`
}

func (r *streamRequest) toDomain() domain.StreamRequest {
	return domain.StreamRequest{
		RoomID:     domain.RoomID(r.RoomID),
		PeerID:     domain.PeerID(r.PeerID),
		ProducerID: domain.ProducerID(r.ProducerID),
		Kind:       domain.MediaKind(r.Kind),
		Metadata:   r.Metadata,
	}
}

func (r *streamRequest) validate() error {
	if err := validation.ValidateRoomID(r.RoomID); err != nil {
		return err
	}
	if err := validation.ValidatePeerID(r.PeerID); err != nil {
		return err
	}
	return validation.ValidateProducerID(r.ProducerID)
}

func (h *StreamHandler) SubscribeStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := req.validate(); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	sr := req.toDomain()
	key := sr.Key()

	// Only audio carries inference; other kinds are acknowledged and skipped.
	if sr.Kind != domain.MediaKindAudio {
		c.JSON(http.StatusAccepted, gin.H{
			"streamId": key.String(),
			"status":   "ignored",
		})
		return
	}

	ctx := c.Request.Context()
	if h.claimer != nil {
		claimed, err := h.claimer.Claim(ctx, key)
		if err != nil {
			c.Error(errors.WrapError(err, errors.ErrCodeInternal, "claiming stream", http.StatusInternalServerError))
			return
		}
		if !claimed {
			c.Error(errors.NewConflictError("stream is claimed by another relay instance"))
			return
		}
	}

	if err := h.upstream.Subscribe(ctx, key); err != nil {
		if h.claimer != nil {
			if relErr := h.claimer.Release(ctx, key); relErr != nil {
				h.logger.Warn("failed to release claim after subscribe failure",
					zap.String("stream", key.String()),
					zap.Error(relErr))
			}
		}
		c.Error(errors.NewUpstreamUnavailableError(err))
		return
	}

	if err := h.announcer.AnnounceStreamSubscribed(ctx, key); err != nil {
		h.logger.Warn("subscribe announcement failed",
			zap.String("stream", key.String()),
			zap.Error(err))
	}

	c.JSON(http.StatusAccepted, gin.H{
		"streamId": key.String(),
		"status":   "accepted",
		"services": h.services,
	})
}

func (h *StreamHandler) UnsubscribeStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := req.validate(); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	key := req.toDomain().Key()
	ctx := c.Request.Context()
	if err := h.upstream.Unsubscribe(ctx, key); err != nil {
		c.Error(errors.NewUpstreamUnavailableError(err))
		return
	}

	if h.claimer != nil {
		if err := h.claimer.Release(ctx, key); err != nil {
			h.logger.Warn("failed to release stream claim",
				zap.String("stream", key.String()),
				zap.Error(err))
		}
	}
	if err := h.announcer.AnnounceStreamEnded(ctx, key); err != nil {
		h.logger.Warn("unsubscribe announcement failed",
			zap.String("stream", key.String()),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"streamId": key.String(),
		"status":   "unsubscribed",
	})
}

func (h *StreamHandler) ListSubscriptions(c *gin.Context) {
	subs := h.upstream.Subscriptions()
	if subs == nil {
		subs = []domain.StreamKey{}
	}

	c.JSON(http.StatusOK, gin.H{
		"streams": subs,
		"count":   len(subs),
	})
}

func (h *StreamHandler) RoomEvents(c *gin.Context) {
	roomID := c.Param("roomId")
	if err := validation.ValidateRoomID(roomID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.Error(errors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	events, err := h.history.Recent(c.Request.Context(), domain.RoomID(roomID), limit)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "reading event history", http.StatusInternalServerError))
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId": roomID,
		"events": events,
		"count":  len(events),
	})
}

func (h *StreamHandler) Status(c *gin.Context) {
	upstream := h.upstream.Stats()

	stats := domain.RelayStats{
		InstanceID:      h.instanceID,
		Upstream:        upstream,
		Sessions:        h.sessions.SessionCount(),
		ActiveStreams:   h.pipeline.ActiveWorkers(),
		EventsPublished: h.pipeline.EventsPublished(),
		StartedAt:       h.startedAt,
		Uptime:          utils.FormatDuration(time.Since(h.startedAt)),
	}

	c.JSON(http.StatusOK, stats)
}
