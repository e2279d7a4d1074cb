package http

import (
	"net/http"
	"time"

	"embercall/internal/core/domain"
	"embercall/internal/core/ports"
	"embercall/internal/core/services"
	pkgerrors "embercall/pkg/errors"

	"github.com/gin-gonic/gin"
)

// CallHandler is the local control API over the call agent. It is the
// programmatic stand-in for a UI: a frontend or script drives calls through
// it and polls call state.
type CallHandler struct {
	orchestrator *services.Orchestrator
	callLog      ports.CallLogRepository
	channel      ports.SignalingChannel
}

func NewCallHandler(
	orchestrator *services.Orchestrator,
	callLog ports.CallLogRepository,
	channel ports.SignalingChannel,
) *CallHandler {
	return &CallHandler{
		orchestrator: orchestrator,
		callLog:      callLog,
		channel:      channel,
	}
}

// SetupRoutes registers the control API under /api/v1. Middleware passed in
// applies to the API group only, so probes on /health stay unauthenticated.
func (h *CallHandler) SetupRoutes(router *gin.Engine, apiMiddleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(apiMiddleware...)
	{
		api.POST("/calls", h.InitiateCall)
		api.POST("/calls/current/accept", h.AcceptCall)
		api.POST("/calls/current/reject", h.RejectCall)
		api.POST("/calls/current/end", h.EndCall)
		api.GET("/calls/current", h.CurrentCall)
		api.POST("/calls/current/audio", h.SetAudio)
		api.POST("/calls/current/video", h.SetVideo)
		api.GET("/calls/log", h.CallLog)
	}
	router.GET("/health", h.Health)
}

func (h *CallHandler) InitiateCall(c *gin.Context) {
	var req struct {
		ToUserID   domain.UserID `json:"toUserId" binding:"required"`
		ToUserName string        `json:"toUserName"`
		CallType   string        `json:"callType" binding:"required,oneof=voice video"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, pkgerrors.NewInvalidInputError(err.Error()))
		return
	}

	session, err := h.orchestrator.InitiateCall(c.Request.Context(), req.ToUserID, req.ToUserName, domain.CallType(req.CallType))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"call": sessionView(session)})
}

func (h *CallHandler) AcceptCall(c *gin.Context) {
	if err := h.orchestrator.AcceptIncomingCall(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h *CallHandler) RejectCall(c *gin.Context) {
	if err := h.orchestrator.RejectIncomingCall(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (h *CallHandler) EndCall(c *gin.Context) {
	if err := h.orchestrator.EndCall(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *CallHandler) CurrentCall(c *gin.Context) {
	session, ok := h.orchestrator.CurrentCall()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"call": nil})
		return
	}

	view := sessionView(session)
	if pending, ok := h.orchestrator.PendingCall(); ok {
		view["pendingFrom"] = pending.FromUserName
	}
	if media, ok := h.orchestrator.ActiveMedia(); ok {
		view["remoteTracks"] = media.RemoteTracks()
		view["stats"] = media.Stats()
	}

	c.JSON(http.StatusOK, gin.H{"call": view})
}

func (h *CallHandler) SetAudio(c *gin.Context) {
	h.setTrack(c, func(m ports.MediaSession, enabled bool) { m.SetAudioEnabled(enabled) })
}

func (h *CallHandler) SetVideo(c *gin.Context) {
	h.setTrack(c, func(m ports.MediaSession, enabled bool) { m.SetVideoEnabled(enabled) })
}

func (h *CallHandler) setTrack(c *gin.Context, apply func(ports.MediaSession, bool)) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, pkgerrors.NewInvalidInputError(err.Error()))
		return
	}

	media, ok := h.orchestrator.ActiveMedia()
	if !ok {
		h.writeError(c, domain.ErrCallNotActive)
		return
	}

	apply(media, *req.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

func (h *CallHandler) CallLog(c *gin.Context) {
	limit := 50
	records, err := h.callLog.List(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func (h *CallHandler) Health(c *gin.Context) {
	status := http.StatusOK
	signaling := "connected"
	if !h.channel.Connected() {
		status = http.StatusServiceUnavailable
		signaling = "disconnected"
	}
	c.JSON(status, gin.H{
		"status":    "ok",
		"signaling": signaling,
		"time":      time.Now().UTC(),
	})
}

// writeError defers rendering to the error handler middleware.
func (h *CallHandler) writeError(c *gin.Context, err error) {
	c.Error(err)
	c.Abort()
}

func sessionView(s *domain.CallSession) gin.H {
	view := gin.H{
		"callId":     s.ID,
		"role":       s.Role,
		"type":       s.Type,
		"peerUserId": s.PeerUserID,
		"peerName":   s.PeerName,
		"status":     s.Status,
		"startedAt":  s.StartedAt,
	}
	if !s.ConnectedAt.IsZero() {
		view["connectedAt"] = s.ConnectedAt
		view["duration"] = s.Duration().Seconds()
	}
	return view
}
