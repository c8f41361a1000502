package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"telecare-backend/internal/calllog"
	call "telecare-backend/internal/service/call"
	"telecare-backend/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
	diagnostics *calllog.Log
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service, diagnostics *calllog.Log) *Handler {
	return &Handler{
		callService: callService,
		diagnostics: diagnostics,
	}
}

// RegisterRoutes mounts the call endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	{
		calls.POST("/initiate", h.InitiateCall)
		calls.POST("/:id/answer", h.AnswerCall)
		calls.POST("/:id/reject", h.RejectCall)
		calls.POST("/:id/end", h.EndCall)
		calls.GET("/:id", h.GetCall)
		calls.GET("", h.ListRecent)
	}
	rg.GET("/diagnostics/calllog", h.CallLog)
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	CallType       string                     `json:"call_type" binding:"required,oneof=audio video"`
	ConversationID string                     `json:"conversation_id" binding:"required,uuid"`
	Offer          *webrtc.SessionDescription `json:"offer"`
}

// InitiateCall starts a new call
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	output, err := h.callService.InitiateCall(c.Request.Context(), &call.InitiateCallInput{
		ConversationID: conversationID,
		CallerID:       callerID,
		CallType:       req.CallType,
		Offer:          req.Offer,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, output)
}

// AnswerCall marks a ringing call answered
// POST /v1/calls/:id/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.AnswerCall(c.Request.Context(), callID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call answered",
		"call_id": callID,
	})
}

// RejectCall declines a ringing call
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.RejectCall(c.Request.Context(), callID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call rejected",
		"call_id": callID,
	})
}

// EndCall terminates a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), callID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call ended",
		"call_id": callID,
	})
}

// GetCall returns one call record
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	record, err := h.callService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, record)
}

// ListRecent returns the user's call history
// GET /v1/calls?limit=20
func (h *Handler) ListRecent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.ValidationError(c, "Invalid limit")
			return
		}
		limit = parsed
	}

	records, err := h.callService.ListRecent(c.Request.Context(), userID, limit)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": records,
		"count": len(records),
	})
}

// CallLog returns the in-memory diagnostics ring for support tooling
// GET /v1/diagnostics/calllog
func (h *Handler) CallLog(c *gin.Context) {
	entries := h.diagnostics.Snapshot()
	response.Success(c, http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := currentUserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return callID, userID, true
}
