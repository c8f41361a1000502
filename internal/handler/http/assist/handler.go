package assist

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"telecare-backend/internal/assist"
	"telecare-backend/pkg/response"
)

// Handler proxies assistant requests for authenticated users
type Handler struct {
	chat    *assist.ChatClient
	reports *assist.ReportClient
}

// NewHandler creates a new assist handler
func NewHandler(chat *assist.ChatClient, reports *assist.ReportClient) *Handler {
	return &Handler{
		chat:    chat,
		reports: reports,
	}
}

// RegisterRoutes mounts the assist endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	a := rg.Group("/assist")
	{
		a.POST("/chat", h.StreamChat)
		a.POST("/reports/analyze", h.AnalyzeReport)
	}
}

// StreamChat relays a chat request upstream and streams deltas back as SSE
// POST /v1/assist/chat
func (h *Handler) StreamChat(c *gin.Context) {
	var req assist.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		response.ValidationError(c, "messages required")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)

	err := h.chat.Stream(c.Request.Context(), &req, func(delta string) {
		c.SSEvent("delta", delta)
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		// Headers are already out; surface the failure in-stream
		c.SSEvent("error", err.Error())
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	c.SSEvent("done", "")
	if flusher != nil {
		flusher.Flush()
	}
}

// AnalyzeReportRequest represents a report analysis request
type AnalyzeReportRequest struct {
	Document   string `json:"document" binding:"required"`
	ReportType string `json:"report_type" binding:"required"`
}

// AnalyzeReport submits a document for structured extraction
// POST /v1/assist/reports/analyze
func (h *Handler) AnalyzeReport(c *gin.Context) {
	var req AnalyzeReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	analysis, err := h.reports.Analyze(c.Request.Context(), req.Document, req.ReportType)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, analysis)
}
