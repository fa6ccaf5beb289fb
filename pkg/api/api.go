// Package api exposes the HTTP surface: the carrier webhook endpoint,
// the draft approval queue and the sent-log query. Route handlers are
// thin; everything interesting happens in the packages they call.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agencyos/textline/pkg/drafts"
	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
	"github.com/agencyos/textline/pkg/webhook"
)

// Server wires the HTTP routes.
type Server struct {
	queue    *drafts.Queue
	inbound  *webhook.Handler
	messages store.MessageRepository
}

func NewServer(queue *drafts.Queue, inbound *webhook.Handler, messages store.MessageRepository) *Server {
	return &Server{
		queue:    queue,
		inbound:  inbound,
		messages: messages,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/webhooks/sms", s.handleInbound)

	api := r.Group("/api")
	{
		api.POST("/drafts/approve", s.handleApprove)
		api.POST("/drafts/reject", s.handleReject)
		api.PATCH("/drafts/:id", s.handleEditDraft)
		api.GET("/messages", s.handleListMessages)
	}

	return r
}

// handleInbound acknowledges every carrier delivery. Routing outcomes —
// unknown number, no matching deal — are not errors to the carrier.
func (s *Server) handleInbound(c *gin.Context) {
	var ev webhook.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := s.inbound.Handle(c.Request.Context(), ev); err != nil {
		logger.ErrorCF("api", "Inbound handling failed", map[string]any{
			"event_id": ev.ID,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

type idsRequest struct {
	MessageIDs []string `json:"messageIds" binding:"required"`
}

func (s *Server) handleApprove(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageIds is required"})
		return
	}
	result := s.queue.Approve(c.Request.Context(), req.MessageIDs)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleReject(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageIds is required"})
		return
	}
	rejected, err := s.queue.Reject(c.Request.Context(), req.MessageIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "rejected": rejected})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejected": rejected})
}

type editRequest struct {
	Body string `json:"body" binding:"required"`
}

func (s *Server) handleEditDraft(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is required"})
		return
	}

	msg, err := s.queue.EditBody(c.Request.Context(), c.Param("id"), req.Body)
	switch {
	case errors.Is(err, drafts.ErrEmptyBody):
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must not be empty"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
	case errors.Is(err, store.ErrNotDraft):
		c.JSON(http.StatusConflict, gin.H{"error": "message is no longer a draft"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, msg)
	}
}

func (s *Server) handleListMessages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	f := store.MessageFilter{
		AgencyID:       c.Query("agency_id"),
		ConversationID: c.Query("conversation_id"),
		Status:         messaging.Status(c.Query("status")),
		Direction:      messaging.Direction(c.Query("direction")),
		Limit:          pageSize,
		Offset:         (page - 1) * pageSize,
	}
	if from := c.Query("from_date"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			f.From = t
		}
	}
	if to := c.Query("to_date"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			f.To = t.AddDate(0, 0, 1)
		}
	}

	msgs, total, err := s.messages.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"page":      page,
		"page_size": pageSize,
		"total":     total,
		"messages":  msgs,
	})
}
