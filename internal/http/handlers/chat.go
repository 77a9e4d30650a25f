package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/insightlearn/backend/internal/http/middleware"
	"github.com/insightlearn/backend/internal/http/response"
	"github.com/insightlearn/backend/internal/services"
)

type ChatHandler struct {
	conversations services.ConversationService
}

func NewChatHandler(conversations services.ConversationService) *ChatHandler {
	return &ChatHandler{conversations: conversations}
}

type sendMessageRequest struct {
	SessionID      *uuid.UUID `json:"session_id"`
	LessonID       *uuid.UUID `json:"lesson_id"`
	Message        string     `json:"message" binding:"required"`
	VideoTimestamp *int       `json:"video_timestamp"`
}

// POST /api/chat/messages
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := h.conversations.Send(c.Request.Context(), services.SendRequest{
		UserID:         userID,
		SessionID:      req.SessionID,
		LessonID:       req.LessonID,
		Message:        req.Message,
		VideoTimestamp: req.VideoTimestamp,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, result)
}

// GET /api/chat/sessions
func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var lessonID *uuid.UUID
	if raw := c.Query("lesson_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "validation", err)
			return
		}
		lessonID = &id
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	sessions, err := h.conversations.GetSessions(c.Request.Context(), userID, lessonID, limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": sessions})
}

// GET /api/chat/sessions/:id/messages
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	history, err := h.conversations.GetHistory(c.Request.Context(), userID, sessionID, limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, history)
}
