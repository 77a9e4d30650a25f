package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/insightlearn/backend/internal/http/middleware"
	"github.com/insightlearn/backend/internal/http/response"
	"github.com/insightlearn/backend/internal/services"
)

type NoteHandler struct {
	notes services.StudentNoteService
}

func NewNoteHandler(notes services.StudentNoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

type createNoteRequest struct {
	LessonID       uuid.UUID `json:"lesson_id" binding:"required"`
	VideoTimestamp int       `json:"video_timestamp"`
	NoteText       string    `json:"note_text" binding:"required"`
	IsShared       bool      `json:"is_shared"`
	IsBookmarked   bool      `json:"is_bookmarked"`
}

// POST /api/notes
func (h *NoteHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req createNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	note, err := h.notes.Create(c.Request.Context(), services.CreateNoteRequest{
		UserID:         userID,
		LessonID:       req.LessonID,
		VideoTimestamp: req.VideoTimestamp,
		NoteText:       req.NoteText,
		IsShared:       req.IsShared,
		IsBookmarked:   req.IsBookmarked,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

// GET /api/lessons/:id/notes
func (h *NoteHandler) ListForLesson(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	notes, err := h.notes.List(c.Request.Context(), userID, lessonID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"notes": notes})
}

type updateNoteRequest struct {
	NoteText     *string `json:"note_text"`
	IsShared     *bool   `json:"is_shared"`
	IsBookmarked *bool   `json:"is_bookmarked"`
}

// PATCH /api/notes/:id
func (h *NoteHandler) Update(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	noteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	var req updateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	note, err := h.notes.Update(c.Request.Context(), userID, noteID, services.UpdateNoteRequest{
		NoteText:     req.NoteText,
		IsShared:     req.IsShared,
		IsBookmarked: req.IsBookmarked,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, note)
}

// DELETE /api/notes/:id
func (h *NoteHandler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	noteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if err := h.notes.Delete(c.Request.Context(), userID, noteID); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
