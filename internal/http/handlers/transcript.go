package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/insightlearn/backend/internal/http/response"
	"github.com/insightlearn/backend/internal/services"
)

type TranscriptHandler struct {
	transcripts services.TranscriptService
	search      services.SearchService
	jobs        services.TranscriptionJobService
}

func NewTranscriptHandler(
	transcripts services.TranscriptService,
	search services.SearchService,
	jobs services.TranscriptionJobService,
) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts, search: search, jobs: jobs}
}

// GET /api/lessons/:id/transcript
func (h *TranscriptHandler) GetTranscript(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	language, err := services.NormalizeLanguage(c.Query("language"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	view, err := h.transcripts.GetCurrent(c.Request.Context(), lessonID, language)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if view == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", services.ErrNotFound)
		return
	}
	response.RespondOK(c, view)
}

// GET /api/lessons/:id/transcript/search
func (h *TranscriptHandler) Search(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	language, err := services.NormalizeLanguage(c.Query("language"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	result, err := h.search.Search(c.Request.Context(), lessonID, language, c.Query("q"), limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, result)
}

// DELETE /api/lessons/:id/transcript
//
// Cancels any in-flight job for the key first so a late completion cannot
// resurrect the deleted transcript.
func (h *TranscriptHandler) DeleteTranscript(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	language, err := services.NormalizeLanguage(c.Query("language"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if err := h.jobs.RequestCancel(c.Request.Context(), lessonID, language); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if err := h.transcripts.Delete(c.Request.Context(), lessonID, language); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
