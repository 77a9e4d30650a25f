package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/insightlearn/backend/internal/http/response"
	"github.com/insightlearn/backend/internal/services"
)

type TranscriptionHandler struct {
	jobs services.TranscriptionJobService
}

func NewTranscriptionHandler(jobs services.TranscriptionJobService) *TranscriptionHandler {
	return &TranscriptionHandler{jobs: jobs}
}

type submitTranscriptionRequest struct {
	LessonID        uuid.UUID `json:"lesson_id" binding:"required"`
	VideoAssetID    string    `json:"video_asset_id" binding:"required"`
	Language        string    `json:"language"`
	ForceRegenerate bool      `json:"force_regenerate"`
}

// POST /api/transcriptions
func (h *TranscriptionHandler) Submit(c *gin.Context) {
	var req submitTranscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	job, err := h.jobs.Submit(c.Request.Context(), services.SubmitRequest{
		LessonID:        req.LessonID,
		VideoAssetID:    req.VideoAssetID,
		Language:        req.Language,
		ForceRegenerate: req.ForceRegenerate,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":    job.ID,
		"lesson_id": job.LessonID,
		"language":  job.Language,
		"status":    job.Status,
	})
}

type submitBatchRequest struct {
	Language string `json:"language"`
	Items    []struct {
		LessonID     uuid.UUID `json:"lesson_id" binding:"required"`
		VideoAssetID string    `json:"video_asset_id" binding:"required"`
	} `json:"items" binding:"required,min=1"`
}

// POST /api/transcriptions/batch
func (h *TranscriptionHandler) SubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	items := make([]services.BatchItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, services.BatchItem{
			LessonID:     it.LessonID,
			VideoAssetID: it.VideoAssetID,
		})
	}
	results := h.jobs.SubmitBatch(c.Request.Context(), items, req.Language)
	c.JSON(http.StatusAccepted, gin.H{"results": results})
}

// GET /api/transcriptions/:id
func (h *TranscriptionHandler) GetStatus(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	status, err := h.jobs.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, status)
}

// GET /api/transcriptions
func (h *TranscriptionHandler) ListRecent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := h.jobs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// POST /api/lessons/:id/transcription/cancel
func (h *TranscriptionHandler) Cancel(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if err := h.jobs.RequestCancel(c.Request.Context(), lessonID, c.Query("language")); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancel_requested": true})
}
