package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/insightlearn/backend/internal/http/handlers"
	httpMW "github.com/insightlearn/backend/internal/http/middleware"
)

type RouterConfig struct {
	IdentityMiddleware *httpMW.IdentityMiddleware

	TranscriptionHandler *httpH.TranscriptionHandler
	TranscriptHandler    *httpH.TranscriptHandler
	ChatHandler          *httpH.ChatHandler
	NoteHandler          *httpH.NoteHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	protected := api.Group("/")
	{
		if cfg.IdentityMiddleware != nil {
			protected.Use(cfg.IdentityMiddleware.RequireUser())
		}

		// Transcription jobs
		if cfg.TranscriptionHandler != nil {
			protected.POST("/transcriptions", cfg.TranscriptionHandler.Submit)
			protected.POST("/transcriptions/batch", cfg.TranscriptionHandler.SubmitBatch)
			protected.GET("/transcriptions", cfg.TranscriptionHandler.ListRecent)
			protected.GET("/transcriptions/:id", cfg.TranscriptionHandler.GetStatus)
			protected.POST("/lessons/:id/transcription/cancel", cfg.TranscriptionHandler.Cancel)
		}

		// Transcripts
		if cfg.TranscriptHandler != nil {
			protected.GET("/lessons/:id/transcript", cfg.TranscriptHandler.GetTranscript)
			protected.GET("/lessons/:id/transcript/search", cfg.TranscriptHandler.Search)
			protected.DELETE("/lessons/:id/transcript", cfg.TranscriptHandler.DeleteTranscript)
		}

		// Tutoring chat
		if cfg.ChatHandler != nil {
			protected.POST("/chat/messages", cfg.ChatHandler.SendMessage)
			protected.GET("/chat/sessions", cfg.ChatHandler.ListSessions)
			protected.GET("/chat/sessions/:id/messages", cfg.ChatHandler.GetHistory)
		}

		// Notes
		if cfg.NoteHandler != nil {
			protected.POST("/notes", cfg.NoteHandler.Create)
			protected.PATCH("/notes/:id", cfg.NoteHandler.Update)
			protected.DELETE("/notes/:id", cfg.NoteHandler.Delete)
			protected.GET("/lessons/:id/notes", cfg.NoteHandler.ListForLesson)
		}
	}

	return r
}
