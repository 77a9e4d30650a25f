package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/insightlearn/backend/internal/clients/gcp"
	"github.com/insightlearn/backend/internal/clients/redis"
	"github.com/insightlearn/backend/internal/db"
	httpserver "github.com/insightlearn/backend/internal/http"
	httpH "github.com/insightlearn/backend/internal/http/handlers"
	httpMW "github.com/insightlearn/backend/internal/http/middleware"
	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/repos"
	"github.com/insightlearn/backend/internal/services"
	"github.com/insightlearn/backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	defaultLanguage := utils.GetEnv("TRANSCRIPT_DEFAULT_LANGUAGE", services.DefaultLanguage, log)
	contextWindow := utils.GetEnvAsInt("CONTEXT_WINDOW_SECONDS", 30, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	jobRepo := repos.NewTranscriptionJobRepo(thePG, log)
	leaseRepo := repos.NewTranscriptionLeaseRepo(thePG, log)
	transcriptRepo := repos.NewTranscriptRepo(thePG, log)
	conversationRepo := repos.NewConversationRepo(thePG, log)
	noteRepo := repos.NewStudentNoteRepo(thePG, log)

	// Clients
	log.Info("Setting up clients from main...")
	transcriptCache, err := redis.NewTranscriptCache(log)
	if err != nil {
		log.Warn("Redis unavailable, transcript cache disabled", "error", err)
		transcriptCache = nil
	}
	speechEngine, err := gcp.NewSpeechEngine(log)
	if err != nil {
		log.Error("Could not init speech engine", "error", err)
		os.Exit(1)
	}
	aiClient, err := services.NewAIClientFromEnv(log)
	if err != nil {
		log.Error("Could not init AI client", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	transcriptService := services.NewTranscriptService(thePG, log, transcriptRepo, transcriptCache)
	searchService := services.NewSearchService(log, transcriptService)
	jobService := services.NewTranscriptionJobService(thePG, log, jobRepo)
	assembler := services.NewContextAssembler(log, transcriptService, noteRepo, defaultLanguage, float64(contextWindow))
	conversationService := services.NewConversationService(thePG, log, conversationRepo, assembler, aiClient)
	noteService := services.NewStudentNoteService(thePG, log, noteRepo)

	// Worker
	worker := services.NewTranscriptionWorker(thePG, log, jobRepo, leaseRepo, transcriptService, speechEngine)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker.Start(workerCtx)

	// Handlers
	log.Info("Setting up handlers from main...")
	transcriptionHandler := httpH.NewTranscriptionHandler(jobService)
	transcriptHandler := httpH.NewTranscriptHandler(transcriptService, searchService, jobService)
	chatHandler := httpH.NewChatHandler(conversationService)
	noteHandler := httpH.NewNoteHandler(noteService)
	healthHandler := httpH.NewHealthHandler()

	// Middleware
	identityMiddleware := httpMW.NewIdentityMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	server := httpserver.NewServer(httpserver.RouterConfig{
		IdentityMiddleware:   identityMiddleware,
		TranscriptionHandler: transcriptionHandler,
		TranscriptHandler:    transcriptHandler,
		ChatHandler:          chatHandler,
		NoteHandler:          noteHandler,
		HealthHandler:        healthHandler,
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("Shutting down workers...")
		stopWorker()
		worker.Stop()
		os.Exit(0)
	}()

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := server.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
