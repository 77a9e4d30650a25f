package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/repos"
	"github.com/insightlearn/backend/internal/types"
)

const DefaultLanguage = "en-US"

var languageTagRe = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)

type SubmitRequest struct {
	LessonID        uuid.UUID
	VideoAssetID    string
	Language        string
	ForceRegenerate bool
}

type BatchItem struct {
	LessonID     uuid.UUID
	VideoAssetID string
}

type BatchItemResult struct {
	LessonID uuid.UUID  `json:"lesson_id"`
	JobID    *uuid.UUID `json:"job_id,omitempty"`
	Status   string     `json:"status,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type JobStatusView struct {
	JobID     uuid.UUID `json:"job_id"`
	LessonID  uuid.UUID `json:"lesson_id"`
	Language  string    `json:"language"`
	Status    string    `json:"status"`
	Phase     string    `json:"phase"`
	Progress  int       `json:"progress"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TranscriptionJobService interface {
	// Submit is idempotent per (lesson, language): while a job for the key
	// is active and forceRegenerate is unset, the active job's id is
	// returned. Resubmitting a terminal key requires forceRegenerate and
	// follows the job state machine back to Queued.
	Submit(ctx context.Context, req SubmitRequest) (*types.TranscriptionJob, error)

	// SubmitBatch submits each item independently with one shared
	// language; per-item failures land in the item result.
	SubmitBatch(ctx context.Context, items []BatchItem, language string) []BatchItemResult

	GetStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusView, error)
	ListRecent(ctx context.Context, limit int) ([]*JobStatusView, error)

	// RequestCancel flags the active job for a key so the worker abandons
	// the in-flight ASR call instead of writing stale results.
	RequestCancel(ctx context.Context, lessonID uuid.UUID, language string) error
}

type transcriptionJobService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.TranscriptionJobRepo
}

func NewTranscriptionJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.TranscriptionJobRepo) TranscriptionJobService {
	return &transcriptionJobService{
		db:   db,
		log:  baseLog.With("service", "TranscriptionJobService"),
		repo: repo,
	}
}

// NormalizeLanguage applies the default and validates the locale tag.
func NormalizeLanguage(language string) (string, error) {
	if language == "" {
		return DefaultLanguage, nil
	}
	if !languageTagRe.MatchString(language) {
		return "", fmt.Errorf("%w: malformed language tag %q", ErrValidation, language)
	}
	return language, nil
}

func (s *transcriptionJobService) Submit(ctx context.Context, req SubmitRequest) (*types.TranscriptionJob, error) {
	language, err := NormalizeLanguage(req.Language)
	if err != nil {
		return nil, err
	}
	if req.LessonID == uuid.Nil {
		return nil, fmt.Errorf("%w: lesson id required", ErrValidation)
	}
	if req.VideoAssetID == "" {
		return nil, fmt.Errorf("%w: video asset id required", ErrValidation)
	}

	existing, err := s.repo.GetByKey(ctx, nil, req.LessonID, language, false)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	if existing == nil {
		job := &types.TranscriptionJob{
			ID:              uuid.New(),
			LessonID:        req.LessonID,
			VideoAssetID:    req.VideoAssetID,
			Language:        language,
			Status:          types.JobStatusQueued,
			Phase:           types.JobPhaseQueued,
			ForceRegenerate: req.ForceRegenerate,
		}
		if err := s.repo.Create(ctx, nil, job); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a submission race; fall through to the idempotent path.
				return s.Submit(ctx, req)
			}
			return nil, fmt.Errorf("create job: %w", err)
		}
		s.log.Info("Transcription job queued",
			"job_id", job.ID,
			"lesson_id", req.LessonID,
			"language", language,
		)
		return job, nil
	}

	if existing.IsActive() {
		if !req.ForceRegenerate {
			// Idempotent submission: same job id for the active key.
			return existing, nil
		}
		// Supersession: cancel the in-flight work and requeue with the new
		// asset. The worker observes the flag and requeues the row itself
		// when it is mid-processing.
		updates := map[string]interface{}{
			"video_asset_id":   req.VideoAssetID,
			"force_regenerate": true,
		}
		if existing.Status == types.JobStatusProcessing {
			updates["cancel_requested"] = true
		}
		if err := s.repo.UpdateFields(ctx, nil, existing.ID, updates); err != nil {
			return nil, fmt.Errorf("supersede job: %w", err)
		}
		return s.repo.GetByID(ctx, nil, existing.ID)
	}

	// Terminal key: only a forced resubmission may walk it back to Queued.
	if !req.ForceRegenerate {
		return nil, fmt.Errorf("%w: job for lesson %s language %s is %s; resubmit with forceRegenerate",
			ErrInvalidStateTransition, req.LessonID, language, existing.Status)
	}
	if !types.CanTransitionJob(existing.Status, types.JobStatusQueued) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, existing.Status, types.JobStatusQueued)
	}

	if err := s.repo.UpdateFields(ctx, nil, existing.ID, map[string]interface{}{
		"status":           types.JobStatusQueued,
		"phase":            types.JobPhaseQueued,
		"progress":         0,
		"attempts":         0,
		"error":            "",
		"last_error_at":    nil,
		"next_retry_at":    nil,
		"cancel_requested": false,
		"force_regenerate": true,
		"video_asset_id":   req.VideoAssetID,
	}); err != nil {
		return nil, fmt.Errorf("resubmit job: %w", err)
	}

	s.log.Info("Transcription job resubmitted",
		"job_id", existing.ID,
		"lesson_id", req.LessonID,
		"language", language,
		"previous_status", existing.Status,
	)
	return s.repo.GetByID(ctx, nil, existing.ID)
}

func (s *transcriptionJobService) SubmitBatch(ctx context.Context, items []BatchItem, language string) []BatchItemResult {
	results := make([]BatchItemResult, 0, len(items))
	for _, item := range items {
		res := BatchItemResult{LessonID: item.LessonID}
		job, err := s.Submit(ctx, SubmitRequest{
			LessonID:     item.LessonID,
			VideoAssetID: item.VideoAssetID,
			Language:     language,
		})
		if err != nil {
			res.Error = err.Error()
		} else {
			id := job.ID
			res.JobID = &id
			res.Status = job.Status
		}
		results = append(results, res)
	}
	return results
}

func (s *transcriptionJobService) GetStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusView, error) {
	job, err := s.repo.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return jobToStatusView(job), nil
}

func (s *transcriptionJobService) ListRecent(ctx context.Context, limit int) ([]*JobStatusView, error) {
	jobs, err := s.repo.ListRecent(ctx, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	views := make([]*JobStatusView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobToStatusView(job))
	}
	return views, nil
}

func (s *transcriptionJobService) RequestCancel(ctx context.Context, lessonID uuid.UUID, language string) error {
	language, err := NormalizeLanguage(language)
	if err != nil {
		return err
	}
	job, err := s.repo.GetByKey(ctx, nil, lessonID, language, false)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if job == nil || !job.IsActive() {
		return nil
	}
	return s.repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"cancel_requested": true,
	})
}

func jobToStatusView(job *types.TranscriptionJob) *JobStatusView {
	return &JobStatusView{
		JobID:     job.ID,
		LessonID:  job.LessonID,
		Language:  job.Language,
		Status:    job.Status,
		Phase:     job.Phase,
		Progress:  job.Progress,
		Attempts:  job.Attempts,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}
