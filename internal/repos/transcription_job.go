package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/types"
)

type TranscriptionJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.TranscriptionJob) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TranscriptionJob, error)

	// GetByKey returns the single job row for a (lesson, language) pair,
	// locking it FOR UPDATE when forUpdate is set so submission decisions
	// are race-free. Returns nil when no job exists for the key.
	GetByKey(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, language string, forUpdate bool) (*types.TranscriptionJob, error)

	ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.TranscriptionJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error

	// ClaimNextRunnable claims the oldest job that is either Queued with its
	// retry delay elapsed, or Processing with a heartbeat stale enough to
	// mean its worker died. The claim marks the job Processing under
	// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleProcessing time.Duration) (*types.TranscriptionJob, error)
}

type transcriptionJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscriptionJobRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptionJobRepo {
	return &transcriptionJobRepo{db: db, log: baseLog.With("repo", "TranscriptionJobRepo")}
}

func (r *transcriptionJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.TranscriptionJob) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(job).Error
}

func (r *transcriptionJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TranscriptionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.TranscriptionJob
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *transcriptionJobRepo) GetByKey(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, language string, forUpdate bool) (*types.TranscriptionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var job types.TranscriptionJob
	err := q.Where("lesson_id = ? AND language = ?", lessonID, language).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *transcriptionJobRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.TranscriptionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var jobs []*types.TranscriptionJob
	err := transaction.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *transcriptionJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.TranscriptionJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *transcriptionJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.TranscriptionJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusProcessing).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *transcriptionJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleProcessing time.Duration) (*types.TranscriptionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now()
	staleCutoff := now.Add(-staleProcessing)

	var claimed *types.TranscriptionJob

	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.TranscriptionJob

		q := txx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					AND (next_retry_at IS NULL OR next_retry_at <= ?)
				)
				OR (
					status = ?
					AND heartbeat_at IS NOT NULL
					AND heartbeat_at < ?
				)
			`, types.JobStatusQueued, now, types.JobStatusProcessing, staleCutoff).
			Order("created_at ASC")

		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&types.TranscriptionJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusProcessing,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}

		job.Status = types.JobStatusProcessing
		job.Attempts++
		claimed = &job
		return nil
	})

	if err != nil {
		return nil, err
	}
	return claimed, nil
}
