package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/types"
)

type TranscriptRepo interface {
	// GetCurrent returns the current transcript for a (lesson, language)
	// pair with its segments ordered by idx, or nil when none exists.
	GetCurrent(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, language string) (*types.Transcript, error)

	// Replace demotes the prior current generation and installs transcript
	// with its segments as the new current one, in a single transaction.
	Replace(ctx context.Context, tx *gorm.DB, transcript *types.Transcript) error

	// GetInProgress returns the Processing (not yet current) generation for
	// a key, or nil.
	GetInProgress(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, language string) (*types.Transcript, error)

	CreateInProgress(ctx context.Context, tx *gorm.DB, transcript *types.Transcript) error
	AppendSegments(ctx context.Context, tx *gorm.DB, transcriptID uuid.UUID, segments []types.TranscriptSegment) error

	// Delete removes every generation for the key, segments included.
	Delete(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, language string) error
}

type transcriptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscriptRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptRepo {
	return &transcriptRepo{db: db, log: baseLog.With("repo", "TranscriptRepo")}
}

func (r *transcriptRepo) GetCurrent(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, language string) (*types.Transcript, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var t types.Transcript
	err := transaction.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		Where("lesson_id = ? AND language = ? AND current", lessonID, language).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transcriptRepo) Replace(ctx context.Context, tx *gorm.DB, transcript *types.Transcript) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if transcript.ID == uuid.Nil {
		transcript.ID = uuid.New()
	}
	for i := range transcript.Segments {
		if transcript.Segments[i].ID == uuid.Nil {
			transcript.Segments[i].ID = uuid.New()
		}
		transcript.Segments[i].TranscriptID = transcript.ID
	}

	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		now := time.Now()
		if err := txx.Model(&types.Transcript{}).
			Where("lesson_id = ? AND language = ? AND current", transcript.LessonID, transcript.Language).
			Updates(map[string]interface{}{
				"current":    false,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		// The completed generation supersedes any in-progress scratch
		// holding streamed partials.
		var staleIDs []uuid.UUID
		if err := txx.Model(&types.Transcript{}).
			Where("lesson_id = ? AND language = ? AND status = ? AND NOT current",
				transcript.LessonID, transcript.Language, types.TranscriptStatusProcessing).
			Pluck("id", &staleIDs).Error; err != nil {
			return err
		}
		if len(staleIDs) > 0 {
			if err := txx.Where("transcript_id IN ?", staleIDs).Delete(&types.TranscriptSegment{}).Error; err != nil {
				return err
			}
			if err := txx.Where("id IN ?", staleIDs).Delete(&types.Transcript{}).Error; err != nil {
				return err
			}
		}

		transcript.Current = true
		transcript.Status = types.TranscriptStatusCompleted
		return txx.Create(transcript).Error
	})
}

func (r *transcriptRepo) GetInProgress(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, language string) (*types.Transcript, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var t types.Transcript
	err := transaction.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		Where("lesson_id = ? AND language = ? AND status = ? AND NOT current", lessonID, language, types.TranscriptStatusProcessing).
		Order("created_at DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transcriptRepo) CreateInProgress(ctx context.Context, tx *gorm.DB, transcript *types.Transcript) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if transcript.ID == uuid.Nil {
		transcript.ID = uuid.New()
	}
	transcript.Status = types.TranscriptStatusProcessing
	transcript.Current = false
	return transaction.WithContext(ctx).Create(transcript).Error
}

func (r *transcriptRepo) AppendSegments(ctx context.Context, tx *gorm.DB, transcriptID uuid.UUID, segments []types.TranscriptSegment) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(segments) == 0 {
		return nil
	}
	for i := range segments {
		if segments[i].ID == uuid.Nil {
			segments[i].ID = uuid.New()
		}
		segments[i].TranscriptID = transcriptID
	}
	return transaction.WithContext(ctx).Create(&segments).Error
}

func (r *transcriptRepo) Delete(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, language string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var ids []uuid.UUID
		if err := txx.Model(&types.Transcript{}).
			Where("lesson_id = ? AND language = ?", lessonID, language).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := txx.Where("transcript_id IN ?", ids).Delete(&types.TranscriptSegment{}).Error; err != nil {
			return err
		}
		return txx.Where("id IN ?", ids).Delete(&types.Transcript{}).Error
	})
}
