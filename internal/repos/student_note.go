package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/types"
)

type StudentNoteRepo interface {
	Create(ctx context.Context, tx *gorm.DB, note *types.StudentNote) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.StudentNote, error)
	ListByUserLesson(ctx context.Context, tx *gorm.DB, userID, lessonID uuid.UUID) ([]*types.StudentNote, error)

	// ListContextNotes returns the notes eligible as tutoring context for a
	// lesson: the caller's bookmarked notes plus anyone's shared notes,
	// newest first.
	ListContextNotes(ctx context.Context, tx *gorm.DB, lessonID, userID uuid.UUID, limit int) ([]*types.StudentNote, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type studentNoteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStudentNoteRepo(db *gorm.DB, baseLog *logger.Logger) StudentNoteRepo {
	return &studentNoteRepo{db: db, log: baseLog.With("repo", "StudentNoteRepo")}
}

func (r *studentNoteRepo) Create(ctx context.Context, tx *gorm.DB, note *types.StudentNote) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(note).Error
}

func (r *studentNoteRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.StudentNote, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var note types.StudentNote
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (r *studentNoteRepo) ListByUserLesson(ctx context.Context, tx *gorm.DB, userID, lessonID uuid.UUID) ([]*types.StudentNote, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var notes []*types.StudentNote
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND lesson_id = ?", userID, lessonID).
		Order("video_timestamp ASC").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (r *studentNoteRepo) ListContextNotes(ctx context.Context, tx *gorm.DB, lessonID, userID uuid.UUID, limit int) ([]*types.StudentNote, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 10
	}
	var notes []*types.StudentNote
	err := transaction.WithContext(ctx).
		Where("lesson_id = ? AND (is_shared OR (is_bookmarked AND user_id = ?))", lessonID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (r *studentNoteRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.StudentNote{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *studentNoteRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.StudentNote{}).Error
}
