package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/repos"
	"github.com/insightlearn/backend/internal/types"
)

const maxNoteLength = 4000

type CreateNoteRequest struct {
	UserID         uuid.UUID
	LessonID       uuid.UUID
	VideoTimestamp int
	NoteText       string
	IsShared       bool
	IsBookmarked   bool
}

type UpdateNoteRequest struct {
	NoteText     *string
	IsShared     *bool
	IsBookmarked *bool
}

type StudentNoteService interface {
	Create(ctx context.Context, req CreateNoteRequest) (*types.StudentNote, error)
	List(ctx context.Context, userID, lessonID uuid.UUID) ([]*types.StudentNote, error)

	// Update and Delete only touch notes the caller owns.
	Update(ctx context.Context, userID, noteID uuid.UUID, req UpdateNoteRequest) (*types.StudentNote, error)
	Delete(ctx context.Context, userID, noteID uuid.UUID) error
}

type studentNoteService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.StudentNoteRepo
}

func NewStudentNoteService(db *gorm.DB, baseLog *logger.Logger, repo repos.StudentNoteRepo) StudentNoteService {
	return &studentNoteService{
		db:   db,
		log:  baseLog.With("service", "StudentNoteService"),
		repo: repo,
	}
}

func validateNoteText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: note text is empty", ErrValidation)
	}
	if utf8.RuneCountInString(text) > maxNoteLength {
		return "", fmt.Errorf("%w: note text exceeds %d characters", ErrValidation, maxNoteLength)
	}
	return text, nil
}

func (s *studentNoteService) Create(ctx context.Context, req CreateNoteRequest) (*types.StudentNote, error) {
	if req.UserID == uuid.Nil || req.LessonID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id and lesson id required", ErrValidation)
	}
	if req.VideoTimestamp < 0 {
		return nil, fmt.Errorf("%w: video timestamp must be non-negative", ErrValidation)
	}
	text, err := validateNoteText(req.NoteText)
	if err != nil {
		return nil, err
	}
	note := &types.StudentNote{
		ID:             uuid.New(),
		UserID:         req.UserID,
		LessonID:       req.LessonID,
		VideoTimestamp: req.VideoTimestamp,
		NoteText:       text,
		IsShared:       req.IsShared,
		IsBookmarked:   req.IsBookmarked,
	}
	if err := s.repo.Create(ctx, nil, note); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return note, nil
}

func (s *studentNoteService) List(ctx context.Context, userID, lessonID uuid.UUID) ([]*types.StudentNote, error) {
	notes, err := s.repo.ListByUserLesson(ctx, nil, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

func (s *studentNoteService) Update(ctx context.Context, userID, noteID uuid.UUID, req UpdateNoteRequest) (*types.StudentNote, error) {
	note, err := s.ownedNote(ctx, userID, noteID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if req.NoteText != nil {
		text, err := validateNoteText(*req.NoteText)
		if err != nil {
			return nil, err
		}
		updates["note_text"] = text
	}
	if req.IsShared != nil {
		updates["is_shared"] = *req.IsShared
	}
	if req.IsBookmarked != nil {
		updates["is_bookmarked"] = *req.IsBookmarked
	}
	if len(updates) == 0 {
		return note, nil
	}
	if err := s.repo.UpdateFields(ctx, nil, noteID, updates); err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	return s.repo.GetByID(ctx, nil, noteID)
}

func (s *studentNoteService) Delete(ctx context.Context, userID, noteID uuid.UUID) error {
	if _, err := s.ownedNote(ctx, userID, noteID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, nil, noteID)
}

func (s *studentNoteService) ownedNote(ctx context.Context, userID, noteID uuid.UUID) (*types.StudentNote, error) {
	note, err := s.repo.GetByID(ctx, nil, noteID)
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	if note == nil {
		return nil, fmt.Errorf("%w: note %s", ErrNotFound, noteID)
	}
	if note.UserID != userID {
		return nil, fmt.Errorf("%w: note %s", ErrUnauthorized, noteID)
	}
	return note, nil
}
