package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/types"
)

type fakeNoteRepo struct {
	notes map[uuid.UUID]*types.StudentNote
}

func newFakeNoteRepo() *fakeNoteRepo {
	return &fakeNoteRepo{notes: map[uuid.UUID]*types.StudentNote{}}
}

func (f *fakeNoteRepo) Create(_ context.Context, _ *gorm.DB, note *types.StudentNote) error {
	f.notes[note.ID] = note
	return nil
}

func (f *fakeNoteRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.StudentNote, error) {
	return f.notes[id], nil
}

func (f *fakeNoteRepo) ListByUserLesson(_ context.Context, _ *gorm.DB, userID, lessonID uuid.UUID) ([]*types.StudentNote, error) {
	var out []*types.StudentNote
	for _, n := range f.notes {
		if n.UserID == userID && n.LessonID == lessonID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNoteRepo) ListContextNotes(_ context.Context, _ *gorm.DB, lessonID, userID uuid.UUID, limit int) ([]*types.StudentNote, error) {
	var out []*types.StudentNote
	for _, n := range f.notes {
		if n.LessonID != lessonID {
			continue
		}
		if n.IsShared || (n.IsBookmarked && n.UserID == userID) {
			out = append(out, n)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNoteRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	note, ok := f.notes[id]
	if !ok {
		return errors.New("note not found")
	}
	if v, ok := updates["note_text"]; ok {
		note.NoteText = v.(string)
	}
	if v, ok := updates["is_shared"]; ok {
		note.IsShared = v.(bool)
	}
	if v, ok := updates["is_bookmarked"]; ok {
		note.IsBookmarked = v.(bool)
	}
	return nil
}

func (f *fakeNoteRepo) Delete(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	delete(f.notes, id)
	return nil
}

func TestStudentNote_CreateValidates(t *testing.T) {
	svc := NewStudentNoteService(nil, testLogger(t), newFakeNoteRepo())
	userID, lessonID := uuid.New(), uuid.New()

	if _, err := svc.Create(context.Background(), CreateNoteRequest{
		UserID: userID, LessonID: lessonID, NoteText: "  ",
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank note: expected ErrValidation, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateNoteRequest{
		UserID: userID, LessonID: lessonID, NoteText: strings.Repeat("n", maxNoteLength+1),
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("oversized note: expected ErrValidation, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateNoteRequest{
		UserID: userID, LessonID: lessonID, VideoTimestamp: -1, NoteText: "ok",
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative timestamp: expected ErrValidation, got %v", err)
	}

	note, err := svc.Create(context.Background(), CreateNoteRequest{
		UserID: userID, LessonID: lessonID, VideoTimestamp: 42, NoteText: " trimmed ",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if note.NoteText != "trimmed" {
		t.Fatalf("note text not trimmed: %q", note.NoteText)
	}

	// The limit is characters, not bytes.
	if _, err := svc.Create(context.Background(), CreateNoteRequest{
		UserID: userID, LessonID: lessonID, NoteText: strings.Repeat("ü", maxNoteLength),
	}); err != nil {
		t.Fatalf("at-limit multibyte note rejected: %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateNoteRequest{
		UserID: userID, LessonID: lessonID, NoteText: strings.Repeat("ü", maxNoteLength+1),
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("over-limit note: expected ErrValidation, got %v", err)
	}
}

func TestStudentNote_UpdateAndDeleteEnforceOwnership(t *testing.T) {
	repo := newFakeNoteRepo()
	svc := NewStudentNoteService(nil, testLogger(t), repo)
	owner := uuid.New()

	note, err := svc.Create(context.Background(), CreateNoteRequest{
		UserID: owner, LessonID: uuid.New(), NoteText: "base case matters",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stranger := uuid.New()
	if _, err := svc.Update(context.Background(), stranger, note.ID, UpdateNoteRequest{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign update: expected ErrUnauthorized, got %v", err)
	}
	if err := svc.Delete(context.Background(), stranger, note.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign delete: expected ErrUnauthorized, got %v", err)
	}
	if err := svc.Delete(context.Background(), owner, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing note: expected ErrNotFound, got %v", err)
	}

	shared := true
	updated, err := svc.Update(context.Background(), owner, note.ID, UpdateNoteRequest{IsShared: &shared})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.IsShared {
		t.Fatalf("is_shared not applied")
	}
	if err := svc.Delete(context.Background(), owner, note.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(repo.notes) != 0 {
		t.Fatalf("note not deleted")
	}
}
