package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/repos/testutil"
	"github.com/insightlearn/backend/internal/types"
)

func TestJobRepo_CreateAndGetByKey(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewTranscriptionJobRepo(db, testutil.Logger(t))
	ctx := context.Background()

	job := &types.TranscriptionJob{
		ID:           uuid.New(),
		LessonID:     uuid.New(),
		VideoAssetID: "gs://bucket/lesson.mp4",
		Language:     "en-US",
		Status:       types.JobStatusQueued,
		Phase:        types.JobPhaseQueued,
	}
	if err := repo.Create(ctx, tx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByKey(ctx, tx, job.LessonID, "en-US", false)
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("expected the created job, got %+v", got)
	}

	missing, err := repo.GetByKey(ctx, tx, uuid.New(), "en-US", false)
	if err != nil {
		t.Fatalf("get missing key: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown key")
	}
}

func TestJobRepo_DuplicateKeyIsTranslated(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewTranscriptionJobRepo(db, testutil.Logger(t))
	ctx := context.Background()

	lessonID := uuid.New()
	first := &types.TranscriptionJob{
		ID:           uuid.New(),
		LessonID:     lessonID,
		VideoAssetID: "gs://bucket/lesson.mp4",
		Language:     "en-US",
		Status:       types.JobStatusQueued,
		Phase:        types.JobPhaseQueued,
	}
	if err := repo.Create(ctx, tx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &types.TranscriptionJob{
		ID:           uuid.New(),
		LessonID:     lessonID,
		VideoAssetID: "gs://bucket/lesson.mp4",
		Language:     "en-US",
		Status:       types.JobStatusQueued,
		Phase:        types.JobPhaseQueued,
	}
	err := repo.Create(ctx, tx, dup)
	if err == nil {
		t.Fatalf("duplicate (lesson, language) insert must fail")
	}
	// Submission dedup relies on recognizing this sentinel, not the raw
	// driver error.
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected gorm.ErrDuplicatedKey, got %v", err)
	}
}

func TestJobRepo_ClaimSkipsJobsWaitingOnRetry(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewTranscriptionJobRepo(db, testutil.Logger(t))
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	waiting := &types.TranscriptionJob{
		ID:           uuid.New(),
		LessonID:     uuid.New(),
		VideoAssetID: "gs://bucket/a.mp4",
		Language:     "en-US",
		Status:       types.JobStatusQueued,
		Phase:        types.JobPhaseQueued,
		NextRetryAt:  &future,
	}
	runnable := &types.TranscriptionJob{
		ID:           uuid.New(),
		LessonID:     uuid.New(),
		VideoAssetID: "gs://bucket/b.mp4",
		Language:     "en-US",
		Status:       types.JobStatusQueued,
		Phase:        types.JobPhaseQueued,
	}
	for _, j := range []*types.TranscriptionJob{waiting, runnable} {
		if err := repo.Create(ctx, tx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	claimed, err := repo.ClaimNextRunnable(ctx, tx, 5*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != runnable.ID {
		t.Fatalf("expected the runnable job, got %+v", claimed)
	}
	if claimed.Status != types.JobStatusProcessing || claimed.Attempts != 1 {
		t.Fatalf("claim did not mark processing: %+v", claimed)
	}

	again, err := repo.ClaimNextRunnable(ctx, tx, 5*time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != nil {
		t.Fatalf("nothing else should be runnable, got %+v", again)
	}
}

func TestLeaseRepo_AcquireIsExclusiveUntilExpiry(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewTranscriptionLeaseRepo(db, testutil.Logger(t))
	ctx := context.Background()

	key := types.LeaseKey(uuid.New(), "en-US")
	ownerA, ownerB := uuid.New(), uuid.New()

	ok, err := repo.Acquire(ctx, tx, key, ownerA, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = repo.Acquire(ctx, tx, key, ownerB, time.Minute)
	if err != nil {
		t.Fatalf("contended acquire: %v", err)
	}
	if ok {
		t.Fatalf("second owner must not steal a live lease")
	}

	// The holder can re-acquire and renew its own lease.
	ok, err = repo.Acquire(ctx, tx, key, ownerA, time.Minute)
	if err != nil || !ok {
		t.Fatalf("holder re-acquire: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Renew(ctx, tx, key, ownerA, time.Minute)
	if err != nil || !ok {
		t.Fatalf("renew: ok=%v err=%v", ok, err)
	}

	if err := repo.Release(ctx, tx, key, ownerA); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = repo.Acquire(ctx, tx, key, ownerB, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}
