package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/types"
)

type fakeLeaseRepo struct {
	acquireOK bool
	acquired  []string
	released  []string
}

func (f *fakeLeaseRepo) Acquire(_ context.Context, _ *gorm.DB, key string, _ uuid.UUID, _ time.Duration) (bool, error) {
	if f.acquireOK {
		f.acquired = append(f.acquired, key)
	}
	return f.acquireOK, nil
}

func (f *fakeLeaseRepo) Renew(_ context.Context, _ *gorm.DB, _ string, _ uuid.UUID, _ time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeLeaseRepo) Release(_ context.Context, _ *gorm.DB, key string, _ uuid.UUID) error {
	f.released = append(f.released, key)
	return nil
}

type fakeEngine struct {
	result   *TranscribeResult
	err      error
	delay    time.Duration
	calls    int
	partials [][]SegmentInput
}

func (f *fakeEngine) EngineID() string { return "fake_engine" }

func (f *fakeEngine) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	f.calls++
	if req.OnPartial != nil {
		for _, batch := range f.partials {
			if err := req.OnPartial(ctx, batch); err != nil {
				return nil, err
			}
		}
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.result, f.err
}

type fakeTranscriptWriter struct {
	replaceCalls int
	replaceErr   error
	appended     [][]SegmentInput
	appendErr    error
}

func (f *fakeTranscriptWriter) GetCurrent(_ context.Context, _ uuid.UUID, _ string) (*TranscriptView, error) {
	return nil, nil
}

func (f *fakeTranscriptWriter) Replace(_ context.Context, _ uuid.UUID, _, _ string, segs []SegmentInput) (*types.Transcript, error) {
	f.replaceCalls++
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	return &types.Transcript{Segments: buildSegments(uuid.New(), 0, segs)}, nil
}

func (f *fakeTranscriptWriter) Append(_ context.Context, _ uuid.UUID, _ string, segs []SegmentInput) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, segs)
	return nil
}

func (f *fakeTranscriptWriter) Delete(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func claimedJob(repo *fakeJobRepo, attempts int) *types.TranscriptionJob {
	now := time.Now().UTC()
	job := &types.TranscriptionJob{
		ID:           uuid.New(),
		LessonID:     uuid.New(),
		VideoAssetID: "gs://bucket/lesson.mp4",
		Language:     "en-US",
		Status:       types.JobStatusProcessing,
		Phase:        types.JobPhaseQueued,
		Attempts:     attempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	cp := *job
	repo.jobs[job.ID] = &cp
	return job
}

func newTestWorker(t *testing.T, repo *fakeJobRepo, leases *fakeLeaseRepo, writer TranscriptService, engine SpeechEngine) *TranscriptionWorker {
	t.Helper()
	w := NewTranscriptionWorker(nil, testLogger(t), repo, leases, writer, engine)
	w.heartbeatEvery = 5 * time.Millisecond
	return w
}

func TestWorker_StaleReclaimDoesNotUndercutLease(t *testing.T) {
	w := NewTranscriptionWorker(nil, testLogger(t), newFakeJobRepo(), &fakeLeaseRepo{}, &fakeTranscriptWriter{}, &fakeEngine{})
	if w.staleProcessing < w.leaseTTL {
		t.Fatalf("stale window %v reclaims rows while a dead worker's lease (%v) still blocks them", w.staleProcessing, w.leaseTTL)
	}
}

func TestWorker_CompletesJobAndStoresTranscript(t *testing.T) {
	repo := newFakeJobRepo()
	leases := &fakeLeaseRepo{acquireOK: true}
	writer := &fakeTranscriptWriter{}
	engine := &fakeEngine{result: &TranscribeResult{
		Segments: []SegmentInput{{StartSec: 0, EndSec: 3, Text: "welcome"}},
	}}
	w := newTestWorker(t, repo, leases, writer, engine)

	job := claimedJob(repo, 1)
	w.process(context.Background(), job)

	stored := repo.jobs[job.ID]
	if stored.Status != types.JobStatusCompleted {
		t.Fatalf("status: got %q want Completed (error=%q)", stored.Status, stored.Error)
	}
	if stored.Progress != 100 || stored.Phase != types.JobPhaseDone {
		t.Fatalf("phase/progress: got %q/%d", stored.Phase, stored.Progress)
	}
	if writer.replaceCalls != 1 {
		t.Fatalf("expected one transcript replace, got %d", writer.replaceCalls)
	}
	if len(leases.released) != 1 {
		t.Fatalf("lease not released")
	}
}

func TestWorker_StreamsPartialBatchesWhileTranscribing(t *testing.T) {
	repo := newFakeJobRepo()
	leases := &fakeLeaseRepo{acquireOK: true}
	writer := &fakeTranscriptWriter{}
	engine := &fakeEngine{
		partials: [][]SegmentInput{
			{{StartSec: 0, EndSec: 2, Text: "first chunk"}},
			{{StartSec: 2, EndSec: 5, Text: "second chunk"}},
		},
		result: &TranscribeResult{Segments: []SegmentInput{
			{StartSec: 0, EndSec: 2, Text: "first chunk"},
			{StartSec: 2, EndSec: 5, Text: "second chunk"},
		}},
	}
	w := newTestWorker(t, repo, leases, writer, engine)

	job := claimedJob(repo, 1)
	w.process(context.Background(), job)

	if len(writer.appended) != 2 {
		t.Fatalf("expected both partial batches appended, got %d", len(writer.appended))
	}
	if writer.appended[1][0].Text != "second chunk" {
		t.Fatalf("partials arrived out of order: %+v", writer.appended)
	}
	if writer.replaceCalls != 1 {
		t.Fatalf("final transcript must still be installed once")
	}
	if got := repo.jobs[job.ID].Status; got != types.JobStatusCompleted {
		t.Fatalf("status: got %q want Completed", got)
	}
}

func TestWorker_PartialAppendFailureDoesNotFailJob(t *testing.T) {
	repo := newFakeJobRepo()
	leases := &fakeLeaseRepo{acquireOK: true}
	writer := &fakeTranscriptWriter{appendErr: errors.New("scratch write refused")}
	engine := &fakeEngine{
		partials: [][]SegmentInput{{{StartSec: 0, EndSec: 2, Text: "lost chunk"}}},
		result:   &TranscribeResult{Segments: []SegmentInput{{StartSec: 0, EndSec: 2, Text: "lost chunk"}}},
	}
	w := newTestWorker(t, repo, leases, writer, engine)

	job := claimedJob(repo, 1)
	w.process(context.Background(), job)

	if got := repo.jobs[job.ID].Status; got != types.JobStatusCompleted {
		t.Fatalf("status: got %q want Completed", got)
	}
	if writer.replaceCalls != 1 {
		t.Fatalf("expected the final install despite partial loss")
	}
}

func TestWorker_TransientFailureSchedulesRetry(t *testing.T) {
	repo := newFakeJobRepo()
	leases := &fakeLeaseRepo{acquireOK: true}
	writer := &fakeTranscriptWriter{}
	engine := &fakeEngine{err: Transient(errors.New("speech quota exhausted"))}
	w := newTestWorker(t, repo, leases, writer, engine)

	job := claimedJob(repo, 1)
	w.process(context.Background(), job)

	stored := repo.jobs[job.ID]
	if stored.Status != types.JobStatusQueued {
		t.Fatalf("status: got %q want Queued", stored.Status)
	}
	if stored.NextRetryAt == nil || !stored.NextRetryAt.After(time.Now()) {
		t.Fatalf("expected a future retry time, got %v", stored.NextRetryAt)
	}
	if stored.Error == "" {
		t.Fatalf("expected the failure to be recorded")
	}
	if writer.replaceCalls != 0 {
		t.Fatalf("failed job must not write a transcript")
	}
}

func TestWorker_ExhaustedAttemptsEndFailed(t *testing.T) {
	repo := newFakeJobRepo()
	leases := &fakeLeaseRepo{acquireOK: true}
	engine := &fakeEngine{err: Transient(errors.New("still flaky"))}
	w := newTestWorker(t, repo, leases, &fakeTranscriptWriter{}, engine)

	job := claimedJob(repo, w.maxAttempts)
	w.process(context.Background(), job)

	stored := repo.jobs[job.ID]
	if stored.Status != types.JobStatusFailed {
		t.Fatalf("status: got %q want Failed", stored.Status)
	}
	if stored.LastErrorAt == nil {
		t.Fatalf("expected last_error_at to be set")
	}
}

func TestWorker_PermanentFailureSkipsRetry(t *testing.T) {
	repo := newFakeJobRepo()
	leases := &fakeLeaseRepo{acquireOK: true}
	engine := &fakeEngine{err: errors.New("unsupported codec")}
	w := newTestWorker(t, repo, leases, &fakeTranscriptWriter{}, engine)

	job := claimedJob(repo, 1)
	w.process(context.Background(), job)

	if got := repo.jobs[job.ID].Status; got != types.JobStatusFailed {
		t.Fatalf("status: got %q want Failed", got)
	}
}

func TestWorker_LeaseHeldElsewhereRequeuesWithoutTranscribing(t *testing.T) {
	repo := newFakeJobRepo()
	leases := &fakeLeaseRepo{acquireOK: false}
	engine := &fakeEngine{result: &TranscribeResult{}}
	w := newTestWorker(t, repo, leases, &fakeTranscriptWriter{}, engine)

	job := claimedJob(repo, 1)
	w.process(context.Background(), job)

	if engine.calls != 0 {
		t.Fatalf("engine must not run without the lease")
	}
	if got := repo.jobs[job.ID].Status; got != types.JobStatusQueued {
		t.Fatalf("status: got %q want Queued", got)
	}
}

func TestWorker_CancelRequestAbandonsInFlightJob(t *testing.T) {
	repo := newFakeJobRepo()
	leases := &fakeLeaseRepo{acquireOK: true}
	writer := &fakeTranscriptWriter{}
	engine := &fakeEngine{
		delay:  500 * time.Millisecond,
		result: &TranscribeResult{Segments: []SegmentInput{{StartSec: 0, EndSec: 1, Text: "late"}}},
	}
	w := newTestWorker(t, repo, leases, writer, engine)

	job := claimedJob(repo, 1)
	repo.jobs[job.ID].CancelRequested = true

	w.process(context.Background(), job)

	stored := repo.jobs[job.ID]
	if stored.Status != types.JobStatusQueued {
		t.Fatalf("status: got %q want Queued", stored.Status)
	}
	if stored.CancelRequested {
		t.Fatalf("cancel flag should be cleared on requeue")
	}
	if writer.replaceCalls != 0 {
		t.Fatalf("cancelled job must not write a transcript")
	}
}
