package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/insightlearn/backend/internal/types"
)

// Walks one lesson through the whole pipeline: submission, worker run,
// transcript retrieval, search, and a tutoring reply grounded in the
// transcript.
func TestLessonPipeline_SubmitThroughTutorReply(t *testing.T) {
	log := testLogger(t)
	ctx := context.Background()

	jobRepo := newFakeJobRepo()
	jobs := NewTranscriptionJobService(nil, log, jobRepo)

	transcriptRepo := &fakeTranscriptRepo{}
	transcripts := NewTranscriptService(nil, log, transcriptRepo, newFakeCache())

	engine := &fakeEngine{result: &TranscribeResult{Segments: []SegmentInput{
		{StartSec: 0, EndSec: 8, Text: "Benvenuti alla lezione di programmazione."},
		{StartSec: 8, EndSec: 16, Text: "Le variabili contengono valori."},
		{StartSec: 16, EndSec: 24, Text: "Vediamo un esempio pratico."},
	}}}
	worker := newTestWorker(t, jobRepo, &fakeLeaseRepo{acquireOK: true}, transcripts, engine)

	lessonID := uuid.New()
	job, err := jobs.Submit(ctx, SubmitRequest{
		LessonID:     lessonID,
		VideoAssetID: "gs://bucket/lezione.mp4",
		Language:     "it-IT",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != types.JobStatusQueued {
		t.Fatalf("submitted job status: got %q want Queued", job.Status)
	}

	claimed, err := jobRepo.ClaimNextRunnable(ctx, nil, worker.staleProcessing)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim the submitted job, got %+v", claimed)
	}
	worker.process(ctx, claimed)

	status, err := jobs.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != types.JobStatusCompleted || status.Progress != 100 {
		t.Fatalf("job did not complete: %+v", status)
	}

	view, err := transcripts.GetCurrent(ctx, lessonID, "it-IT")
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if view == nil || len(view.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %+v", view)
	}
	for i := 1; i < len(view.Segments); i++ {
		if view.Segments[i].StartSec < view.Segments[i-1].EndSec {
			t.Fatalf("segments out of order at %d", i)
		}
	}

	search := NewSearchService(log, transcripts)
	found, err := search.Search(ctx, lessonID, "it-IT", "variabili", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if found.TotalMatches == 0 {
		t.Fatalf("expected a match for %q", "variabili")
	}
	if found.Matches[0].Score <= 0 || found.Matches[0].Timestamp != 8 {
		t.Fatalf("top match wrong: %+v", found.Matches[0])
	}

	assembler := NewContextAssembler(log, transcripts, &fakeNoteSource{}, "it-IT", 30)
	conversations := NewConversationService(nil, log, newFakeConversationRepo(), assembler, NewMockAIClient())

	ts := 10
	sent, err := conversations.Send(ctx, SendRequest{
		UserID:         uuid.New(),
		LessonID:       &lessonID,
		Message:        "Cosa sono le variabili?",
		VideoTimestamp: &ts,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !sent.TranscriptUsed {
		t.Fatalf("reply should be grounded in the transcript")
	}
	if !strings.Contains(sent.Reply, "lesson material") {
		t.Fatalf("mock reply should acknowledge the video context, got %q", sent.Reply)
	}
}
