package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/types"
)

type fakeTranscriptReader struct {
	view *TranscriptView
	err  error
}

func (f *fakeTranscriptReader) GetCurrent(_ context.Context, _ uuid.UUID, _ string) (*TranscriptView, error) {
	return f.view, f.err
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func segmentAt(idx int, start, end float64, text string) types.TranscriptSegment {
	return types.TranscriptSegment{
		Idx:      idx,
		StartSec: start,
		EndSec:   end,
		Text:     text,
	}
}

func seg(start, end float64, text string) segForTest {
	return segForTest{start: start, end: end, text: text}
}

type segForTest struct {
	start, end float64
	text       string
}

func viewFromSegs(segs []segForTest) *TranscriptView {
	v := &TranscriptView{Language: "en-US", Status: "Completed"}
	for i, s := range segs {
		v.Segments = append(v.Segments, segmentAt(i, s.start, s.end, s.text))
	}
	return v
}

func TestSearch_RareTermOutranksCommonTerm(t *testing.T) {
	// "variables" appears once, "the" appears everywhere. A segment
	// matching only the rare term must beat one matching only the common
	// term.
	view := viewFromSegs([]segForTest{
		seg(0, 5, "the lesson begins with the basics"),
		seg(5, 10, "variables hold values"),
		seg(10, 15, "the recap covers the homework"),
	})
	svc := NewSearchService(testLogger(t), &fakeTranscriptReader{view: view})

	result, err := svc.Search(context.Background(), uuid.New(), "en-US", "the variables", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalMatches != 3 {
		t.Fatalf("expected 3 matches, got %d", result.TotalMatches)
	}
	if result.Matches[0].Text != "variables hold values" {
		t.Fatalf("expected rare-term segment first, got %q", result.Matches[0].Text)
	}
	for _, m := range result.Matches {
		if m.Score <= 0 || m.Score > 1 {
			t.Fatalf("score %f outside (0,1]", m.Score)
		}
	}
	if result.Matches[0].Score >= 1.0+1e-9 {
		t.Fatalf("normalized score exceeds 1: %f", result.Matches[0].Score)
	}
}

func TestSearch_TiesBreakByAscendingTimestamp(t *testing.T) {
	view := viewFromSegs([]segForTest{
		seg(30, 35, "recursion explained"),
		seg(5, 10, "recursion introduced"),
		seg(90, 95, "recursion revisited"),
	})
	svc := NewSearchService(testLogger(t), &fakeTranscriptReader{view: view})

	result, err := svc.Search(context.Background(), uuid.New(), "en-US", "recursion", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(result.Matches))
	}
	want := []float64{5, 30, 90}
	for i, m := range result.Matches {
		if m.Timestamp != want[i] {
			t.Fatalf("match %d at %.0f, want %.0f", i, m.Timestamp, want[i])
		}
	}
}

func TestSearch_EmptyQueryAndMissingTranscript(t *testing.T) {
	svc := NewSearchService(testLogger(t), &fakeTranscriptReader{view: nil})

	result, err := svc.Search(context.Background(), uuid.New(), "en-US", "   ", 10)
	if err != nil {
		t.Fatalf("empty query: %v", err)
	}
	if result.TotalMatches != 0 || len(result.Matches) != 0 {
		t.Fatalf("expected empty result for empty query")
	}

	result, err = svc.Search(context.Background(), uuid.New(), "en-US", "anything", 10)
	if err != nil {
		t.Fatalf("missing transcript: %v", err)
	}
	if result.TotalMatches != 0 {
		t.Fatalf("expected empty result for missing transcript")
	}
}

func TestSearch_CapsResultsButReportsTotal(t *testing.T) {
	var segs []segForTest
	for i := 0; i < 25; i++ {
		segs = append(segs, seg(float64(i*10), float64(i*10+5), "loops and more loops"))
	}
	svc := NewSearchService(testLogger(t), &fakeTranscriptReader{view: viewFromSegs(segs)})

	result, err := svc.Search(context.Background(), uuid.New(), "en-US", "loops", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalMatches != 25 {
		t.Fatalf("expected total 25, got %d", result.TotalMatches)
	}
	if len(result.Matches) != 10 {
		t.Fatalf("expected 10 returned matches, got %d", len(result.Matches))
	}
}

func TestTokenize_LowercasesAndSplitsPunctuation(t *testing.T) {
	got := tokenize("What ARE variables, really?")
	want := []string{"what", "are", "variables", "really"}
	if len(got) != len(want) {
		t.Fatalf("tokenize: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tokenize[%d]: got %q want %q", i, got[i], want[i])
		}
	}
}
