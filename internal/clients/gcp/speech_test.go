package gcp

import (
	"testing"

	"google.golang.org/protobuf/types/known/durationpb"
)

func word(text string, start, end float64, spk int, conf float64) recognizedWord {
	return recognizedWord{word: text, start: start, end: end, spk: spk, conf: conf}
}

func TestGroupByTime_SplitsOnWindowBoundary(t *testing.T) {
	words := []recognizedWord{
		word("welcome", 0, 0.5, 0, 0.9),
		word("back", 0.5, 1.0, 0, 0.9),
		word("today", 11.0, 11.5, 0, 0.8),
		word("loops", 11.5, 12.0, 0, 0.8),
	}
	segs := groupByTime(words, 10)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Text != "welcome back" {
		t.Fatalf("first segment text: %q", segs[0].Text)
	}
	if segs[1].StartSec != 11.0 || segs[1].EndSec != 12.0 {
		t.Fatalf("second segment bounds: %f-%f", segs[1].StartSec, segs[1].EndSec)
	}
	if segs[0].Confidence == nil || *segs[0].Confidence != 0.9 {
		t.Fatalf("first segment confidence: %v", segs[0].Confidence)
	}
}

func TestGroupBySpeaker_FoldsContiguousSpeakerRuns(t *testing.T) {
	words := []recognizedWord{
		word("as", 0, 0.3, 1, 0.9),
		word("you", 0.3, 0.5, 1, 0.9),
		word("see", 0.5, 0.8, 1, 0.9),
		word("question", 1.0, 1.5, 2, 0.7),
		word("please", 1.5, 1.9, 2, 0.7),
	}
	segs := groupBySpeaker(words)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Speaker == nil || *segs[0].Speaker != "Speaker 1" {
		t.Fatalf("first speaker: %v", segs[0].Speaker)
	}
	if segs[1].Text != "question please" {
		t.Fatalf("second segment text: %q", segs[1].Text)
	}
}

func TestGroupByTime_EmptyInput(t *testing.T) {
	if segs := groupByTime(nil, 10); segs != nil {
		t.Fatalf("expected nil for no words, got %v", segs)
	}
}

func TestDurToSec(t *testing.T) {
	if got := durToSec(nil); got != 0 {
		t.Fatalf("nil duration: got %f", got)
	}
	d := &durationpb.Duration{Seconds: 3, Nanos: 500_000_000}
	if got := durToSec(d); got != 3.5 {
		t.Fatalf("3.5s duration: got %f", got)
	}
}
