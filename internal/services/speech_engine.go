package services

import "context"

// SegmentInput is a time-aligned span of recognized speech as produced by a
// speech engine, before it is persisted as a transcript segment.
type SegmentInput struct {
	StartSec   float64
	EndSec     float64
	Speaker    *string
	Text       string
	Confidence *float64
}

type TranscribeRequest struct {
	// VideoAssetID is an opaque handle to the recorded lecture's audio
	// track (for the GCP engine, a gs:// URI).
	VideoAssetID string
	Language     string

	// OnPartial, when set, receives interim segment batches while
	// recognition runs. Engines whose upstream API yields no interim
	// results (GCP long-running recognize) never call it.
	OnPartial func(ctx context.Context, segments []SegmentInput) error
}

type TranscribeResult struct {
	Segments []SegmentInput
	Warnings []string
}

// SpeechEngine turns a video asset into time-aligned segments. The call may
// block for minutes; implementations must honor ctx cancellation and wrap
// retryable upstream failures with Transient.
type SpeechEngine interface {
	EngineID() string
	Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error)
}
