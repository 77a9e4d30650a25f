package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/repos"
	"github.com/insightlearn/backend/internal/types"
)

// TranscriptCache is the optional read-through cache in front of GetCurrent.
// A nil cache degrades to always-miss.
type TranscriptCache interface {
	Get(ctx context.Context, lessonID uuid.UUID, language string) (*types.Transcript, error)
	Set(ctx context.Context, transcript *types.Transcript) error
	Invalidate(ctx context.Context, lessonID uuid.UUID, language string) error
}

// TranscriptView is the read model handed to HTTP and retrieval consumers.
type TranscriptView struct {
	LessonID uuid.UUID `json:"lesson_id"`
	Language string    `json:"language"`
	Status   string    `json:"status"`

	Segments []types.TranscriptSegment `json:"segments"`
	FullText string                    `json:"full_text"`

	DurationSeconds float64    `json:"duration_seconds"`
	WordCount       int        `json:"word_count"`
	AvgConfidence   *float64   `json:"avg_confidence,omitempty"`
	Engine          string     `json:"engine,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

type TranscriptService interface {
	// GetCurrent returns the current transcript for the key, or nil when
	// none exists. Missing is not an error: search and context assembly
	// treat it as an empty contribution.
	GetCurrent(ctx context.Context, lessonID uuid.UUID, language string) (*TranscriptView, error)

	// Replace atomically installs a new current generation built from the
	// given segments, superseding any prior one.
	Replace(ctx context.Context, lessonID uuid.UUID, language, engine string, segments []SegmentInput) (*types.Transcript, error)

	// Append adds streaming partial segments to the in-progress (not yet
	// current) generation for the key, creating it on first use.
	Append(ctx context.Context, lessonID uuid.UUID, language string, segments []SegmentInput) error

	Delete(ctx context.Context, lessonID uuid.UUID, language string) error
}

type transcriptService struct {
	db    *gorm.DB
	log   *logger.Logger
	repo  repos.TranscriptRepo
	cache TranscriptCache

	// loads collapses concurrent cache misses for the same key into one
	// database read.
	loads singleflight.Group
}

func NewTranscriptService(db *gorm.DB, baseLog *logger.Logger, repo repos.TranscriptRepo, cache TranscriptCache) TranscriptService {
	return &transcriptService{
		db:    db,
		log:   baseLog.With("service", "TranscriptService"),
		repo:  repo,
		cache: cache,
	}
}

// ValidateSegments checks the segment ordering invariant: non-negative
// times, end after start, and non-overlapping, non-decreasing intervals.
// prevEnd carries the last end time already stored when appending.
func ValidateSegments(segments []SegmentInput, prevEnd float64) error {
	for i, seg := range segments {
		if seg.StartSec < 0 || seg.EndSec < 0 {
			return fmt.Errorf("%w: segment %d has negative time", ErrValidation, i)
		}
		if seg.EndSec <= seg.StartSec {
			return fmt.Errorf("%w: segment %d end %.3f not after start %.3f", ErrValidation, i, seg.EndSec, seg.StartSec)
		}
		if seg.StartSec < prevEnd {
			return fmt.Errorf("%w: segment %d starts at %.3f before previous end %.3f", ErrValidation, i, seg.StartSec, prevEnd)
		}
		if seg.Confidence != nil && (*seg.Confidence < 0 || *seg.Confidence > 1) {
			return fmt.Errorf("%w: segment %d confidence outside [0,1]", ErrValidation, i)
		}
		prevEnd = seg.EndSec
	}
	return nil
}

// FullText joins segment texts in order with single spaces.
func FullText(segments []types.TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func buildSegments(transcriptID uuid.UUID, startIdx int, inputs []SegmentInput) []types.TranscriptSegment {
	segs := make([]types.TranscriptSegment, 0, len(inputs))
	for i, in := range inputs {
		segs = append(segs, types.TranscriptSegment{
			TranscriptID: transcriptID,
			Idx:          startIdx + i,
			StartSec:     in.StartSec,
			EndSec:       in.EndSec,
			Speaker:      in.Speaker,
			Text:         in.Text,
			Confidence:   in.Confidence,
		})
	}
	return segs
}

func summarize(segments []types.TranscriptSegment) (duration float64, wordCount int, avgConfidence *float64) {
	var confSum float64
	var confN int
	for _, seg := range segments {
		if seg.EndSec > duration {
			duration = seg.EndSec
		}
		wordCount += len(strings.Fields(seg.Text))
		if seg.Confidence != nil {
			confSum += *seg.Confidence
			confN++
		}
	}
	if confN > 0 {
		v := confSum / float64(confN)
		avgConfidence = &v
	}
	return duration, wordCount, avgConfidence
}

func toView(t *types.Transcript) *TranscriptView {
	return &TranscriptView{
		LessonID:        t.LessonID,
		Language:        t.Language,
		Status:          t.Status,
		Segments:        t.Segments,
		FullText:        FullText(t.Segments),
		DurationSeconds: t.DurationSeconds,
		WordCount:       t.WordCount,
		AvgConfidence:   t.AvgConfidence,
		Engine:          t.Engine,
		ProcessedAt:     t.ProcessedAt,
	}
}

func (s *transcriptService) GetCurrent(ctx context.Context, lessonID uuid.UUID, language string) (*TranscriptView, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, lessonID, language)
		if err != nil {
			s.log.Warn("Transcript cache read failed", "lesson_id", lessonID, "error", err)
		} else if cached != nil {
			return toView(cached), nil
		}
	}

	v, err, _ := s.loads.Do(lessonID.String()+":"+language, func() (interface{}, error) {
		t, err := s.repo.GetCurrent(ctx, nil, lessonID, language)
		if err != nil {
			return nil, fmt.Errorf("get current transcript: %w", err)
		}
		if t != nil && s.cache != nil {
			if err := s.cache.Set(ctx, t); err != nil {
				s.log.Warn("Transcript cache write failed", "lesson_id", lessonID, "error", err)
			}
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	t := v.(*types.Transcript)
	if t == nil {
		return nil, nil
	}
	return toView(t), nil
}

func (s *transcriptService) Replace(ctx context.Context, lessonID uuid.UUID, language, engine string, inputs []SegmentInput) (*types.Transcript, error) {
	if err := ValidateSegments(inputs, 0); err != nil {
		return nil, err
	}

	now := time.Now()
	t := &types.Transcript{
		ID:       uuid.New(),
		LessonID: lessonID,
		Language: language,
		Engine:   engine,
	}
	t.Segments = buildSegments(t.ID, 0, inputs)
	t.DurationSeconds, t.WordCount, t.AvgConfidence = summarize(t.Segments)
	t.ProcessedAt = &now

	if err := s.repo.Replace(ctx, nil, t); err != nil {
		return nil, fmt.Errorf("replace transcript: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, lessonID, language); err != nil {
			s.log.Warn("Transcript cache invalidation failed", "lesson_id", lessonID, "error", err)
		}
	}

	s.log.Info("Transcript replaced",
		"lesson_id", lessonID,
		"language", language,
		"segments", len(t.Segments),
		"words", t.WordCount,
	)
	return t, nil
}

func (s *transcriptService) Append(ctx context.Context, lessonID uuid.UUID, language string, inputs []SegmentInput) error {
	if len(inputs) == 0 {
		return nil
	}

	inProgress, err := s.repo.GetInProgress(ctx, nil, lessonID, language)
	if err != nil {
		return fmt.Errorf("get in-progress transcript: %w", err)
	}

	var prevEnd float64
	startIdx := 0
	if inProgress == nil {
		inProgress = &types.Transcript{
			ID:       uuid.New(),
			LessonID: lessonID,
			Language: language,
		}
		if err := s.repo.CreateInProgress(ctx, nil, inProgress); err != nil {
			return fmt.Errorf("create in-progress transcript: %w", err)
		}
	} else if n := len(inProgress.Segments); n > 0 {
		prevEnd = inProgress.Segments[n-1].EndSec
		startIdx = inProgress.Segments[n-1].Idx + 1
	}

	if err := ValidateSegments(inputs, prevEnd); err != nil {
		return err
	}

	segs := buildSegments(inProgress.ID, startIdx, inputs)
	if err := s.repo.AppendSegments(ctx, nil, inProgress.ID, segs); err != nil {
		return fmt.Errorf("append segments: %w", err)
	}
	return nil
}

func (s *transcriptService) Delete(ctx context.Context, lessonID uuid.UUID, language string) error {
	if err := s.repo.Delete(ctx, nil, lessonID, language); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, lessonID, language); err != nil {
			s.log.Warn("Transcript cache invalidation failed", "lesson_id", lessonID, "error", err)
		}
	}
	return nil
}
