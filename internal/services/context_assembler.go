package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/types"
)

// ContextBundle is the ephemeral, token-bounded text assembled for one chat
// turn. It is never persisted; ownership stays with the Send call that
// requested it.
type ContextBundle struct {
	LessonID       uuid.UUID
	VideoTimestamp int
	Text           string
	TranscriptUsed bool
	NotesUsed      bool
	TokenCount     int
	TokenBudget    int
}

type contextNoteSource interface {
	ListContextNotes(ctx context.Context, tx *gorm.DB, lessonID, userID uuid.UUID, limit int) ([]*types.StudentNote, error)
}

type ContextAssembler interface {
	// Build assembles the transcript window around videoTimestamp plus the
	// lesson's shared/bookmarked notes, trimmed to tokenBudget. A missing
	// transcript or absent notes just leave the matching flag unset.
	Build(ctx context.Context, userID, lessonID uuid.UUID, videoTimestamp int, tokenBudget int) (*ContextBundle, error)
}

type contextAssembler struct {
	log         *logger.Logger
	transcripts TranscriptReader
	notes       contextNoteSource

	language      string
	windowSeconds float64
	maxNotes      int
}

func NewContextAssembler(baseLog *logger.Logger, transcripts TranscriptReader, notes contextNoteSource, language string, windowSeconds float64) ContextAssembler {
	if language == "" {
		language = "en-US"
	}
	if windowSeconds <= 0 {
		windowSeconds = 30
	}
	return &contextAssembler{
		log:           baseLog.With("service", "ContextAssembler"),
		transcripts:   transcripts,
		notes:         notes,
		language:      language,
		windowSeconds: windowSeconds,
		maxNotes:      5,
	}
}

// EstimateTokens approximates token usage as one token per four characters.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// contextItem is one trimmable unit: a whole transcript segment line or a
// whole note line. Trimming drops items farthest from the timestamp first
// and never splits an item.
type contextItem struct {
	line     string
	distance float64
	isNote   bool
	order    int
}

func (a *contextAssembler) Build(ctx context.Context, userID, lessonID uuid.UUID, videoTimestamp int, tokenBudget int) (*ContextBundle, error) {
	bundle := &ContextBundle{
		LessonID:       lessonID,
		VideoTimestamp: videoTimestamp,
		TokenBudget:    tokenBudget,
	}
	if tokenBudget <= 0 {
		return bundle, nil
	}

	t := float64(videoTimestamp)
	lo, hi := t-a.windowSeconds, t+a.windowSeconds

	var items []contextItem

	view, err := a.transcripts.GetCurrent(ctx, lessonID, a.language)
	if err != nil {
		return nil, fmt.Errorf("assemble transcript context: %w", err)
	}
	if view != nil {
		for _, seg := range view.Segments {
			// Interval intersection with [t-W, t+W].
			if seg.EndSec < lo || seg.StartSec > hi {
				continue
			}
			items = append(items, contextItem{
				line:     fmt.Sprintf("[%s] %s", formatTimestamp(int(seg.StartSec)), seg.Text),
				distance: intervalDistance(seg.StartSec, seg.EndSec, t),
				order:    len(items),
			})
		}
	}
	if a.notes != nil {
		notes, err := a.notes.ListContextNotes(ctx, nil, lessonID, userID, a.maxNotes)
		if err != nil {
			return nil, fmt.Errorf("assemble notes context: %w", err)
		}
		for _, note := range notes {
			items = append(items, contextItem{
				line:     fmt.Sprintf("- [%s] %s", formatTimestamp(note.VideoTimestamp), note.NoteText),
				distance: math.Abs(float64(note.VideoTimestamp) - t),
				isNote:   true,
				order:    len(items),
			})
		}
	}

	if len(items) == 0 {
		return bundle, nil
	}

	// Trim whole items until the rendered text fits the budget. Notes go
	// before segments at equal distance since the transcript window is the
	// primary grounding.
	kept := append([]contextItem(nil), items...)
	for {
		text, usedTranscript, usedNotes := render(kept, videoTimestamp)
		tokens := EstimateTokens(text)
		if tokens <= tokenBudget {
			bundle.Text = text
			bundle.TranscriptUsed = usedTranscript
			bundle.NotesUsed = usedNotes
			bundle.TokenCount = tokens
			return bundle, nil
		}
		if len(kept) == 0 {
			return bundle, nil
		}
		kept = dropFarthest(kept)
	}
}

func intervalDistance(start, end, t float64) float64 {
	if t < start {
		return start - t
	}
	if t > end {
		return t - end
	}
	return 0
}

func dropFarthest(items []contextItem) []contextItem {
	drop := 0
	for i := 1; i < len(items); i++ {
		a, b := items[i], items[drop]
		if a.distance > b.distance || (a.distance == b.distance && a.isNote && !b.isNote) {
			drop = i
		}
	}
	return append(items[:drop], items[drop+1:]...)
}

func render(items []contextItem, videoTimestamp int) (text string, transcriptUsed, notesUsed bool) {
	var segLines, noteLines []contextItem
	for _, it := range items {
		if it.isNote {
			noteLines = append(noteLines, it)
		} else {
			segLines = append(segLines, it)
		}
	}
	sort.Slice(segLines, func(i, j int) bool { return segLines[i].order < segLines[j].order })
	sort.Slice(noteLines, func(i, j int) bool { return noteLines[i].order < noteLines[j].order })

	var b strings.Builder
	if len(segLines) > 0 {
		b.WriteString("[Video Context]\n")
		fmt.Fprintf(&b, "Current video position: %s\n", formatTimestamp(videoTimestamp))
		b.WriteString("Relevant transcript excerpts:\n")
		for _, it := range segLines {
			b.WriteString(it.line)
			b.WriteString("\n")
		}
		transcriptUsed = true
	}
	if len(noteLines) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[Learner Notes]\n")
		for _, it := range noteLines {
			b.WriteString(it.line)
			b.WriteString("\n")
		}
		notesUsed = true
	}
	return strings.TrimRight(b.String(), "\n"), transcriptUsed, notesUsed
}

func formatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
