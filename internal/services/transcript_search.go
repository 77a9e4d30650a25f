package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/insightlearn/backend/internal/logger"
)

type SearchMatch struct {
	Timestamp float64  `json:"timestamp"`
	Text      string   `json:"text"`
	Speaker   *string  `json:"speaker,omitempty"`
	Score     float64  `json:"score"`
}

type SearchResult struct {
	LessonID     uuid.UUID     `json:"lesson_id"`
	Query        string        `json:"query"`
	TotalMatches int           `json:"total_matches"`
	Matches      []SearchMatch `json:"matches"`
}

// TranscriptReader is the slice of TranscriptService the retriever needs.
type TranscriptReader interface {
	GetCurrent(ctx context.Context, lessonID uuid.UUID, language string) (*TranscriptView, error)
}

type SearchService interface {
	// Search ranks segments of the current transcript by rarity-weighted
	// term overlap with the query. Empty query or missing transcript
	// yields an empty result, never an error.
	Search(ctx context.Context, lessonID uuid.UUID, language, query string, maxResults int) (*SearchResult, error)
}

type searchService struct {
	log         *logger.Logger
	transcripts TranscriptReader
}

func NewSearchService(baseLog *logger.Logger, transcripts TranscriptReader) SearchService {
	return &searchService{
		log:         baseLog.With("service", "SearchService"),
		transcripts: transcripts,
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func (s *searchService) Search(ctx context.Context, lessonID uuid.UUID, language, query string, maxResults int) (*SearchResult, error) {
	result := &SearchResult{
		LessonID: lessonID,
		Query:    query,
		Matches:  []SearchMatch{},
	}

	terms := uniqueTerms(tokenize(query))
	if len(terms) == 0 {
		return result, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	view, err := s.transcripts.GetCurrent(ctx, lessonID, language)
	if err != nil {
		return nil, fmt.Errorf("search transcript: %w", err)
	}
	if view == nil || len(view.Segments) == 0 {
		return result, nil
	}

	// Document frequency of each query term across segments; rare terms
	// carry more weight so "variabili" beats "the".
	df := make(map[string]int, len(terms))
	segTerms := make([]map[string]bool, len(view.Segments))
	for i, seg := range view.Segments {
		present := make(map[string]bool)
		for _, tok := range tokenize(seg.Text) {
			present[tok] = true
		}
		segTerms[i] = present
		for _, term := range terms {
			if present[term] {
				df[term]++
			}
		}
	}

	n := float64(len(view.Segments))
	weight := make(map[string]float64, len(terms))
	var totalWeight float64
	for _, term := range terms {
		w := math.Log(1 + n/float64(df[term]+1))
		weight[term] = w
		totalWeight += w
	}
	if totalWeight == 0 {
		return result, nil
	}

	for i, seg := range view.Segments {
		var matched float64
		for _, term := range terms {
			if segTerms[i][term] {
				matched += weight[term]
			}
		}
		if matched == 0 {
			continue
		}
		result.Matches = append(result.Matches, SearchMatch{
			Timestamp: seg.StartSec,
			Text:      seg.Text,
			Speaker:   seg.Speaker,
			Score:     matched / totalWeight,
		})
	}

	sort.SliceStable(result.Matches, func(a, b int) bool {
		if result.Matches[a].Score != result.Matches[b].Score {
			return result.Matches[a].Score > result.Matches[b].Score
		}
		return result.Matches[a].Timestamp < result.Matches[b].Timestamp
	})

	result.TotalMatches = len(result.Matches)
	if len(result.Matches) > maxResults {
		result.Matches = result.Matches[:maxResults]
	}
	return result, nil
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}
