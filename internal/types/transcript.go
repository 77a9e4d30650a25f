package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	TranscriptStatusProcessing = "Processing"
	TranscriptStatusCompleted  = "Completed"
)

// Transcript is one generation of the transcript for a (lesson, language)
// pair. At most one generation per pair carries current=true; Replace swaps
// the flag and the new generation inside a single transaction.
type Transcript struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LessonID uuid.UUID `gorm:"type:uuid;not null;index:idx_transcript_key" json:"lesson_id"`
	Language string    `gorm:"column:language;size:10;not null;index:idx_transcript_key" json:"language"`

	Status  string `gorm:"column:status;not null" json:"status"` // Processing|Completed
	Current bool   `gorm:"column:current;not null;default:false;index" json:"current"`

	Engine          string     `gorm:"column:engine" json:"engine,omitempty"`
	WordCount       int        `gorm:"column:word_count;not null;default:0" json:"word_count"`
	DurationSeconds float64    `gorm:"column:duration_seconds;not null;default:0" json:"duration_seconds"`
	AvgConfidence   *float64   `gorm:"column:avg_confidence" json:"avg_confidence,omitempty"`
	ProcessedAt     *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`

	Segments []TranscriptSegment `gorm:"foreignKey:TranscriptID" json:"segments,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Transcript) TableName() string { return "transcript" }

// TranscriptSegment is a timestamped span of transcribed speech. Within a
// transcript, segments are ordered by Idx with non-decreasing,
// non-overlapping [StartSec, EndSec) intervals.
type TranscriptSegment struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TranscriptID uuid.UUID `gorm:"type:uuid;not null;index:idx_transcript_segment_order" json:"transcript_id"`
	Idx          int       `gorm:"column:idx;not null;index:idx_transcript_segment_order" json:"idx"`

	StartSec   float64  `gorm:"column:start_sec;not null" json:"start_sec"`
	EndSec     float64  `gorm:"column:end_sec;not null" json:"end_sec"`
	Speaker    *string  `gorm:"column:speaker" json:"speaker,omitempty"`
	Text       string   `gorm:"column:text;not null" json:"text"`
	Confidence *float64 `gorm:"column:confidence" json:"confidence,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (TranscriptSegment) TableName() string { return "transcript_segment" }
