package types

import (
	"time"

	"github.com/google/uuid"
)

// StudentNote is a timestamped note taken during video playback. Shared and
// bookmarked notes feed the tutoring context assembler.
type StudentNote struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	LessonID uuid.UUID `gorm:"type:uuid;not null;index" json:"lesson_id"`

	VideoTimestamp int    `gorm:"column:video_timestamp;not null" json:"video_timestamp"`
	NoteText       string `gorm:"column:note_text;size:4000;not null" json:"note_text"`

	IsShared     bool `gorm:"column:is_shared;not null;default:false" json:"is_shared"`
	IsBookmarked bool `gorm:"column:is_bookmarked;not null;default:false" json:"is_bookmarked"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (StudentNote) TableName() string { return "student_note" }
