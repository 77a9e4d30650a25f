package types

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptionLease is the exclusive claim a worker holds on a
// (lesson, language) key while transcribing it. Acquisition is an atomic
// upsert that only succeeds when the row is absent, expired, or already
// owned by the acquirer.
type TranscriptionLease struct {
	LeaseKey  string    `gorm:"column:lease_key;primaryKey" json:"lease_key"`
	OwnerID   uuid.UUID `gorm:"type:uuid;column:owner_id;not null" json:"owner_id"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (TranscriptionLease) TableName() string { return "transcription_lease" }

// LeaseKey builds the canonical lease key for a lesson/language pair.
func LeaseKey(lessonID uuid.UUID, language string) string {
	return lessonID.String() + ":" + language
}
