package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusQueued     = "Queued"
	JobStatusProcessing = "Processing"
	JobStatusCompleted  = "Completed"
	JobStatusFailed     = "Failed"
)

const (
	JobPhaseQueued       = "Queued"
	JobPhaseDownloading  = "Downloading"
	JobPhaseTranscribing = "Transcribing"
	JobPhaseSaving       = "Saving"
	JobPhaseDone         = "Done"
)

// TranscriptionJob tracks one transcription request per (lesson, language).
// The row is reused across regenerations so the status column follows the
// job state machine instead of accumulating historical rows.
type TranscriptionJob struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LessonID     uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_transcription_job_key" json:"lesson_id"`
	VideoAssetID string    `gorm:"column:video_asset_id;not null" json:"video_asset_id"`
	Language     string    `gorm:"column:language;size:10;not null;uniqueIndex:idx_transcription_job_key" json:"language"`

	Status   string `gorm:"column:status;not null;index" json:"status"` // Queued|Processing|Completed|Failed
	Phase    string `gorm:"column:phase;not null" json:"phase"`         // Queued|Downloading|Transcribing|Saving|Done
	Progress int    `gorm:"column:progress;not null;default:0" json:"progress"`

	ForceRegenerate bool `gorm:"column:force_regenerate;not null;default:false" json:"force_regenerate"`
	CancelRequested bool `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`

	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string     `gorm:"column:error" json:"error,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`

	LockedAt    *time.Time `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (TranscriptionJob) TableName() string { return "transcription_job" }

func (j *TranscriptionJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

func (j *TranscriptionJob) IsActive() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusProcessing
}

// jobTransitions holds the allowed edges of the job state machine.
// Failed/Completed back to Queued happen only through forced resubmission;
// Processing back to Queued happens on lease expiry or cancellation requeue.
var jobTransitions = map[string][]string{
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusQueued},
	JobStatusFailed:     {JobStatusQueued},
	JobStatusCompleted:  {JobStatusQueued},
}

func CanTransitionJob(from, to string) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
