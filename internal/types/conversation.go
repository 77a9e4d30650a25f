package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// ConversationSession is a durable tutoring thread between one user and the
// assistant, optionally scoped to a lesson. Created lazily on the first
// Send without a session id.
type ConversationSession struct {
	ID       uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	LessonID *uuid.UUID `gorm:"type:uuid;column:lesson_id;index" json:"lesson_id,omitempty"`

	MessageCount  int       `gorm:"column:message_count;not null;default:0" json:"message_count"`
	LastMessageAt time.Time `gorm:"column:last_message_at;not null;default:now();index" json:"last_message_at"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ConversationSession) TableName() string { return "conversation_session" }

// ConversationMessage is one immutable entry in a session's append-only log.
// Seq is assigned under the session's append serialization, so ordering by
// Seq is creation order.
type ConversationMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index:idx_conversation_message_seq" json:"session_id"`
	Seq       int64     `gorm:"column:seq;not null;index:idx_conversation_message_seq" json:"seq"`

	Role           string `gorm:"column:role;size:20;not null" json:"role"` // user|assistant|system
	Content        string `gorm:"column:content;not null" json:"content"`
	VideoTimestamp *int   `gorm:"column:video_timestamp" json:"video_timestamp,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (ConversationMessage) TableName() string { return "conversation_message" }
