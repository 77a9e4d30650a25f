package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/types"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Transcription pipeline
		&types.TranscriptionJob{},
		&types.TranscriptionLease{},
		&types.Transcript{},
		&types.TranscriptSegment{},

		// Tutoring assistant
		&types.ConversationSession{},
		&types.ConversationMessage{},

		// Learner notes
		&types.StudentNote{},
	)
}

func EnsureTranscriptIndexes(db *gorm.DB) error {
	// One current transcript per (lesson, language), enforced at the
	// storage layer so Replace can never leave two generations visible.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transcript_current_key
		ON transcript (lesson_id, language)
		WHERE current;
	`).Error; err != nil {
		return fmt.Errorf("create idx_transcript_current_key: %w", err)
	}

	// Lexical fallback search over segment text.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transcript_segment_fts
		ON transcript_segment
		USING GIN (to_tsvector('simple', text));
	`).Error; err != nil {
		return fmt.Errorf("create idx_transcript_segment_fts: %w", err)
	}

	return nil
}

func EnsureConversationIndexes(db *gorm.DB) error {
	// Fast message pagination per session, and a guard against duplicate
	// sequence numbers slipping past the per-session append serialization.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_message_session_seq
		ON conversation_message (session_id, seq);
	`).Error; err != nil {
		return fmt.Errorf("create idx_conversation_message_session_seq: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_conversation_session_user_last
		ON conversation_session (user_id, last_message_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_conversation_session_user_last: %w", err)
	}

	// Context notes lookup: shared/bookmarked notes per lesson, newest first.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_student_note_lesson_created
		ON student_note (lesson_id, created_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_student_note_lesson_created: %w", err)
	}

	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureTranscriptIndexes(s.db); err != nil {
		s.log.Error("Transcript index migration failed", "error", err)
		return err
	}
	if err := EnsureConversationIndexes(s.db); err != nil {
		s.log.Error("Conversation index migration failed", "error", err)
		return err
	}
	return nil
}
