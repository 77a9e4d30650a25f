package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/types"
)

type ConversationRepo interface {
	CreateSession(ctx context.Context, tx *gorm.DB, session *types.ConversationSession) error
	GetSession(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ConversationSession, error)
	ListSessions(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lessonID *uuid.UUID, limit int) ([]*types.ConversationSession, error)

	// AppendMessage assigns the next sequence number, inserts the message
	// and bumps the session counters, all in one transaction. Callers
	// serialize appends per session; the unique (session_id, seq) index is
	// the backstop.
	AppendMessage(ctx context.Context, tx *gorm.DB, msg *types.ConversationMessage) error

	ListMessages(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ConversationMessage, error)
	RecentMessages(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ConversationMessage, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) CreateSession(ctx context.Context, tx *gorm.DB, session *types.ConversationSession) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(session).Error
}

func (r *conversationRepo) GetSession(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ConversationSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var s types.ConversationSession
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *conversationRepo) ListSessions(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lessonID *uuid.UUID, limit int) ([]*types.ConversationSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	q := transaction.WithContext(ctx).Where("user_id = ?", userID)
	if lessonID != nil {
		q = q.Where("lesson_id = ?", *lessonID)
	}
	var sessions []*types.ConversationSession
	err := q.Order("last_message_at DESC").Limit(limit).Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *conversationRepo) AppendMessage(ctx context.Context, tx *gorm.DB, msg *types.ConversationMessage) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var maxSeq int64
		if err := txx.Model(&types.ConversationMessage{}).
			Where("session_id = ?", msg.SessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		msg.Seq = maxSeq + 1

		if err := txx.Create(msg).Error; err != nil {
			return err
		}

		return txx.Model(&types.ConversationSession{}).
			Where("id = ?", msg.SessionID).
			Updates(map[string]interface{}{
				"message_count":   gorm.Expr("message_count + 1"),
				"last_message_at": msg.CreatedAt,
				"updated_at":      now,
			}).Error
	})
}

func (r *conversationRepo) ListMessages(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ConversationMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []*types.ConversationMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *conversationRepo) RecentMessages(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ConversationMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 10
	}
	var msgs []*types.ConversationMessage
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// Flip back to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
