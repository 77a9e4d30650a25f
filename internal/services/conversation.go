package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/repos"
	"github.com/insightlearn/backend/internal/types"
)

const (
	maxMessageLength     = 2000
	historyWindow        = 10
	defaultContextBudget = 1500
)

const tutorSystemPrompt = "You are a patient tutoring assistant embedded in a video learning platform. " +
	"Ground your answers in the provided video context when it is present, " +
	"cite timestamps in [MM:SS] form when referring to the video, and say so " +
	"plainly when the context does not cover the question."

type SendRequest struct {
	UserID         uuid.UUID
	SessionID      *uuid.UUID
	LessonID       *uuid.UUID
	Message        string
	VideoTimestamp *int
}

type SendResult struct {
	SessionID      uuid.UUID  `json:"session_id"`
	Reply          string     `json:"reply"`
	CreatedSession bool       `json:"created_session"`
	LessonID       *uuid.UUID `json:"lesson_id,omitempty"`
	VideoTimestamp *int       `json:"video_timestamp,omitempty"`
	TranscriptUsed bool       `json:"transcript_used"`
	NotesUsed      bool       `json:"notes_used"`
	ContextTokens  int        `json:"context_tokens"`
	Timestamp      time.Time  `json:"timestamp"`
}

type SessionHistory struct {
	Session  *types.ConversationSession   `json:"session"`
	Messages []*types.ConversationMessage `json:"messages"`
}

type ConversationService interface {
	// Send appends the user's message to the session (creating one when no
	// usable session id is supplied), asks the AI gateway for a reply
	// grounded in lesson context, and records the assistant turn.
	Send(ctx context.Context, req SendRequest) (*SendResult, error)

	// GetHistory returns a session's messages in creation order. Unknown
	// session ids are ErrNotFound; another user's session is ErrUnauthorized.
	GetHistory(ctx context.Context, userID, sessionID uuid.UUID, limit int) (*SessionHistory, error)

	GetSessions(ctx context.Context, userID uuid.UUID, lessonID *uuid.UUID, limit int) ([]*types.ConversationSession, error)
}

type conversationService struct {
	db        *gorm.DB
	log       *logger.Logger
	repo      repos.ConversationRepo
	assembler ContextAssembler
	ai        AIClient

	// sessionMu serializes Send per session so seq assignment and the
	// user/assistant turn pairing never interleave.
	mu        sync.Mutex
	sessionMu map[uuid.UUID]*sync.Mutex
}

func NewConversationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.ConversationRepo,
	assembler ContextAssembler,
	ai AIClient,
) ConversationService {
	return &conversationService{
		db:        db,
		log:       baseLog.With("service", "ConversationService"),
		repo:      repo,
		assembler: assembler,
		ai:        ai,
		sessionMu: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *conversationService) lockSession(id uuid.UUID) func() {
	s.mu.Lock()
	m, ok := s.sessionMu[id]
	if !ok {
		m = &sync.Mutex{}
		s.sessionMu[id] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *conversationService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxMessageLength)
	}
	if req.VideoTimestamp != nil && *req.VideoTimestamp < 0 {
		return nil, fmt.Errorf("%w: video timestamp must be non-negative", ErrValidation)
	}
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id required", ErrValidation)
	}

	session, created, err := s.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := s.lockSession(session.ID)
	defer unlock()

	history, err := s.repo.RecentMessages(ctx, nil, session.ID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	userMsg := &types.ConversationMessage{
		ID:             uuid.New(),
		SessionID:      session.ID,
		Role:           types.MessageRoleUser,
		Content:        message,
		VideoTimestamp: req.VideoTimestamp,
	}
	if err := s.repo.AppendMessage(ctx, nil, userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	// The message's lesson wins over the one the session was opened on, so
	// a learner can carry one session across videos.
	lessonID := req.LessonID
	if lessonID == nil {
		lessonID = session.LessonID
	}

	system := tutorSystemPrompt
	result := &SendResult{
		SessionID:      session.ID,
		CreatedSession: created,
		LessonID:       lessonID,
		VideoTimestamp: req.VideoTimestamp,
	}
	if lessonID != nil {
		ts := 0
		if req.VideoTimestamp != nil {
			ts = *req.VideoTimestamp
		}
		bundle, err := s.assembler.Build(ctx, req.UserID, *lessonID, ts, defaultContextBudget)
		if err != nil {
			// Context is best effort: a degraded reply beats no reply.
			s.log.Warn("Context assembly failed", "session_id", session.ID, "error", err)
		} else if bundle.Text != "" {
			system = system + "\n\n" + bundle.Text
			result.TranscriptUsed = bundle.TranscriptUsed
			result.NotesUsed = bundle.NotesUsed
			result.ContextTokens = bundle.TokenCount
		}
	}

	aiMessages := make([]AIMessage, 0, len(history)+1)
	for _, m := range history {
		aiMessages = append(aiMessages, AIMessage{Role: m.Role, Content: m.Content})
	}
	aiMessages = append(aiMessages, AIMessage{Role: types.MessageRoleUser, Content: message})

	reply, err := s.ai.Reply(ctx, system, aiMessages)
	if err != nil {
		return nil, fmt.Errorf("ai reply: %w", err)
	}

	assistantMsg := &types.ConversationMessage{
		ID:             uuid.New(),
		SessionID:      session.ID,
		Role:           types.MessageRoleAssistant,
		Content:        reply,
		VideoTimestamp: req.VideoTimestamp,
	}
	if err := s.repo.AppendMessage(ctx, nil, assistantMsg); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	result.Reply = reply
	result.Timestamp = assistantMsg.CreatedAt
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	return result, nil
}

// resolveSession finds the caller's session or lazily creates one. An
// unknown session id also creates a fresh session rather than erroring, so
// clients can hold ids across history retention.
func (s *conversationService) resolveSession(ctx context.Context, req SendRequest) (*types.ConversationSession, bool, error) {
	if req.SessionID != nil && *req.SessionID != uuid.Nil {
		session, err := s.repo.GetSession(ctx, nil, *req.SessionID)
		if err != nil {
			return nil, false, fmt.Errorf("get session: %w", err)
		}
		if session != nil {
			if session.UserID != req.UserID {
				return nil, false, fmt.Errorf("%w: session %s", ErrUnauthorized, *req.SessionID)
			}
			return session, false, nil
		}
	}
	session := &types.ConversationSession{
		ID:            uuid.New(),
		UserID:        req.UserID,
		LessonID:      req.LessonID,
		LastMessageAt: time.Now().UTC(),
	}
	if err := s.repo.CreateSession(ctx, nil, session); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("Conversation session created",
		"session_id", session.ID,
		"user_id", req.UserID,
	)
	return session, true, nil
}

func (s *conversationService) GetHistory(ctx context.Context, userID, sessionID uuid.UUID, limit int) (*SessionHistory, error) {
	session, err := s.repo.GetSession(ctx, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("%w: session %s", ErrUnauthorized, sessionID)
	}
	messages, err := s.repo.ListMessages(ctx, nil, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &SessionHistory{Session: session, Messages: messages}, nil
}

func (s *conversationService) GetSessions(ctx context.Context, userID uuid.UUID, lessonID *uuid.UUID, limit int) ([]*types.ConversationSession, error) {
	sessions, err := s.repo.ListSessions(ctx, nil, userID, lessonID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
