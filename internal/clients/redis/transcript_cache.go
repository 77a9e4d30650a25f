package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/types"
)

// TranscriptCache is a read-through cache in front of the transcript store.
// Callers treat a nil cache as a miss on every read, so the process can run
// without Redis.
type TranscriptCache interface {
	Get(ctx context.Context, lessonID uuid.UUID, language string) (*types.Transcript, error)
	Set(ctx context.Context, transcript *types.Transcript) error
	Invalidate(ctx context.Context, lessonID uuid.UUID, language string) error
	Close() error
}

type transcriptCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewTranscriptCache(log *logger.Logger) (TranscriptCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &transcriptCache{
		log: log.With("service", "TranscriptCache"),
		rdb: rdb,
		ttl: 1 * time.Hour,
	}, nil
}

func cacheKey(lessonID uuid.UUID, language string) string {
	return "transcript:" + lessonID.String() + ":" + language
}

func (c *transcriptCache) Get(ctx context.Context, lessonID uuid.UUID, language string) (*types.Transcript, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(lessonID, language)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t types.Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		// Corrupt entry; drop it and fall back to the store.
		_ = c.rdb.Del(ctx, cacheKey(lessonID, language)).Err()
		return nil, nil
	}
	return &t, nil
}

func (c *transcriptCache) Set(ctx context.Context, transcript *types.Transcript) error {
	if transcript == nil {
		return nil
	}
	raw, err := json.Marshal(transcript)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(transcript.LessonID, transcript.Language), raw, c.ttl).Err()
}

func (c *transcriptCache) Invalidate(ctx context.Context, lessonID uuid.UUID, language string) error {
	return c.rdb.Del(ctx, cacheKey(lessonID, language)).Err()
}

func (c *transcriptCache) Close() error {
	return c.rdb.Close()
}
