package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/types"
)

type TranscriptionLeaseRepo interface {
	// Acquire attempts to claim the lease for key on behalf of owner.
	// Returns true when the claim succeeded: the row was absent, expired,
	// or already owned by this owner (re-entrant renewal).
	Acquire(ctx context.Context, tx *gorm.DB, key string, owner uuid.UUID, ttl time.Duration) (bool, error)

	// Renew extends a lease the owner still holds. Returns false when the
	// lease was lost (expired and taken by someone else).
	Renew(ctx context.Context, tx *gorm.DB, key string, owner uuid.UUID, ttl time.Duration) (bool, error)

	Release(ctx context.Context, tx *gorm.DB, key string, owner uuid.UUID) error
}

type transcriptionLeaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscriptionLeaseRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptionLeaseRepo {
	return &transcriptionLeaseRepo{db: db, log: baseLog.With("repo", "TranscriptionLeaseRepo")}
}

func (r *transcriptionLeaseRepo) Acquire(ctx context.Context, tx *gorm.DB, key string, owner uuid.UUID, ttl time.Duration) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now()
	lease := types.TranscriptionLease{
		LeaseKey:  key,
		OwnerID:   owner,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Single round-trip check-and-set: the conflict update only fires when
	// the existing lease is expired or already ours.
	res := transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "lease_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"owner_id":   owner,
			"expires_at": now.Add(ttl),
			"updated_at": now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("transcription_lease.expires_at < ? OR transcription_lease.owner_id = ?", now, owner),
		}},
	}).Create(&lease)

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *transcriptionLeaseRepo) Renew(ctx context.Context, tx *gorm.DB, key string, owner uuid.UUID, ttl time.Duration) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&types.TranscriptionLease{}).
		Where("lease_key = ? AND owner_id = ? AND expires_at >= ?", key, owner, now).
		Updates(map[string]interface{}{
			"expires_at": now.Add(ttl),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *transcriptionLeaseRepo) Release(ctx context.Context, tx *gorm.DB, key string, owner uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("lease_key = ? AND owner_id = ?", key, owner).
		Delete(&types.TranscriptionLease{}).Error
}
