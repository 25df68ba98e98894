package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/driftchat/driftchat/internal/db"
)

// BanRepository consumes the moderation ban list as a read-only predicate.
// This core never writes bans; moderation tooling owns the table.
type BanRepository struct {
	db *gorm.DB
}

// NewBanRepository creates a new repository bound to the given DB connection.
func NewBanRepository(database *gorm.DB) *BanRepository {
	return &BanRepository{db: database}
}

// IsBanned reports whether the identity is currently barred from matching.
// A ban with a nil expiry is permanent; an expired ban no longer counts.
func (r *BanRepository) IsBanned(ctx context.Context, identityID uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Ban{}).
		Where("identity_id = ?", identityID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Count(&count).Error
	return count > 0, err
}
