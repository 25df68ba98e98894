package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/driftchat/driftchat/internal/db"
	apperr "github.com/driftchat/driftchat/internal/errors"
)

// IdentityRepository provides data access for anonymous participant records.
// The matcher only reads identities apart from the activity refresh; all
// other mutation happens here or in the sweeper.
type IdentityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository creates a new repository bound to the given DB connection.
func NewIdentityRepository(database *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: database}
}

// Create inserts a new identity record on first contact.
func (r *IdentityRepository) Create(ctx context.Context, token, secretHash string) (db.Identity, error) {
	identity := db.Identity{
		Token:      token,
		SecretHash: secretHash,
		Interests:  "[]",
		Active:     true,
		LastSeenAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Create(&identity).Error
	return identity, err
}

// GetByToken resolves a client token to its identity.
func (r *IdentityRepository) GetByToken(ctx context.Context, token string) (db.Identity, error) {
	var identity db.Identity
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Identity{}, apperr.ErrNotFound
	}
	return identity, err
}

// GetByID loads an identity by primary key.
func (r *IdentityRepository) GetByID(ctx context.Context, id uint64) (db.Identity, error) {
	var identity db.Identity
	err := r.db.WithContext(ctx).First(&identity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Identity{}, apperr.ErrNotFound
	}
	return identity, err
}

// Refresh marks the identity active, bumps its activity timestamp and
// replaces its stored interests. Called at the top of every match request.
func (r *IdentityRepository) Refresh(ctx context.Context, id uint64, interests string) error {
	res := r.db.WithContext(ctx).Model(&db.Identity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":       true,
			"last_seen_at": time.Now().UTC(),
			"interests":    interests,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Touch refreshes the activity timestamp without touching interests.
// Backs the heartbeat operation.
func (r *IdentityRepository) Touch(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Model(&db.Identity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":       true,
			"last_seen_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Deactivate marks the given identities inactive. Used on session close to
// avoid immediate re-pairing of either side.
func (r *IdentityRepository) Deactivate(ctx context.Context, ids ...uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&db.Identity{}).
		Where("id IN ? AND active = ?", ids, true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

// DeactivateIdle marks identities inactive once their last heartbeat is
// older than the cutoff. Conditional on active so the sweep is idempotent.
func (r *IdentityRepository) DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&db.Identity{}).
		Where("active = ? AND last_seen_at < ?", true, cutoff).
		Update("active", false)
	return res.RowsAffected, res.Error
}

// PurgeIdle hard-deletes identities whose last activity is older than the
// cutoff, cascading to their waiting entries.
func (r *IdentityRepository) PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := tx.Model(&db.Identity{}).
			Where("last_seen_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("identity_id IN ?", ids).Delete(&db.WaitingEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&db.Identity{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}

// ExistingIDs reports which of the given ids still have identity rows.
// Backs the sweeper's score-cache orphan eviction.
func (r *IdentityRepository) ExistingIDs(ctx context.Context, ids []uint64) (map[uint64]bool, error) {
	existing := make(map[uint64]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	var found []uint64
	err := r.db.WithContext(ctx).Model(&db.Identity{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}
