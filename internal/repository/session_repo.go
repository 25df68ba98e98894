package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/driftchat/driftchat/internal/db"
	apperr "github.com/driftchat/driftchat/internal/errors"
)

// SessionRepository provides data access for conversation sessions and
// their messages.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new repository bound to the given DB connection.
func NewSessionRepository(database *gorm.DB) *SessionRepository {
	return &SessionRepository{db: database}
}

// GetByID loads a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (db.Session, error) {
	var session db.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Session{}, apperr.ErrNotFound
	}
	return session, err
}

// End transitions a session to ended. Conditional on not being ended
// already, which makes close idempotent; returns whether this call did the
// transition.
func (r *SessionRepository) End(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db.Session{}).
		Where("id = ? AND status <> ?", id, db.SessionEnded).
		Updates(map[string]interface{}{
			"status":   db.SessionEnded,
			"ended_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// EndAbandoned ends every waiting or active session with no remaining
// active participant. Idempotent: ended sessions never match the filter.
func (r *SessionRepository) EndAbandoned(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&db.Session{}).
		Where("status IN ?", []string{db.SessionWaiting, db.SessionActive}).
		Where(`NOT EXISTS (
			SELECT 1 FROM identities i
			WHERE (i.id = sessions.participant_a OR i.id = sessions.participant_b)
			  AND i.active = ?
		)`, true).
		Updates(map[string]interface{}{
			"status":   db.SessionEnded,
			"ended_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// PurgeEnded hard-deletes ended sessions older than the cutoff, cascading
// to their messages and any leftover waiting entries.
func (r *SessionRepository) PurgeEnded(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&db.Session{}).
			Where("status = ? AND ended_at < ?", db.SessionEnded, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&db.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&db.WaitingEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&db.Session{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}

// ListMessages returns a session's messages oldest-first.
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string) ([]db.Message, error) {
	var messages []db.Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}
