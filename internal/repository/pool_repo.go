package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/driftchat/driftchat/internal/db"
	apperr "github.com/driftchat/driftchat/internal/errors"
)

// PoolRepository owns the waiting pool: candidate scans, the conditional
// claim-and-pair transition, enqueueing, and expiry. All mutation of a
// waiting entry goes through a conditional state transition here; there is
// no other concurrency control.
type PoolRepository struct {
	db *gorm.DB
}

// NewPoolRepository creates a new repository bound to the given DB connection.
func NewPoolRepository(database *gorm.DB) *PoolRepository {
	return &PoolRepository{db: database}
}

// ExpireOverdue transitions waiting entries past their TTL to expired.
//
// Conditional on state = waiting, so it is a no-op for entries claimed in
// the meantime and safe to run concurrently with active matching. Called
// lazily by the matcher before every candidate scan and eagerly by the
// sweeper.
func (r *PoolRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&db.WaitingEntry{}).
		Where("state = ? AND expires_at <= ?", db.EntryWaiting, now).
		Update("state", db.EntryExpired)
	return res.RowsAffected, res.Error
}

// ListCandidates returns claimable entries for a requester: waiting state,
// unexpired, not the requester's own, and belonging to an active identity.
// Ordered oldest-first; the service layer re-ranks by compatibility score
// on top of this FIFO base so ties keep their age order.
func (r *PoolRepository) ListCandidates(
	ctx context.Context,
	excludeIdentityID uint64,
	now time.Time,
	limit int,
) ([]db.WaitingEntry, error) {
	var entries []db.WaitingEntry
	err := r.db.WithContext(ctx).
		Table("waiting_entries e").
		Select("e.*").
		Joins("JOIN identities i ON i.id = e.identity_id").
		Where("e.state = ?", db.EntryWaiting).
		Where("e.expires_at > ?", now).
		Where("e.identity_id <> ?", excludeIdentityID).
		Where("i.active = ?", true).
		Order("e.created_at ASC, e.id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// ClaimAndPair atomically claims a waiting entry for the requester and
// activates its session.
//
// The claim is a conditional write: the entry moves waiting -> claimed only
// if it is still waiting, and the session gains its second participant only
// if it is still waiting with participant_b unset. Exactly one concurrent
// caller can win; losers get ErrRaceLost without blocking and the
// transaction rollback undoes any partial transition, keeping claim and
// session activation indivisible. The same transaction retires any solo
// waiting state the requester still holds and carries the synthetic system
// messages, so a successful join can never leave the requester claimable.
func (r *PoolRepository) ClaimAndPair(
	ctx context.Context,
	entry db.WaitingEntry,
	requesterID uint64,
	score int,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.WaitingEntry{}).
			Where("id = ? AND state = ?", entry.ID, db.EntryWaiting).
			Update("state", db.EntryClaimed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRaceLost
		}

		now := time.Now().UTC()
		res = tx.Model(&db.Session{}).
			Where("id = ? AND status = ? AND participant_b IS NULL", entry.SessionID, db.SessionWaiting).
			Updates(map[string]interface{}{
				"status":        db.SessionActive,
				"participant_b": requesterID,
				"started_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// entry claim won but its session is gone or already paired;
			// roll the claim back and treat it like a lost race
			return apperr.ErrRaceLost
		}

		if err := retireOwnSoloState(tx, requesterID, now); err != nil {
			return err
		}

		messages := []db.Message{
			{
				SessionID: entry.SessionID,
				Kind:      db.MessageSystem,
				Body:      "You are now connected to a stranger. Say hi!",
			},
		}
		if score > 0 {
			messages = append(messages, db.Message{
				SessionID: entry.SessionID,
				Kind:      db.MessageSystem,
				Body:      fmt.Sprintf("You share interests! Compatibility score: %d", score),
			})
		}
		return tx.Create(&messages).Error
	})
}

// retireOwnSoloState expires any waiting entry the requester still holds
// and ends its backing solo session, inside the claim transaction. Without
// this, joining a partner would leave the requester's own stale entry
// claimable, and a later caller could pair them into a second session.
//
// The expiry is conditional on the entry still being waiting. If a
// concurrent caller claimed it between the read and the update, the
// requester is already being paired from the other side, so this claim
// aborts as a lost race and the whole transaction rolls back.
func retireOwnSoloState(tx *gorm.DB, requesterID uint64, now time.Time) error {
	var own []db.WaitingEntry
	if err := tx.Where("identity_id = ? AND state = ?", requesterID, db.EntryWaiting).
		Find(&own).Error; err != nil {
		return err
	}

	for _, stale := range own {
		res := tx.Model(&db.WaitingEntry{}).
			Where("id = ? AND state = ?", stale.ID, db.EntryWaiting).
			Update("state", db.EntryExpired)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRaceLost
		}

		if err := tx.Model(&db.Session{}).
			Where("id = ? AND status = ? AND participant_b IS NULL", stale.SessionID, db.SessionWaiting).
			Updates(map[string]interface{}{
				"status":   db.SessionEnded,
				"ended_at": now,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

// EnqueueWithSession inserts a waiting entry plus its solo session for the
// requester, or refreshes the requester's live entry if one already exists
// (at most one waiting entry per identity).
//
// The existence read is a locking read on MySQL: under REPEATABLE READ a
// plain check-then-insert lets two concurrent requests from the same
// identity both see no entry and both insert. SQLite allows a single writer
// at a time and rejects FOR UPDATE, so the lock is dialect-gated.
func (r *PoolRepository) EnqueueWithSession(
	ctx context.Context,
	identityID uint64,
	interests string,
	ttl time.Duration,
) (string, error) {
	var sessionID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		guard := tx.Where("identity_id = ? AND state = ? AND expires_at > ?",
			identityID, db.EntryWaiting, now)
		if tx.Dialector.Name() == "mysql" {
			guard = guard.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var existing db.WaitingEntry
		err := guard.First(&existing).Error
		if err == nil {
			// refresh the live entry instead of inserting a duplicate
			res := tx.Model(&db.WaitingEntry{}).
				Where("id = ? AND state = ?", existing.ID, db.EntryWaiting).
				Updates(map[string]interface{}{
					"interests":  interests,
					"expires_at": now.Add(ttl),
				})
			if res.Error != nil {
				return res.Error
			}
			sessionID = existing.SessionID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		session := db.Session{
			ID:           uuid.NewString(),
			ParticipantA: identityID,
			Status:       db.SessionWaiting,
		}
		if err := tx.Create(&session).Error; err != nil {
			return err
		}

		entry := db.WaitingEntry{
			IdentityID: identityID,
			SessionID:  session.ID,
			Interests:  interests,
			State:      db.EntryWaiting,
			ExpiresAt:  now.Add(ttl),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		sessionID = session.ID
		return nil
	})
	return sessionID, err
}

// ExpireForSession expires the waiting entry backing a session, if any is
// still waiting. Called on session close so a closed solo session cannot be
// claimed afterwards.
func (r *PoolRepository) ExpireForSession(ctx context.Context, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&db.WaitingEntry{}).
		Where("session_id = ? AND state = ?", sessionID, db.EntryWaiting).
		Update("state", db.EntryExpired)
	return res.RowsAffected, res.Error
}

// DeleteOrphans removes waiting entries whose identity no longer exists.
func (r *PoolRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM identities i WHERE i.id = waiting_entries.identity_id)").
		Delete(&db.WaitingEntry{})
	return res.RowsAffected, res.Error
}
