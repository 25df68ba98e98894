package db

import (
	"encoding/json"
	"time"
)

// Waiting entry states. An entry is claimed exactly once, by exactly one
// matcher invocation; expiry only applies while still waiting.
const (
	EntryWaiting = "waiting"
	EntryClaimed = "claimed"
	EntryExpired = "expired"
)

// Session statuses.
const (
	SessionWaiting = "waiting"
	SessionActive  = "active"
	SessionEnded   = "ended"
)

// Message kinds.
const (
	MessageSystem = "system"
	MessageChat   = "chat"
)

// Identity is an anonymous participant. Created on first contact, refreshed
// on every heartbeat and match request, hard-deleted only by the sweeper
// after a long idle window.
type Identity struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Token      string `gorm:"uniqueIndex;size:64;not null"`
	SecretHash string `gorm:"size:255"`
	Interests  string `gorm:"size:1024"` // JSON-encoded []string
	Active     bool   `gorm:"default:true;index:idx_identity_active_seen,priority:1"`
	LastSeenAt time.Time `gorm:"index:idx_identity_active_seen,priority:2"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// WaitingEntry represents one identity currently seeking a partner.
//
// Interests is a snapshot taken at enqueue time, not a live reference, so a
// later interest change does not retroactively rescore the entry.
//
// Indexes:
//   - idx_entry_state_created(state, created_at): candidate scan ordered
//     oldest-first within the waiting state.
//   - identity_id index: one-waiting-entry-per-identity lookups and orphan
//     cleanup.
type WaitingEntry struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	IdentityID uint64 `gorm:"not null;index"`
	SessionID  string `gorm:"size:36;not null;index"`
	Interests  string `gorm:"size:1024"`
	State      string `gorm:"size:16;not null;default:waiting;index:idx_entry_state_created,priority:1"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_entry_state_created,priority:2"`
	ExpiresAt  time.Time `gorm:"index"`
}

// Session is a paired (or still-solo) conversation. ParticipantB is set
// exactly once, by the matcher invocation that claims the waiting entry.
type Session struct {
	ID           string  `gorm:"primaryKey;size:36"`
	ParticipantA uint64  `gorm:"not null;index"`
	ParticipantB *uint64 `gorm:"index"`
	Status       string  `gorm:"size:16;not null;default:waiting;index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// Message is a per-session message row. The matcher only ever writes system
// messages (connection notice, shared-interest notice); chat transport is
// external and purged along with its session.
type Message struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement"`
	SessionID string  `gorm:"size:36;not null;index"`
	SenderID  *uint64 // nil for system messages
	Kind      string  `gorm:"size:16;not null;default:chat"`
	Body      string  `gorm:"size:2048;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Ban is read-only to this core: moderation writes it, matching only asks
// "is this identity currently barred". Nil ExpiresAt means permanent.
type Ban struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	IdentityID uint64 `gorm:"not null;index"`
	Reason     string `gorm:"size:255"`
	ExpiresAt  *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// EncodeInterests serializes an interest list for storage.
func EncodeInterests(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeInterests parses a stored interest list. Malformed or empty input
// decodes to nil rather than an error; a bad snapshot just scores zero.
func DecodeInterests(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}
