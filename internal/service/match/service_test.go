package match_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/driftchat/driftchat/internal/app"
	"github.com/driftchat/driftchat/internal/cache"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/db"
	apperr "github.com/driftchat/driftchat/internal/errors"
	"github.com/driftchat/driftchat/internal/repository"
	"github.com/driftchat/driftchat/internal/service/match"
)

//
// Test helpers
//

// setupService spins up an in-memory SQLite DB, applies migrations, starts a
// miniredis, and wires everything into a match Service instance.
//
// Each test gets its own isolated DB + Redis.
func setupService(t *testing.T) (*match.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()

	redisCache := cache.NewRedisCache(cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // discard logs in tests

	appCtx := app.New(gdb, redisCache, logger)
	return match.NewService(appCtx, cfg), gdb
}

func newIdentity(t *testing.T, gdb *gorm.DB, name string) db.Identity {
	t.Helper()
	identity := db.Identity{
		Token:      "tok-" + name,
		Active:     true,
		Interests:  "[]",
		LastSeenAt: time.Now().UTC(),
	}
	require.NoError(t, gdb.Create(&identity).Error)
	return identity
}

func waitingEntryCount(t *testing.T, gdb *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, gdb.Model(&db.WaitingEntry{}).
		Where("state = ?", db.EntryWaiting).Count(&count).Error)
	return count
}

//
// Tests
//

// TestRequestMatch_CreatedThenJoined is the canonical two-request flow:
// X enqueues, Y joins X's session with one exact "gaming" interest match.
func TestRequestMatch_CreatedThenJoined(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	x := newIdentity(t, gdb, "x")
	y := newIdentity(t, gdb, "y")

	resX, err := svc.RequestMatch(ctx, x.ID, []string{"gaming", "music"})
	require.NoError(t, err)
	assert.Equal(t, match.ActionCreated, resX.Action)
	require.NotEmpty(t, resX.SessionID)

	resY, err := svc.RequestMatch(ctx, y.ID, []string{"gaming", "travel"})
	require.NoError(t, err)
	assert.Equal(t, match.ActionJoined, resY.Action)
	assert.Equal(t, resX.SessionID, resY.SessionID)
	assert.Equal(t, 10, resY.Score)

	var session db.Session
	require.NoError(t, gdb.First(&session, "id = ?", resX.SessionID).Error)
	assert.Equal(t, db.SessionActive, session.Status)
	assert.Equal(t, x.ID, session.ParticipantA)
	require.NotNil(t, session.ParticipantB)
	assert.Equal(t, y.ID, *session.ParticipantB)

	// system messages: connection notice + shared-interest notice
	var messages []db.Message
	require.NoError(t, gdb.Where("session_id = ?", session.ID).Order("id").Find(&messages).Error)
	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Body, "10")
}

func TestRequestMatch_PrefersBestScoreOverAge(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	older := newIdentity(t, gdb, "older")
	younger := newIdentity(t, gdb, "younger")
	requester := newIdentity(t, gdb, "req")

	// seed two coexisting waiting entries through the repository; a second
	// RequestMatch call would have claimed the first waiter instead
	pool := repository.NewPoolRepository(gdb)
	olderSession, err := pool.EnqueueWithSession(ctx, older.ID, db.EncodeInterests([]string{"chess"}), 5*time.Minute)
	require.NoError(t, err)
	youngerSession, err := pool.EnqueueWithSession(ctx, younger.ID, db.EncodeInterests([]string{"gaming"}), 5*time.Minute)
	require.NoError(t, err)

	// older waits longer but shares nothing with the requester
	res, err := svc.RequestMatch(ctx, requester.ID, []string{"gaming"})
	require.NoError(t, err)
	assert.Equal(t, match.ActionJoined, res.Action)
	assert.Equal(t, youngerSession, res.SessionID)
	assert.NotEqual(t, olderSession, res.SessionID)
}

func TestRequestMatch_FIFOWhenNoInterestOverlap(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	first := newIdentity(t, gdb, "first")
	second := newIdentity(t, gdb, "second")
	requester := newIdentity(t, gdb, "req")

	pool := repository.NewPoolRepository(gdb)
	firstSession, err := pool.EnqueueWithSession(ctx, first.ID, db.EncodeInterests([]string{"chess"}), 5*time.Minute)
	require.NoError(t, err)
	_, err = pool.EnqueueWithSession(ctx, second.ID, db.EncodeInterests([]string{"wine"}), 5*time.Minute)
	require.NoError(t, err)

	// no shared interests anywhere: oldest entry wins
	res, err := svc.RequestMatch(ctx, requester.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, match.ActionJoined, res.Action)
	assert.Equal(t, firstSession, res.SessionID)
	assert.Equal(t, 0, res.Score)
}

func TestRequestMatch_BannedIdentity(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	z := newIdentity(t, gdb, "z")
	require.NoError(t, gdb.Create(&db.Ban{IdentityID: z.ID, Reason: "abuse"}).Error) // permanent

	before := waitingEntryCount(t, gdb)

	_, err := svc.RequestMatch(ctx, z.ID, []string{"gaming"})
	assert.ErrorIs(t, err, apperr.ErrBanned)

	// pool unchanged: nothing created, nothing claimed
	assert.Equal(t, before, waitingEntryCount(t, gdb))
}

func TestRequestMatch_ExpiredBanNoLongerBlocks(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	z := newIdentity(t, gdb, "z")
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, gdb.Create(&db.Ban{IdentityID: z.ID, ExpiresAt: &past}).Error)

	res, err := svc.RequestMatch(ctx, z.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, match.ActionCreated, res.Action)
}

func TestRequestMatch_SkipsBannedCandidates(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	banned := newIdentity(t, gdb, "banned")
	requester := newIdentity(t, gdb, "req")

	_, err := svc.RequestMatch(ctx, banned.ID, []string{"gaming"})
	require.NoError(t, err)

	// ban lands after the candidate enqueued
	require.NoError(t, gdb.Create(&db.Ban{IdentityID: banned.ID}).Error)

	res, err := svc.RequestMatch(ctx, requester.ID, []string{"gaming"})
	require.NoError(t, err)
	assert.Equal(t, match.ActionCreated, res.Action)
}

// TestRequestMatch_StaleEntryIneligible: an entry past its TTL must never be
// claimed, even before any sweeper pass has run.
func TestRequestMatch_StaleEntryIneligible(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	w := newIdentity(t, gdb, "w")
	requester := newIdentity(t, gdb, "req")

	resW, err := svc.RequestMatch(ctx, w.ID, []string{"gaming"})
	require.NoError(t, err)

	// simulate an entry created 6 minutes ago with a 5 minute TTL
	require.NoError(t, gdb.Model(&db.WaitingEntry{}).
		Where("identity_id = ?", w.ID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	res, err := svc.RequestMatch(ctx, requester.ID, []string{"gaming"})
	require.NoError(t, err)
	assert.Equal(t, match.ActionCreated, res.Action)
	assert.NotEqual(t, resW.SessionID, res.SessionID)

	// the lazy expiry pass flipped the stale entry
	var entry db.WaitingEntry
	require.NoError(t, gdb.First(&entry, "identity_id = ?", w.ID).Error)
	assert.Equal(t, db.EntryExpired, entry.State)
}

func TestRequestMatch_UnknownIdentity(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	_, err := svc.RequestMatch(ctx, 9999, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRequestMatch_RefreshesStoredInterests(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	x := newIdentity(t, gdb, "x")
	_, err := svc.RequestMatch(ctx, x.ID, []string{"Gaming", "gaming", "  music "})
	require.NoError(t, err)

	var ident db.Identity
	require.NoError(t, gdb.First(&ident, x.ID).Error)
	assert.Equal(t, []string{"gaming", "music"}, db.DecodeInterests(ident.Interests))
}

// TestRequestMatch_ConcurrentSingleCandidate: with one waiting candidate and
// several simultaneous requesters, exactly one joins that session; everyone
// else falls back to a fresh waiting entry.
func TestRequestMatch_ConcurrentSingleCandidate(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	waiter := newIdentity(t, gdb, "waiter")
	resW, err := svc.RequestMatch(ctx, waiter.ID, []string{"gaming"})
	require.NoError(t, err)

	const callers = 6
	requesters := make([]db.Identity, callers)
	for i := range requesters {
		requesters[i] = newIdentity(t, gdb, fmt.Sprintf("req%d", i))
	}

	results := make([]match.Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = svc.RequestMatch(ctx, requesters[n].ID, []string{"gaming"})
		}(i)
	}
	wg.Wait()

	joinedWaiter := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if results[i].Action == match.ActionJoined && results[i].SessionID == resW.SessionID {
			joinedWaiter++
		}
	}
	assert.Equal(t, 1, joinedWaiter, "exactly one caller may claim the single candidate")
}

// TestRequestMatch_JoinRetiresOwnWaitingEntry: a requester who was already
// waiting and then joins someone else leaves nothing claimable behind. A
// later caller must open a fresh session rather than pair against the
// joiner's abandoned solo session.
func TestRequestMatch_JoinRetiresOwnWaitingEntry(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	a := newIdentity(t, gdb, "a")
	b := newIdentity(t, gdb, "b")
	c := newIdentity(t, gdb, "c")

	// both a and b are waiting before a's next request runs
	pool := repository.NewPoolRepository(gdb)
	soloA, err := pool.EnqueueWithSession(ctx, a.ID, db.EncodeInterests([]string{"gaming"}), 5*time.Minute)
	require.NoError(t, err)
	soloB, err := pool.EnqueueWithSession(ctx, b.ID, db.EncodeInterests([]string{"gaming"}), 5*time.Minute)
	require.NoError(t, err)

	resA, err := svc.RequestMatch(ctx, a.ID, []string{"gaming"})
	require.NoError(t, err)
	assert.Equal(t, match.ActionJoined, resA.Action)
	assert.Equal(t, soloB, resA.SessionID)

	// a's own entry is retired and its solo session ended
	var ownEntry db.WaitingEntry
	require.NoError(t, gdb.First(&ownEntry, "identity_id = ?", a.ID).Error)
	assert.Equal(t, db.EntryExpired, ownEntry.State)
	var soloSession db.Session
	require.NoError(t, gdb.First(&soloSession, "id = ?", soloA).Error)
	assert.Equal(t, db.SessionEnded, soloSession.Status)

	// c finds nothing to claim
	resC, err := svc.RequestMatch(ctx, c.ID, []string{"gaming"})
	require.NoError(t, err)
	assert.Equal(t, match.ActionCreated, resC.Action)
	assert.NotEqual(t, soloA, resC.SessionID)

	// a participates in exactly one active session
	var activeA int64
	require.NoError(t, gdb.Model(&db.Session{}).
		Where("status = ? AND (participant_a = ? OR participant_b = ?)", db.SessionActive, a.ID, a.ID).
		Count(&activeA).Error)
	assert.Equal(t, int64(1), activeA)
}

func TestCloseSession_IdempotentAndDeactivates(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	x := newIdentity(t, gdb, "x")
	y := newIdentity(t, gdb, "y")

	resX, err := svc.RequestMatch(ctx, x.ID, []string{"gaming"})
	require.NoError(t, err)
	resY, err := svc.RequestMatch(ctx, y.ID, []string{"gaming"})
	require.NoError(t, err)
	require.Equal(t, resX.SessionID, resY.SessionID)

	require.NoError(t, svc.CloseSession(ctx, resX.SessionID, x.ID))

	var session db.Session
	require.NoError(t, gdb.First(&session, "id = ?", resX.SessionID).Error)
	assert.Equal(t, db.SessionEnded, session.Status)
	assert.NotNil(t, session.EndedAt)

	// both participants inactive, so neither is immediately re-paired
	for _, id := range []uint64{x.ID, y.ID} {
		var ident db.Identity
		require.NoError(t, gdb.First(&ident, id).Error)
		assert.False(t, ident.Active)
	}

	// second close is a no-op returning success
	require.NoError(t, svc.CloseSession(ctx, resX.SessionID, y.ID))
}

func TestCloseSession_SoloSessionNotClaimableAfterClose(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	x := newIdentity(t, gdb, "x")
	requester := newIdentity(t, gdb, "req")

	resX, err := svc.RequestMatch(ctx, x.ID, []string{"gaming"})
	require.NoError(t, err)
	require.NoError(t, svc.CloseSession(ctx, resX.SessionID, x.ID))

	res, err := svc.RequestMatch(ctx, requester.ID, []string{"gaming"})
	require.NoError(t, err)
	assert.Equal(t, match.ActionCreated, res.Action)
	assert.NotEqual(t, resX.SessionID, res.SessionID)
}

func TestCloseSession_NonParticipant(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	x := newIdentity(t, gdb, "x")
	outsider := newIdentity(t, gdb, "outsider")

	resX, err := svc.RequestMatch(ctx, x.ID, nil)
	require.NoError(t, err)

	err = svc.CloseSession(ctx, resX.SessionID, outsider.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCloseSession_UnknownSession(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	x := newIdentity(t, gdb, "x")
	err := svc.CloseSession(ctx, "no-such-session", x.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRequestMatch_ReenqueueRefreshesExistingEntry(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	x := newIdentity(t, gdb, "x")

	res1, err := svc.RequestMatch(ctx, x.ID, []string{"gaming"})
	require.NoError(t, err)
	res2, err := svc.RequestMatch(ctx, x.ID, []string{"music"})
	require.NoError(t, err)

	// same identity re-requesting keeps a single waiting entry and session
	assert.Equal(t, res1.SessionID, res2.SessionID)
	assert.Equal(t, int64(1), waitingEntryCount(t, gdb))

	repo := repository.NewPoolRepository(gdb)
	entries, err := repo.ListCandidates(ctx, 0, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"music"}, db.DecodeInterests(entries[0].Interests))
}
