// Package sweeper runs the periodic maintenance pass: deactivating idle
// identities, expiring overdue waiting entries, ending abandoned sessions,
// evicting orphaned score cache keys, and purging old records. Every step
// is idempotent, races safely with active matching, and failures in one
// step never abort the rest of the pass.
package sweeper

import (
	"context"
	"time"

	"github.com/driftchat/driftchat/internal/app"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/repository"
)

// Summary holds per-step counts of one maintenance pass. Returned verbatim
// by the on-demand cleanup endpoint.
type Summary struct {
	IdentitiesDeactivated int64 `json:"identities_deactivated"`
	EntriesExpired        int64 `json:"entries_expired"`
	SessionsEnded         int64 `json:"sessions_ended"`
	CacheEvicted          int64 `json:"cache_evicted"`
	IdentitiesPurged      int64 `json:"identities_purged"`
	SessionsPurged        int64 `json:"sessions_purged"`
	OrphansDeleted        int64 `json:"orphans_deleted"`
}

type Sweeper struct {
	appCtx     *app.AppContext
	cfg        *config.Config
	identities *repository.IdentityRepository
	pool       *repository.PoolRepository
	sessions   *repository.SessionRepository
}

func New(appCtx *app.AppContext, cfg *config.Config) *Sweeper {
	return &Sweeper{
		appCtx:     appCtx,
		cfg:        cfg,
		identities: repository.NewIdentityRepository(appCtx.DB),
		pool:       repository.NewPoolRepository(appCtx.DB),
		sessions:   repository.NewSessionRepository(appCtx.DB),
	}
}

// Start runs maintenance passes on the configured interval until the
// context is canceled. Independent of request handling; the matcher never
// waits for it.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Match.SweepInterval)
	defer ticker.Stop()

	s.appCtx.Logger.Info("sweeper started", "interval", s.cfg.Match.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			s.appCtx.Logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Run(ctx)
		}
	}
}

// Run executes one maintenance pass and returns its summary.
func (s *Sweeper) Run(ctx context.Context) Summary {
	log := s.appCtx.Logger
	now := time.Now().UTC()
	var sum Summary
	var err error

	sum.IdentitiesDeactivated, err = s.identities.DeactivateIdle(ctx, now.Add(-s.cfg.Match.InactiveAfter))
	if err != nil {
		log.Error("sweep: deactivate idle identities failed", "err", err)
	}

	sum.EntriesExpired, err = s.pool.ExpireOverdue(ctx, now)
	if err != nil {
		log.Error("sweep: expire waiting entries failed", "err", err)
	}

	sum.SessionsEnded, err = s.sessions.EndAbandoned(ctx)
	if err != nil {
		log.Error("sweep: end abandoned sessions failed", "err", err)
	}

	sum.CacheEvicted, err = s.evictOrphanedScores(ctx)
	if err != nil {
		log.Error("sweep: score cache eviction failed", "err", err)
	}

	sum.IdentitiesPurged, err = s.identities.PurgeIdle(ctx, now.Add(-s.cfg.Match.PurgeIDAfter))
	if err != nil {
		log.Error("sweep: purge idle identities failed", "err", err)
	}

	sum.SessionsPurged, err = s.sessions.PurgeEnded(ctx, now.Add(-s.cfg.Match.Retention))
	if err != nil {
		log.Error("sweep: purge ended sessions failed", "err", err)
	}

	sum.OrphansDeleted, err = s.pool.DeleteOrphans(ctx)
	if err != nil {
		log.Error("sweep: delete orphaned entries failed", "err", err)
	}

	log.Debug("sweep pass complete",
		"identities_deactivated", sum.IdentitiesDeactivated,
		"entries_expired", sum.EntriesExpired,
		"sessions_ended", sum.SessionsEnded,
		"cache_evicted", sum.CacheEvicted,
		"identities_purged", sum.IdentitiesPurged,
		"sessions_purged", sum.SessionsPurged,
		"orphans_deleted", sum.OrphansDeleted,
	)
	return sum
}

// evictOrphanedScores deletes score cache keys that reference identities
// which no longer exist. Redis TTLs handle plain expiry on their own.
func (s *Sweeper) evictOrphanedScores(ctx context.Context) (int64, error) {
	type pairKey struct {
		key  string
		a, b uint64
	}
	var pairs []pairKey
	idSet := make(map[uint64]bool)

	err := s.appCtx.RedisCache.ScanScoreKeys(ctx, func(key string, a, b uint64) {
		pairs = append(pairs, pairKey{key: key, a: a, b: b})
		idSet[a] = true
		idSet[b] = true
	})
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	ids := make([]uint64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	existing, err := s.identities.ExistingIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, p := range pairs {
		if !existing[p.a] || !existing[p.b] {
			stale = append(stale, p.key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.appCtx.RedisCache.Del(ctx, stale...); err != nil {
		return 0, err
	}
	return int64(len(stale)), nil
}
