package scoring

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/driftchat/driftchat/internal/cache"
)

// CachedScorer wraps Score with the Redis pair cache. The cache is an
// optimization only: any Redis failure degrades to a direct computation, so
// a cold or unreachable cache yields the same results as a warm one.
type CachedScorer struct {
	cache  *cache.RedisCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedScorer(c *cache.RedisCache, ttl time.Duration, logger *slog.Logger) *CachedScorer {
	return &CachedScorer{cache: c, ttl: ttl, logger: logger}
}

// Pair returns the compatibility score between two identities, reading the
// symmetric pair cache first and computing+storing on a miss.
func (s *CachedScorer) Pair(ctx context.Context, idA, idB uint64, interestsA, interestsB []string) int {
	entry, err := s.cache.GetScore(ctx, idA, idB)
	if err == nil {
		return entry.Score
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("score cache read failed", "id_a", idA, "id_b", idB, "err", err)
	}

	score := Score(interestsA, interestsB)
	if err := s.cache.SetScore(ctx, idA, idB, score, s.ttl); err != nil {
		s.logger.Warn("score cache write failed", "id_a", idA, "id_b", idB, "err", err)
	}
	return score
}
