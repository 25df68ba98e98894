package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/driftchat/driftchat/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by GetScore when no cached entry exists for the pair.
var ErrMiss = errors.New("cache miss")

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.Client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.Client.Del(ctx, keys...).Err()
}

// ScoreEntry is the cached compatibility score for an identity pair.
type ScoreEntry struct {
	Score      int       `json:"score"`
	ComputedAt time.Time `json:"computed_at"`
}

const scoreKeyPrefix = "score:"

// KeyForScore generates the cache key for an identity pair. The key is
// symmetric: (a,b) and (b,a) map to the same entry.
func (c *RedisCache) KeyForScore(a, b uint64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d:%d", scoreKeyPrefix, a, b)
}

// GetScore looks up the cached score for a pair. Returns ErrMiss when absent
// or unparseable; callers recompute on any miss.
func (c *RedisCache) GetScore(ctx context.Context, a, b uint64) (ScoreEntry, error) {
	val, err := c.Client.Get(ctx, c.KeyForScore(a, b)).Result()
	if errors.Is(err, redis.Nil) {
		return ScoreEntry{}, ErrMiss
	} else if err != nil {
		return ScoreEntry{}, err
	}

	var entry ScoreEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return ScoreEntry{}, ErrMiss
	}
	return entry, nil
}

// SetScore stores a computed score for a pair with the given TTL.
func (c *RedisCache) SetScore(ctx context.Context, a, b uint64, score int, ttl time.Duration) error {
	entry := ScoreEntry{Score: score, ComputedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, c.KeyForScore(a, b), data, ttl).Err()
}

// ScanScoreKeys walks all score cache keys, invoking fn with the two
// identity ids of each key. Used by the sweeper to evict entries that
// reference purged identities; TTL expiry is handled by Redis itself.
func (c *RedisCache) ScanScoreKeys(ctx context.Context, fn func(key string, a, b uint64)) error {
	iter := c.Client.Scan(ctx, 0, scoreKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		var a, b uint64
		if _, err := fmt.Sscanf(key, scoreKeyPrefix+"%d:%d", &a, &b); err != nil {
			continue
		}
		fn(key, a, b)
	}
	return iter.Err()
}
