package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss reports that no verdict is cached for the key.
var ErrCacheMiss = errors.New("cache miss")

// VerdictCache stores raw verdicts; swapped for a map in tests.
type VerdictCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisCache is a VerdictCache on go-redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "identity:verdict:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

// Scorer produces a verdict for one candidate and profile pair.
type Scorer interface {
	ScoreCandidate(ctx context.Context, p Payload) (Verdict, error)
}

// CachedScorer memoizes verdicts of the wrapped scorer. Cache failures only
// cost a model call.
type CachedScorer struct {
	next   Scorer
	cache  VerdictCache
	ttl    time.Duration
	salt   string
	logger *zap.SugaredLogger
}

// NewCachedScorer wraps next; salt separates keys of different models.
func NewCachedScorer(next Scorer, cache VerdictCache, ttl time.Duration, salt string, logger *zap.SugaredLogger) *CachedScorer {
	return &CachedScorer{next: next, cache: cache, ttl: ttl, salt: salt, logger: logger}
}

func (c *CachedScorer) ScoreCandidate(ctx context.Context, p Payload) (Verdict, error) {
	key, err := cacheKey(c.salt, p)
	if err != nil {
		return c.next.ScoreCandidate(ctx, p)
	}
	if raw, err := c.cache.Get(ctx, key); err == nil {
		var v Verdict
		if jerr := json.Unmarshal([]byte(raw), &v); jerr == nil {
			return v, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		c.logger.Debugw("verdict cache read failed", "err", err)
	}

	v, err := c.next.ScoreCandidate(ctx, p)
	if err != nil {
		return v, err
	}
	if raw, jerr := json.Marshal(v); jerr == nil {
		if serr := c.cache.Set(ctx, key, string(raw), c.ttl); serr != nil {
			c.logger.Debugw("verdict cache write failed", "err", serr)
		}
	}
	return v, nil
}

func cacheKey(salt string, p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(salt+"\x00"), raw...))
	return hex.EncodeToString(sum[:]), nil
}
