package dedupcache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// warmSetName is the Redis set that Warmer.Publish writes recently-seen
// url_hash values into and Warmer.Prewarm reads from, so a freshly
// started process's in-process cache can pre-warm instead of starting
// cold. Neither binary in this repository calls Publish; cmd/worker
// only calls Prewarm. This is strictly an
// optimization: Check/Set/SetMany never depend on Redis being
// reachable, preserving the "per-process cache, B is the source of
// truth" invariant from §4.C even when Redis is absent.
const warmSetName = "jobfinder:dedup:recent"

// Warmer publishes and pre-loads recently-seen hashes via Redis.
type Warmer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewWarmer constructs a Warmer against the given Redis URL. A nil
// Warmer is valid and every method becomes a no-op, so callers can
// unconditionally wire it even when REDIS_URL is unset.
func NewWarmer(redisURL string, ttl time.Duration) (*Warmer, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Warmer{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Publish records hash as recently seen so other processes can
// pre-warm. Errors are swallowed — this never blocks the pipeline.
func (w *Warmer) Publish(ctx context.Context, hash string) {
	if w == nil || w.client == nil {
		return
	}
	member := redis.Z{Score: float64(time.Now().Unix()), Member: hash}
	_ = w.client.ZAdd(ctx, warmSetName, member).Err()
	cutoff := float64(time.Now().Add(-w.ttl).Unix())
	_ = w.client.ZRemRangeByScore(ctx, warmSetName, "-inf", formatFloat(cutoff)).Err()
}

// Prewarm loads recently-seen hashes from Redis into cache. It is
// called once at worker startup; a failure to reach Redis is logged
// by the caller and otherwise ignored.
func (w *Warmer) Prewarm(ctx context.Context, cache *Cache) error {
	if w == nil || w.client == nil || cache == nil {
		return nil
	}
	cutoff := float64(time.Now().Add(-w.ttl).Unix())
	members, err := w.client.ZRangeByScore(ctx, warmSetName, &redis.ZRangeBy{
		Min: formatFloat(cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return err
	}
	for _, hash := range members {
		cache.Set(hash, true)
	}
	return nil
}

// Close releases the underlying Redis client, if any.
func (w *Warmer) Close() error {
	if w == nil || w.client == nil {
		return nil
	}
	return w.client.Close()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 0, 64)
}
