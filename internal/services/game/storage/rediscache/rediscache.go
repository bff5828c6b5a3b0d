// Package rediscache caches population statistics in Redis in front of a
// slower StatsProvider.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/louisbranch/daruma/internal/platform/logging"
	"github.com/louisbranch/daruma/internal/services/game/domain/cooldown"
	"github.com/louisbranch/daruma/internal/services/game/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PopulationKey is where the cached population stats live.
const PopulationKey = "daruma:stats:population"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the subset of the Redis client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewClient connects to a single Redis node.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Stats is a read-through cache over a StatsProvider. Redis failures fall
// back to the source.
type Stats struct {
	client Client
	source storage.StatsProvider
	ttl    time.Duration
	logger *zap.Logger
}

// NewStats wraps source with a cache entry that expires after ttl.
func NewStats(client Client, source storage.StatsProvider, ttl time.Duration, logger *zap.Logger) *Stats {
	return &Stats{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logging.OrNop(logger).Named("rediscache"),
	}
}

// PopulationStats returns cached averages, loading them from the source on a
// miss.
func (s *Stats) PopulationStats(ctx context.Context) (cooldown.PopulationStats, error) {
	raw, err := s.client.Get(ctx, PopulationKey).Result()
	switch {
	case err == nil:
		var stats cooldown.PopulationStats
		decodeErr := json.UnmarshalFromString(raw, &stats)
		if decodeErr == nil {
			return stats, nil
		}
		s.logger.Warn("discard undecodable population stats", zap.Error(decodeErr))
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("read population stats cache", zap.Error(err))
	}

	stats, err := s.source.PopulationStats(ctx)
	if err != nil {
		return cooldown.PopulationStats{}, fmt.Errorf("load population stats: %w", err)
	}
	encoded, err := json.MarshalToString(stats)
	if err != nil {
		return stats, nil
	}
	if err := s.client.Set(ctx, PopulationKey, encoded, s.ttl).Err(); err != nil {
		s.logger.Warn("write population stats cache", zap.Error(err))
	}
	return stats, nil
}

// AssetStats reads through to the source.
func (s *Stats) AssetStats(ctx context.Context, assetID string) (cooldown.AssetStats, error) {
	return s.source.AssetStats(ctx, assetID)
}

// Invalidate drops the cached population stats.
func (s *Stats) Invalidate(ctx context.Context) error {
	if err := s.client.Del(ctx, PopulationKey).Err(); err != nil {
		return fmt.Errorf("invalidate population stats: %w", err)
	}
	return nil
}

var _ storage.StatsProvider = (*Stats)(nil)
