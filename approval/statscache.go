package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatsSource computes approval statistics on demand. *Scanner implements it.
type StatsSource interface {
	Stats(ctx context.Context, now time.Time, horizon time.Duration, filter Filter) (Stats, error)
}

// statsRedis is the slice of redis.Client the cache uses.
type statsRedis interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// StatsCache is an optional read-through cache in front of Scanner.Stats.
// A nil redis client disables caching entirely; correctness never depends on
// it, only read latency. Each approver's aggregates live in one hash keyed by
// the due-soon horizon, so counts computed under one window are never served
// for another, while Invalidate still drops every window of a user in a
// single DEL. Entries are bounded by a TTL because overdue/due-soon counts
// drift with the clock.
type StatsCache struct {
	source StatsSource
	rdb    statsRedis
	ttl    time.Duration
}

func NewStatsCache(source StatsSource, rdb *redis.Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := &StatsCache{source: source, ttl: ttl}
	if rdb != nil {
		c.rdb = rdb
	}
	return c
}

// Stats serves from redis when possible, otherwise computes and stores.
func (c *StatsCache) Stats(ctx context.Context, now time.Time, horizon time.Duration, filter Filter) (Stats, error) {
	if c.rdb == nil {
		return c.source.Stats(ctx, now, horizon, filter)
	}
	if horizon <= 0 {
		horizon = DefaultDueSoonHorizon
	}

	key := cacheKey(filter.ApproverID)
	field := horizonField(horizon)
	if cached, err := c.rdb.HGet(ctx, key, field).Bytes(); err == nil {
		var st Stats
		if err := json.Unmarshal(cached, &st); err == nil {
			return st, nil
		}
	}

	st, err := c.source.Stats(ctx, now, horizon, filter)
	if err != nil {
		return Stats{}, err
	}

	if body, err := json.Marshal(st); err == nil {
		if err := c.rdb.HSet(ctx, key, field, body).Err(); err != nil {
			slog.Warn("stats cache store failed", "key", key, "error", err)
		} else if err := c.rdb.Expire(ctx, key, c.ttl).Err(); err != nil {
			slog.Warn("stats cache expire failed", "key", key, "error", err)
		}
	}
	return st, nil
}

// Invalidate drops cached aggregates for the given users plus the global
// entry, across every horizon. Called by the decision service after each
// commit.
func (c *StatsCache) Invalidate(ctx context.Context, userIDs ...string) {
	if c.rdb == nil {
		return
	}
	keys := make([]string, 0, len(userIDs)+1)
	keys = append(keys, cacheKey(""))
	for _, id := range userIDs {
		keys = append(keys, cacheKey(id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("stats cache invalidate failed", "error", err)
	}
}

func cacheKey(approverID string) string {
	if approverID == "" {
		return "approval:stats:all"
	}
	return "approval:stats:" + approverID
}

func horizonField(horizon time.Duration) string {
	return fmt.Sprintf("h%dm", int(horizon/time.Minute))
}
