package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatsSource struct {
	calls int
	st    Stats
	err   error
}

func (f *fakeStatsSource) Stats(ctx context.Context, now time.Time, horizon time.Duration, filter Filter) (Stats, error) {
	f.calls++
	return f.st, f.err
}

// fakeStatsRedis keeps hashes in a map, mirroring the handful of commands
// StatsCache issues.
type fakeStatsRedis struct {
	data   map[string]map[string][]byte
	setErr error
}

func newFakeStatsRedis() *fakeStatsRedis {
	return &fakeStatsRedis{data: make(map[string]map[string][]byte)}
}

func (f *fakeStatsRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	if fields, ok := f.data[key]; ok {
		if body, ok := fields[field]; ok {
			return redis.NewStringResult(string(body), nil)
		}
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeStatsRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	if f.setErr != nil {
		return redis.NewIntResult(0, f.setErr)
	}
	if f.data[key] == nil {
		f.data[key] = make(map[string][]byte)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.data[key][values[i].(string)] = values[i+1].([]byte)
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakeStatsRedis) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (f *fakeStatsRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestStatsCache_NilClientPassesThrough(t *testing.T) {
	source := &fakeStatsSource{st: Stats{Total: 3, Pending: 2}}
	cache := NewStatsCache(source, nil, time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		st, err := cache.Stats(ctx, time.Now(), DefaultDueSoonHorizon, Filter{})
		require.NoError(t, err)
		assert.Equal(t, source.st, st)
	}
	assert.Equal(t, 2, source.calls, "nil client must never cache")
}

func TestStatsCache_ReadThrough(t *testing.T) {
	source := &fakeStatsSource{st: Stats{Total: 5, Pending: 1, DueSoon: 1}}
	rdb := newFakeStatsRedis()
	cache := &StatsCache{source: source, rdb: rdb, ttl: time.Minute}

	ctx := context.Background()
	now := time.Now()

	first, err := cache.Stats(ctx, now, DefaultDueSoonHorizon, Filter{ApproverID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, source.st, first)
	assert.Equal(t, 1, source.calls)

	// The source drifting must not be visible while the entry lives.
	source.st = Stats{Total: 99}
	second, err := cache.Stats(ctx, now, DefaultDueSoonHorizon, Filter{ApproverID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.calls, "second read must come from the cache")
}

func TestStatsCache_HorizonsCachedSeparately(t *testing.T) {
	source := &fakeStatsSource{st: Stats{Total: 4, DueSoon: 3}}
	rdb := newFakeStatsRedis()
	cache := &StatsCache{source: source, rdb: rdb, ttl: time.Minute}

	ctx := context.Background()
	now := time.Now()

	wide, err := cache.Stats(ctx, now, 72*time.Hour, Filter{ApproverID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), int64(wide.DueSoon))

	// A narrower window is a different answer and must not reuse the 72h
	// entry.
	source.st = Stats{Total: 4, DueSoon: 1}
	narrow, err := cache.Stats(ctx, now, 24*time.Hour, Filter{ApproverID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), int64(narrow.DueSoon))
	assert.Equal(t, 2, source.calls)

	// Both windows stay cached side by side.
	source.st = Stats{Total: 0}
	again, err := cache.Stats(ctx, now, 72*time.Hour, Filter{ApproverID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, wide, again)
	assert.Equal(t, 2, source.calls)
}

func TestStatsCache_ZeroHorizonSharesDefaultEntry(t *testing.T) {
	source := &fakeStatsSource{st: Stats{Total: 2}}
	rdb := newFakeStatsRedis()
	cache := &StatsCache{source: source, rdb: rdb, ttl: time.Minute}

	ctx := context.Background()
	now := time.Now()

	if _, err := cache.Stats(ctx, now, 0, Filter{}); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if _, err := cache.Stats(ctx, now, DefaultDueSoonHorizon, Filter{}); err != nil {
		t.Fatalf("stats: %v", err)
	}
	assert.Equal(t, 1, source.calls, "zero horizon normalizes to the default entry")
}

func TestStatsCache_InvalidateDropsAllHorizons(t *testing.T) {
	source := &fakeStatsSource{st: Stats{Total: 7}}
	rdb := newFakeStatsRedis()
	cache := &StatsCache{source: source, rdb: rdb, ttl: time.Minute}

	ctx := context.Background()
	now := time.Now()

	for _, horizon := range []time.Duration{24 * time.Hour, 72 * time.Hour} {
		if _, err := cache.Stats(ctx, now, horizon, Filter{ApproverID: "u1"}); err != nil {
			t.Fatalf("stats: %v", err)
		}
		if _, err := cache.Stats(ctx, now, horizon, Filter{}); err != nil {
			t.Fatalf("stats: %v", err)
		}
	}
	require.Equal(t, 4, source.calls)

	cache.Invalidate(ctx, "u1")

	if _, err := cache.Stats(ctx, now, 24*time.Hour, Filter{ApproverID: "u1"}); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if _, err := cache.Stats(ctx, now, 72*time.Hour, Filter{}); err != nil {
		t.Fatalf("stats: %v", err)
	}
	assert.Equal(t, 6, source.calls, "invalidate must drop every horizon for the user and the global entry")
}

func TestStatsCache_StoreFailureStillServes(t *testing.T) {
	source := &fakeStatsSource{st: Stats{Total: 1}}
	rdb := newFakeStatsRedis()
	rdb.setErr = errors.New("redis down")
	cache := &StatsCache{source: source, rdb: rdb, ttl: time.Minute}

	st, err := cache.Stats(context.Background(), time.Now(), DefaultDueSoonHorizon, Filter{})
	require.NoError(t, err)
	assert.Equal(t, source.st, st)
}
