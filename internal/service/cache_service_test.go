package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingCacheRepo struct{}

func (failingCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	return errors.New("connection refused")
}

func (failingCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (failingCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	return errors.New("connection refused")
}

type cachedPayload struct {
	Value int `json:"value"`
}

func TestCacheServiceHitAndMissMetrics(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewCacheService(newMemoryCacheRepo(), metrics, time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	var dest cachedPayload
	hit, err := svc.Get(ctx, "enrollment-requests:k", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "enrollment-requests:k", cachedPayload{Value: 3}, 0))
	hit, err = svc.Get(ctx, "enrollment-requests:k", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 3, dest.Value)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
	assert.InDelta(t, 0.5, snapshot.CacheHitRatio, 0.0001)
}

func TestCacheServiceDisabled(t *testing.T) {
	var nilService *CacheService
	assert.False(t, nilService.Enabled())
	assert.NoError(t, nilService.Invalidate(context.Background(), "*"))

	svc := NewCacheService(newMemoryCacheRepo(), nil, 0, nil, false)
	assert.False(t, svc.Enabled())
	require.NoError(t, svc.Set(context.Background(), "k", 1, 0))
	hit, err := svc.Get(context.Background(), "k", new(int))
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCachedLoadFallsBackWhenCacheFails(t *testing.T) {
	svc := NewCacheService(failingCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	calls := 0
	load := func(context.Context) (*cachedPayload, error) {
		calls++
		return &cachedPayload{Value: 7}, nil
	}

	for i := 0; i < 2; i++ {
		got, hit, err := cachedLoad(context.Background(), svc, "k", 0, load)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, 7, got.Value)
	}
	assert.Equal(t, 2, calls)
}

func TestCachedLoadPropagatesLoadError(t *testing.T) {
	svc := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, zap.NewNop(), true)
	_, _, err := cachedLoad(context.Background(), svc, "k", 0, func(context.Context) (int, error) {
		return 0, errors.New("db down")
	})
	assert.Error(t, err)
}
