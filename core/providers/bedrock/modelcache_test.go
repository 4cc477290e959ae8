package bedrock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

type fakeModelLister struct {
	models  []schemas.BedrockModel
	calls   int32
	failN   int32 // fail the first failN calls, then succeed
	fetches []string
}

func (f *fakeModelLister) ListModels(_ context.Context, region string) ([]schemas.BedrockModel, error) {
	n := atomic.AddInt32(&f.calls, 1)
	f.fetches = append(f.fetches, region)
	if n <= f.failN {
		return nil, errors.New("throttled")
	}
	return f.models, nil
}

func TestModelCacheGetCachesAcrossCalls(t *testing.T) {
	lister := &fakeModelLister{models: []schemas.BedrockModel{{ModelID: "anthropic.claude-opus-4-6-v1:0"}}}
	cache := NewModelCache(lister, nil)

	first, err := cache.Get(context.Background(), "us-east-1")
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), "us-east-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, lister.calls)
}

func TestModelCacheGetRefreshesDistinctRegionsIndependently(t *testing.T) {
	lister := &fakeModelLister{models: []schemas.BedrockModel{{ModelID: "anthropic.claude-opus-4-6-v1:0"}}}
	cache := NewModelCache(lister, nil)

	_, err := cache.Get(context.Background(), "us-east-1")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "eu-central-1")
	require.NoError(t, err)

	assert.EqualValues(t, 2, lister.calls)
	assert.ElementsMatch(t, []string{"us-east-1", "eu-central-1"}, lister.fetches)
}

func TestModelCacheResolveModelAccountMappingWinsOutright(t *testing.T) {
	lister := &fakeModelLister{models: []schemas.BedrockModel{{ModelID: "anthropic.claude-opus-4-6-v1:0"}}}
	cache := NewModelCache(lister, nil)

	got := cache.ResolveModel(context.Background(), "us-east-1", "claude-opus-4-6", map[string]string{"custom": "anthropic.claude-custom-v9:0"})
	assert.Equal(t, "anthropic.claude-custom-v9:0", got)
	assert.EqualValues(t, 0, lister.calls, "account mapping short-circuits the catalog fetch")
}

func TestModelCacheResolveModelFuzzyMatchesAgainstCatalog(t *testing.T) {
	lister := &fakeModelLister{models: []schemas.BedrockModel{
		{ModelID: "anthropic.claude-opus-4-6-v1:0"},
		{ModelID: "amazon.titan-text-express-v1"},
	}}
	cache := NewModelCache(lister, nil)

	got := cache.ResolveModel(context.Background(), "us-east-1", "claude-opus-4-6", nil)
	assert.Equal(t, "anthropic.claude-opus-4-6-v1:0", got)
}

func TestModelCacheResolveModelPassesThroughWhenNoMatchAboveThreshold(t *testing.T) {
	lister := &fakeModelLister{models: []schemas.BedrockModel{{ModelID: "amazon.titan-text-express-v1"}}}
	cache := NewModelCache(lister, nil)

	got := cache.ResolveModel(context.Background(), "us-east-1", "claude-opus-4-6", nil)
	assert.Equal(t, "claude-opus-4-6", got)
}

func TestModelCacheGetReturnsStaleValueOnRefreshFailureIfPresent(t *testing.T) {
	lister := &fakeModelLister{models: []schemas.BedrockModel{{ModelID: "anthropic.claude-opus-4-6-v1:0"}}}
	cache := NewModelCache(lister, nil)

	_, err := cache.Get(context.Background(), "us-east-1")
	require.NoError(t, err)

	cache.mu.Lock()
	entry := cache.entries["us-east-1"]
	entry.FetchedAt = entry.FetchedAt.Add(-cache.ttl * 2)
	cache.entries["us-east-1"] = entry
	cache.mu.Unlock()

	lister.models = nil
	lister.failN = 10 // force every subsequent real fetch to fail

	got, err := cache.Get(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Len(t, got, 1, "stale catalog is preferred over a hard failure")
}

func TestModelCacheGetReturnsErrorWhenNothingCachedAndFetchFails(t *testing.T) {
	lister := &fakeModelLister{failN: 10}
	cache := NewModelCache(lister, nil)

	_, err := cache.Get(context.Background(), "us-east-1")
	assert.Error(t, err)
}

func TestModelCacheEvictsOldestRegionPastCapacity(t *testing.T) {
	lister := &fakeModelLister{models: []schemas.BedrockModel{{ModelID: "anthropic.claude-opus-4-6-v1:0"}}}
	cache := NewModelCache(lister, nil)

	for i := 0; i < maxCachedRegions+1; i++ {
		_, err := cache.Get(context.Background(), "region-"+string(rune('a'+i)))
		require.NoError(t, err)
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Len(t, cache.entries, maxCachedRegions)
	assert.NotContains(t, cache.entries, "region-a", "oldest region should have been evicted")
}
