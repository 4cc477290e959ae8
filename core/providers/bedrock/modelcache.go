package bedrock

import (
	"context"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

const (
	defaultModelCacheTTL = 6 * time.Hour
	maxCachedRegions     = 20
)

// ModelLister fetches the foundation-model catalog for a region; backed in
// production by Bedrock's ListFoundationModels, substitutable in tests.
type ModelLister interface {
	ListModels(ctx context.Context, region string) ([]schemas.BedrockModel, error)
}

// ModelCache is a per-region cache of BedrockModel with a wall-clock TTL,
// exponential-backoff retries on throttling/5xx/network errors, and eviction
// of the oldest region once more than maxCachedRegions are held.
type ModelCache struct {
	mu      sync.Mutex
	entries map[string]schemas.CacheEntry[[]schemas.BedrockModel]
	order   []string // region insertion order, oldest first, for eviction
	ttl     time.Duration
	lister  ModelLister
	logger  schemas.Logger
}

func NewModelCache(lister ModelLister, logger schemas.Logger) *ModelCache {
	ttl := defaultModelCacheTTL
	if v := os.Getenv("BEDROCK_MODEL_CACHE_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}
	return &ModelCache{
		entries: make(map[string]schemas.CacheEntry[[]schemas.BedrockModel]),
		ttl:     ttl,
		lister:  lister,
		logger:  logger,
	}
}

// Get returns the cached catalog for region, refreshing it (with retry) if
// stale or absent.
func (c *ModelCache) Get(ctx context.Context, region string) ([]schemas.BedrockModel, error) {
	c.mu.Lock()
	entry, ok := c.entries[region]
	c.mu.Unlock()
	if ok && !entry.Expired(c.ttl) {
		return entry.Value, nil
	}

	models, err := fetchWithRetry(ctx, func(ctx context.Context) ([]schemas.BedrockModel, error) {
		return c.lister.ListModels(ctx, region)
	}, c.logger)
	if err != nil {
		if ok {
			// stale-but-present beats a hard failure; the next call retries.
			return entry.Value, nil
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, existed := c.entries[region]; !existed {
		c.order = append(c.order, region)
		if len(c.order) > maxCachedRegions {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[region] = schemas.CacheEntry[[]schemas.BedrockModel]{Value: models, FetchedAt: now()}
	return models, nil
}

// ResolveModel applies account.model_mappings["custom"] first (it wins
// outright), otherwise fuzzy-matches against the region's catalog, accepting
// scores >= MatchThreshold, otherwise passes clientModel through unchanged.
func (c *ModelCache) ResolveModel(ctx context.Context, region, clientModel string, accountMappings map[string]string) string {
	if custom, ok := accountMappings["custom"]; ok && custom != "" {
		return custom
	}

	models, err := c.Get(ctx, region)
	if err != nil || len(models) == 0 {
		return clientModel
	}

	best := ""
	bestScore := 0.0
	for _, m := range models {
		score := FuzzyMatchScore(clientModel, m.ModelID)
		if score > bestScore {
			bestScore = score
			best = m.ModelID
		}
	}
	if bestScore >= MatchThreshold {
		return best
	}
	return clientModel
}

// fetchWithRetry implements the 1s->10s, x2, 3-attempt exponential backoff
// shared by both the model and inference-profile caches.
func fetchWithRetry[T any](ctx context.Context, fn func(context.Context) (T, error), logger schemas.Logger) (T, error) {
	var zero T
	delay := time.Second
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if logger != nil {
			logger.Warn("bedrock catalog fetch failed, retrying", schemas.F("attempt", attempt+1), schemas.F("error", err.Error()))
		}
		if attempt == 2 {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(delay / 4)))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
	}
	return zero, lastErr
}

// now is a seam so cache expiry is deterministic to test; production uses
// time.Now.
var now = time.Now
