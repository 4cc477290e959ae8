package bedrock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// ProfileLister fetches Bedrock's inference-profile catalog for a region.
type ProfileLister interface {
	ListInferenceProfiles(ctx context.Context, region string) ([]RawProfile, error)
}

// RawProfile is the slice of ListInferenceProfiles this package consumes: an
// profile ID (carrying its scope as a prefix, e.g. "us.", "global.", or no
// prefix for regional) and the underlying model IDs it covers.
type RawProfile struct {
	ProfileID string
	ModelIDs  []string
}

// ProfileCache is a per-region, per-normalized-model aggregation of which
// cross-region modes (geographic prefixes, global, regional) have a profile.
// Same TTL/retry policy as the model cache; permission errors are treated
// optimistically ("assume supported") to avoid false negatives.
type ProfileCache struct {
	mu      sync.Mutex
	entries map[string]schemas.CacheEntry[map[string]schemas.InferenceProfileInfo]
	order   []string
	ttl     time.Duration
	lister  ProfileLister
	logger  schemas.Logger
}

func NewProfileCache(lister ProfileLister, logger schemas.Logger) *ProfileCache {
	return &ProfileCache{
		entries: make(map[string]schemas.CacheEntry[map[string]schemas.InferenceProfileInfo]),
		ttl:     defaultModelCacheTTL,
		lister:  lister,
		logger:  logger,
	}
}

func (c *ProfileCache) get(ctx context.Context, region string) (map[string]schemas.InferenceProfileInfo, error) {
	c.mu.Lock()
	entry, ok := c.entries[region]
	c.mu.Unlock()
	if ok && !entry.Expired(c.ttl) {
		return entry.Value, nil
	}

	profiles, err := fetchWithRetry(ctx, func(ctx context.Context) ([]RawProfile, error) {
		return c.lister.ListInferenceProfiles(ctx, region)
	}, c.logger)
	if err != nil {
		if isPermissionError(err) {
			if c.logger != nil {
				c.logger.Warn("bedrock inference-profile listing denied; assuming supported (grant bedrock:ListInferenceProfiles to enable accurate detection)",
					schemas.F("region", region), schemas.F("error", err.Error()))
			}
			return nil, errOptimistic
		}
		if ok {
			return entry.Value, nil
		}
		return nil, err
	}

	aggregated := aggregateProfiles(profiles)

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
	c.entries[region] = schemas.CacheEntry[map[string]schemas.InferenceProfileInfo]{Value: aggregated, FetchedAt: now()}
	return aggregated, nil
}

func aggregateProfiles(profiles []RawProfile) map[string]schemas.InferenceProfileInfo {
	out := make(map[string]schemas.InferenceProfileInfo)
	for _, p := range profiles {
		scope, prefix := classifyProfileID(p.ProfileID)
		for _, modelID := range p.ModelIDs {
			key := Normalize(modelID)
			info := out[key]
			info.ModelID = key
			switch scope {
			case "global":
				info.SupportsGlobal = true
			case "regional":
				info.SupportsRegional = true
			default:
				if !containsString(info.Geographic, prefix) {
					info.Geographic = append(info.Geographic, prefix)
				}
			}
			out[key] = info
		}
	}
	return out
}

func classifyProfileID(profileID string) (scope, prefix string) {
	switch {
	case strings.HasPrefix(profileID, "global."):
		return "global", "global"
	case strings.Contains(profileID, "."):
		idx := strings.IndexByte(profileID, '.')
		return "geographic", profileID[:idx]
	default:
		return "regional", ""
	}
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Supports reports whether modelID (un-normalized) has a profile for the
// requested scope in region. On a permission-denied listing, this optimistically
// returns true for every scope.
func (c *ProfileCache) Supports(ctx context.Context, region, modelID, scope string) bool {
	aggregated, err := c.get(ctx, region)
	if err == errOptimistic {
		return true
	}
	if err != nil {
		return true // fail open: an unreachable catalog should not block a request
	}
	info, ok := aggregated[Normalize(modelID)]
	if !ok {
		return false
	}
	switch scope {
	case "global":
		return info.SupportsGlobal
	case "regional":
		return info.SupportsRegional
	default: // geographic
		return len(info.Geographic) > 0
	}
}

var errOptimistic = &optimisticError{}

type optimisticError struct{}

func (*optimisticError) Error() string { return "bedrock: inference-profile listing denied, assuming supported" }

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "accessdenied") || strings.Contains(msg, "access denied") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "not authorized")
}
