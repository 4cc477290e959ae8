package bedrock

import (
	"context"
	"strings"
)

// GeographicPrefix implements the region-to-prefix table.
func GeographicPrefix(region string) string {
	switch {
	case strings.HasPrefix(region, "eu-"):
		return "eu"
	case strings.HasPrefix(region, "ca-"):
		return "ca"
	case region == "ap-northeast-1" || region == "ap-northeast-3":
		return "jp"
	case region == "ap-southeast-2" || region == "ap-southeast-4":
		return "au"
	case strings.HasPrefix(region, "ap-"), strings.HasPrefix(region, "me-"):
		return "apac"
	default:
		return "us"
	}
}

// ResolveCrossRegionModelID applies the account's cross_region_mode to a
// resolved (already fuzzy-matched) Bedrock model ID. Unlike Normalize (used
// only for cache lookups), this keeps the provider prefix and version suffix
// intact — only an existing region/scope prefix is replaced — since the
// result is the literal model ID handed to the Converse SDK call. If the
// profile cache reports the requested mode unsupported, it falls back in the
// fixed order global -> geographic -> regional, picking the first supported
// mode; if none are supported it falls back to regional anyway.
func ResolveCrossRegionModelID(ctx context.Context, profiles *ProfileCache, region, mode, modelID string) string {
	base := regionPrefixRe.ReplaceAllString(strings.ToLower(modelID), "")
	geoPrefix := GeographicPrefix(region)

	requested := normalizeMode(mode)
	if profiles.Supports(ctx, region, modelID, requested) {
		return applyPrefix(requested, geoPrefix, base)
	}

	for _, fallback := range []string{"global", "geographic", "regional"} {
		if profiles.Supports(ctx, region, modelID, fallback) {
			return applyPrefix(fallback, geoPrefix, base)
		}
	}
	return applyPrefix("regional", geoPrefix, base)
}

func normalizeMode(mode string) string {
	switch mode {
	case "global", "regional":
		return mode
	default:
		return "geographic"
	}
}

func applyPrefix(scope, geoPrefix, base string) string {
	switch scope {
	case "global":
		return "global." + base
	case "geographic":
		return geoPrefix + "." + base
	default:
		return base
	}
}
