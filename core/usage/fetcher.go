// Package usage implements a per-account periodic poller over each
// provider's usage endpoint, with a bounded-TTL cache the core reads
// through for representative utilization.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

const (
	defaultPollInterval = 90 * time.Second
	pollJitter          = 5 * time.Second
	cacheTTL            = 10 * time.Minute
	evictEveryNWrites   = 100
)

// TokenProvider returns a fresh credential for a poll; it may always return
// the same value for API-key-backed accounts.
type TokenProvider func(ctx context.Context) (string, error)

// Fetcher owns one poller goroutine per account id and the shared usage
// cache they populate.
type Fetcher struct {
	mu       sync.Mutex
	entries  map[string]schemas.CacheEntry[schemas.UsageData]
	cancels  map[string]context.CancelFunc
	writes   int
	client   *http.Client
	interval time.Duration
}

func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		entries:  make(map[string]schemas.CacheEntry[schemas.UsageData]),
		cancels:  make(map[string]context.CancelFunc),
		client:   client,
		interval: defaultPollInterval,
	}
}

// StartPolling begins (or restarts) periodic polling for accountID. Starting
// a new poller cancels any existing one for the same id.
func (f *Fetcher) StartPolling(ctx context.Context, account *schemas.Account, tokens TokenProvider) {
	f.mu.Lock()
	if cancel, ok := f.cancels[account.ID]; ok {
		cancel()
	}
	pollCtx, cancel := context.WithCancel(ctx)
	f.cancels[account.ID] = cancel
	f.mu.Unlock()

	go f.pollLoop(pollCtx, account, tokens)
}

// StopPolling cancels the poller for accountID and deletes its cache entry.
func (f *Fetcher) StopPolling(accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cancel, ok := f.cancels[accountID]; ok {
		cancel()
		delete(f.cancels, accountID)
	}
	delete(f.entries, accountID)
}

func (f *Fetcher) pollLoop(ctx context.Context, account *schemas.Account, tokens TokenProvider) {
	f.refreshNow(ctx, account, tokens)
	for {
		jitter := time.Duration(rand.Int63n(int64(2*pollJitter))) - pollJitter
		wait := f.interval + jitter
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			f.refreshNow(ctx, account, tokens)
		}
	}
}

// RefreshNow forces an immediate fetch for account, implementing
// refreshNow(id).
func (f *Fetcher) RefreshNow(ctx context.Context, account *schemas.Account, tokens TokenProvider) {
	f.refreshNow(ctx, account, tokens)
}

func (f *Fetcher) refreshNow(ctx context.Context, account *schemas.Account, tokens TokenProvider) {
	token, err := tokens(ctx)
	if err != nil {
		return
	}

	req, ok := buildUsageRequest(account, token)
	if !ok {
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.url, nil)
	if err != nil {
		return
	}
	httpReq.Header.Set(req.header, req.headerValue)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode >= 300 {
		return
	}

	data := schemas.UsageData{
		AccountID: account.ID,
		Provider:  account.Provider,
		FetchedAt: time.Now(),
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		data.Raw = raw
	}
	data.RepresentativeUtilization, data.RepresentativeWindow = representativeUtilization(account.Provider, raw)

	f.store(account.ID, data)
}

func (f *Fetcher) store(accountID string, data schemas.UsageData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[accountID] = schemas.CacheEntry[schemas.UsageData]{Value: data, FetchedAt: time.Now()}
	f.writes++
	if f.writes%evictEveryNWrites == 0 {
		f.evictExpiredLocked()
	}
}

func (f *Fetcher) evictExpiredLocked() {
	for id, entry := range f.entries {
		if entry.Expired(cacheTTL) {
			delete(f.entries, id)
		}
	}
}

// Get returns the cached usage data for accountID, evicting it lazily if
// stale.
func (f *Fetcher) Get(accountID string) (schemas.UsageData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[accountID]
	if !ok {
		return schemas.UsageData{}, false
	}
	if entry.Expired(cacheTTL) {
		delete(f.entries, accountID)
		return schemas.UsageData{}, false
	}
	return entry.Value, true
}

type usageRequest struct {
	url         string
	header      string
	headerValue string
}

// buildUsageRequest implements per-provider usage-endpoint branch.
func buildUsageRequest(account *schemas.Account, token string) (usageRequest, bool) {
	switch account.Provider {
	case schemas.Anthropic:
		return usageRequest{
			url:         "https://api.anthropic.com/api/oauth/usage",
			header:      "anthropic-beta",
			headerValue: "oauth-2025-04-20",
		}, true
	case schemas.NanoGPT:
		if account.CustomEndpoint == "" {
			return usageRequest{}, false
		}
		return usageRequest{
			url:         account.CustomEndpoint + "/subscription/v1/usage",
			header:      "x-api-key",
			headerValue: token,
		}, true
	case schemas.Zai:
		return usageRequest{
			url:         "https://api.z.ai/api/monitor/usage/quota/limit",
			header:      "x-api-key",
			headerValue: token,
		}, true
	default:
		return usageRequest{}, false
	}
}

// representativeUtilization implements getRepresentativeUtilization/
// Window: Anthropic walks every usage-window object for the max numeric
// "utilization"; NanoGPT takes max(daily, monthly) percent; z.ai reads only
// tokens_limit and reports it under the "five_hour" window label.
func representativeUtilization(provider schemas.ModelProvider, raw map[string]any) (float64, string) {
	switch provider {
	case schemas.Anthropic:
		return maxAnthropicWindowUtilization(raw, "")
	case schemas.NanoGPT:
		daily, _ := numberAt(raw, "daily")
		monthly, _ := numberAt(raw, "monthly")
		if daily >= monthly {
			return daily, "daily"
		}
		return monthly, "monthly"
	case schemas.Zai:
		v, ok := numberAt(raw, "tokens_limit")
		if !ok {
			return 0, ""
		}
		return v, "five_hour"
	default:
		return 0, ""
	}
}

func numberAt(raw map[string]any, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// maxAnthropicWindowUtilization recursively walks raw for any object carrying
// a numeric "utilization" field and returns the maximum found, along with the
// name of the key under which the winning object was nested (best-effort; the
// Anthropic usage response does not name its windows consistently across
// snapshots).
func maxAnthropicWindowUtilization(node any, path string) (float64, string) {
	obj, ok := node.(map[string]any)
	if !ok {
		return 0, ""
	}

	best, bestPath := 0.0, ""
	if u, ok := obj["utilization"]; ok {
		if f, ok := u.(float64); ok {
			best, bestPath = f, path
		}
	}
	for k, v := range obj {
		childPath := k
		if path != "" {
			childPath = fmt.Sprintf("%s.%s", path, k)
		}
		if f, p := maxAnthropicWindowUtilization(v, childPath); f > best {
			best, bestPath = f, p
		}
	}
	return best, bestPath
}
