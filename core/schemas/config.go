package schemas

import "time"

// NetworkConfig carries the HTTP-transport knobs shared across adapters: timeouts,
// connection limits, and any operator-supplied headers to inject on every request.
type NetworkConfig struct {
	BaseURL                        string
	DefaultRequestTimeoutInSeconds int
	MaxConnsPerHost                int
	ExtraHeaders                   map[string]string
}

// CheckAndSetDefaults fills in zero-valued fields with sane defaults.
func (n *NetworkConfig) CheckAndSetDefaults() {
	if n.DefaultRequestTimeoutInSeconds == 0 {
		n.DefaultRequestTimeoutInSeconds = 30
	}
	if n.MaxConnsPerHost == 0 {
		n.MaxConnsPerHost = 1024
	}
}

// CustomProviderConfig lets an operator register a provider under a custom name
// while reusing one of the built-in adapter implementations (e.g. a second
// OpenAI-compatible backend with its own endpoint and label).
type CustomProviderConfig struct {
	Name             string
	BaseProviderType ModelProvider
}

// ProviderConfig is the full construction input for a provider adapter.
type ProviderConfig struct {
	NetworkConfig        NetworkConfig
	CustomProviderConfig *CustomProviderConfig
	SendBackRawResponse  bool
	TokenRefreshSkew     time.Duration
	CostEstimator        CostEstimator
}

func (c *ProviderConfig) CheckAndSetDefaults() {
	c.NetworkConfig.CheckAndSetDefaults()
	if c.TokenRefreshSkew == 0 {
		c.TokenRefreshSkew = 2 * time.Minute
	}
	if c.CostEstimator == nil {
		c.CostEstimator = NoopCostEstimator
	}
}

// Config is the injected collaborator for process-wide settings (which providers
// are enabled, default regions, etc.). Concrete implementations live outside this
// repository; here it is only the contract.
type Config interface {
	GetString(key string) string
	GetBool(key string) bool
	GetDuration(key string) time.Duration
}
