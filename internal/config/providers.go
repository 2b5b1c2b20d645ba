// Provider configuration - per-provider upstream overrides.
//
// DESIGN: Credentials are never configured here. They are captured from
// each inbound request, so one gateway serves many callers. Config only
// points a provider somewhere else (proxy, regional endpoint, local model).
package config

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/compresr/provider-gateway/internal/adapters"
)

// ProviderConfig overrides upstream settings for one provider.
type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"` // Replaces the vendor default
	Timeout time.Duration     `yaml:"timeout"`  // Upstream call timeout, 0 = client default
	Region  string            `yaml:"region"`   // Bedrock region when base_url is unset
	Headers map[string]string `yaml:"headers"`  // Extra upstream headers
}

// ProvidersConfig maps provider name to its overrides. Aliases such as
// "zhipu" or "responses" are accepted for the canonical names.
type ProvidersConfig map[string]ProviderConfig

// Validate rejects unknown provider names, two keys naming the same
// provider, and malformed URLs.
func (p ProvidersConfig) Validate() error {
	seen := make(map[adapters.Provider]string, len(p))
	for _, name := range p.names() {
		provider := adapters.ProviderFromString(name)
		if provider == adapters.ProviderUnknown {
			return fmt.Errorf("providers.%s: unknown provider (known: %v)", name, adapters.AllProviders)
		}
		if other, ok := seen[provider]; ok {
			return fmt.Errorf("providers.%s: %s is already configured as %s", name, provider, other)
		}
		seen[provider] = name
		cfg := p[name]
		if cfg.BaseURL != "" {
			u, err := url.Parse(cfg.BaseURL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("providers.%s.base_url: invalid URL %q", name, cfg.BaseURL)
			}
		}
		if cfg.Timeout < 0 {
			return fmt.Errorf("providers.%s.timeout must not be negative", name)
		}
		if cfg.Region != "" && provider != adapters.ProviderBedrock {
			return fmt.Errorf("providers.%s.region is only valid for bedrock", name)
		}
	}
	return nil
}

// Get returns the overrides for provider p; zero value when unset.
func (p ProvidersConfig) Get(provider adapters.Provider) ProviderConfig {
	if cfg, ok := p[string(provider)]; ok {
		return cfg
	}
	for name, cfg := range p {
		if adapters.ProviderFromString(name) == provider {
			return cfg
		}
	}
	return ProviderConfig{}
}

// BaseURLs returns the configured base URL overrides keyed by provider.
func (p ProvidersConfig) BaseURLs() map[adapters.Provider]string {
	out := make(map[adapters.Provider]string, len(p))
	for name, cfg := range p {
		if cfg.BaseURL != "" {
			out[adapters.ProviderFromString(name)] = cfg.BaseURL
		}
	}
	return out
}

func (p ProvidersConfig) names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
