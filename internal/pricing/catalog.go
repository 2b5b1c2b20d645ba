// Package pricing resolves per-model token prices for compression savings.
//
// DESIGN: A Catalog answers Lookup(model). Model names arrive in many
// vendor spellings ("anthropic.claude-3-5-sonnet-20241022-v2:0",
// "openai/gpt-4o", "models/gemini-2.0-flash"), so lookups normalize the
// name and then match the longest known prefix.
//
// Implementations:
//   - StaticCatalog:  built-in defaults plus an optional YAML seed
//   - SQLiteCatalog:  prices persisted in a local sqlite file
//   - Watch:          reloads a YAML seed into a StaticCatalog on change
package pricing

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Price is the USD cost per million tokens.
type Price struct {
	Model            string  `yaml:"model"`
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// InputCost returns the cost of n input tokens.
func (p Price) InputCost(tokens int) float64 {
	return float64(tokens) * p.InputPerMillion / 1_000_000
}

// Catalog resolves prices by model name.
type Catalog interface {
	Lookup(model string) (Price, bool)
}

var (
	dateSuffix     = regexp.MustCompile(`-\d{8}$|-\d{4}-\d{2}-\d{2}$`)
	bedrockVersion = regexp.MustCompile(`-v\d+(:\d+)?$`)
	bedrockVendors = []string{"anthropic.", "meta.", "amazon.", "mistral.", "cohere.", "ai21."}
	bedrockRegions = []string{"us.", "eu.", "apac.", "global."}
)

// NormalizeModel strips vendor prefixes, Bedrock version suffixes, and
// release dates from a model name.
func NormalizeModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, r := range bedrockRegions {
		if strings.HasPrefix(m, r) {
			m = strings.TrimPrefix(m, r)
			break
		}
	}
	for _, v := range bedrockVendors {
		if strings.HasPrefix(m, v) {
			m = strings.TrimPrefix(m, v)
			break
		}
	}
	m = bedrockVersion.ReplaceAllString(m, "")
	m = dateSuffix.ReplaceAllString(m, "")
	return m
}

// StaticCatalog is an in-memory catalog. Safe for concurrent use.
type StaticCatalog struct {
	mu     sync.RWMutex
	prices map[string]Price
	keys   []string // sorted longest first
}

// NewStaticCatalog creates a catalog from the given prices.
func NewStaticCatalog(prices []Price) *StaticCatalog {
	c := &StaticCatalog{}
	c.Replace(prices)
	return c
}

// NewDefaultCatalog creates a catalog holding the built-in prices.
func NewDefaultCatalog() *StaticCatalog {
	return NewStaticCatalog(DefaultPrices())
}

// Replace swaps the catalog contents atomically.
func (c *StaticCatalog) Replace(prices []Price) {
	m := make(map[string]Price, len(prices))
	for _, p := range prices {
		key := NormalizeModel(p.Model)
		if key == "" {
			continue
		}
		m[key] = p
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	c.mu.Lock()
	c.prices = m
	c.keys = keys
	c.mu.Unlock()
}

// Lookup returns the price whose normalized name is the longest prefix of
// the normalized model.
func (c *StaticCatalog) Lookup(model string) (Price, bool) {
	name := NormalizeModel(model)
	if name == "" {
		return Price{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.prices[name]; ok {
		return p, true
	}
	for _, k := range c.keys {
		if strings.HasPrefix(name, k) {
			return c.prices[k], true
		}
	}
	return Price{}, false
}

// Len returns the number of priced models.
func (c *StaticCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// Merge returns base overlaid with overrides, matched by normalized name.
func Merge(base, overrides []Price) []Price {
	idx := make(map[string]int, len(base))
	out := make([]Price, 0, len(base)+len(overrides))
	for _, p := range base {
		idx[NormalizeModel(p.Model)] = len(out)
		out = append(out, p)
	}
	for _, p := range overrides {
		if i, ok := idx[NormalizeModel(p.Model)]; ok {
			out[i] = p
			continue
		}
		idx[NormalizeModel(p.Model)] = len(out)
		out = append(out, p)
	}
	return out
}

// DefaultPrices returns the built-in input/output prices (USD per 1M tokens).
func DefaultPrices() []Price {
	return []Price{
		{Model: "gpt-4o", InputPerMillion: 2.50, OutputPerMillion: 10.00},
		{Model: "gpt-4o-mini", InputPerMillion: 0.15, OutputPerMillion: 0.60},
		{Model: "gpt-4.1", InputPerMillion: 2.00, OutputPerMillion: 8.00},
		{Model: "gpt-4.1-mini", InputPerMillion: 0.40, OutputPerMillion: 1.60},
		{Model: "gpt-4.1-nano", InputPerMillion: 0.10, OutputPerMillion: 0.40},
		{Model: "gpt-5", InputPerMillion: 1.25, OutputPerMillion: 10.00},
		{Model: "gpt-5-mini", InputPerMillion: 0.25, OutputPerMillion: 2.00},
		{Model: "o3", InputPerMillion: 2.00, OutputPerMillion: 8.00},
		{Model: "o4-mini", InputPerMillion: 1.10, OutputPerMillion: 4.40},
		{Model: "claude-opus-4", InputPerMillion: 15.00, OutputPerMillion: 75.00},
		{Model: "claude-sonnet-4", InputPerMillion: 3.00, OutputPerMillion: 15.00},
		{Model: "claude-3-7-sonnet", InputPerMillion: 3.00, OutputPerMillion: 15.00},
		{Model: "claude-3-5-sonnet", InputPerMillion: 3.00, OutputPerMillion: 15.00},
		{Model: "claude-3-5-haiku", InputPerMillion: 0.80, OutputPerMillion: 4.00},
		{Model: "claude-haiku-4-5", InputPerMillion: 1.00, OutputPerMillion: 5.00},
		{Model: "gemini-2.5-pro", InputPerMillion: 1.25, OutputPerMillion: 10.00},
		{Model: "gemini-2.5-flash", InputPerMillion: 0.30, OutputPerMillion: 2.50},
		{Model: "gemini-2.0-flash", InputPerMillion: 0.10, OutputPerMillion: 0.40},
		{Model: "glm-4", InputPerMillion: 0.60, OutputPerMillion: 2.20},
		{Model: "glm-4-flash", InputPerMillion: 0.00, OutputPerMillion: 0.00},
		{Model: "nova-pro", InputPerMillion: 0.80, OutputPerMillion: 3.20},
		{Model: "nova-lite", InputPerMillion: 0.06, OutputPerMillion: 0.24},
	}
}

// Ensure StaticCatalog implements Catalog
var _ Catalog = (*StaticCatalog)(nil)
