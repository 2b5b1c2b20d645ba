package pricing_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/compresr/provider-gateway/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// NORMALIZATION AND LOOKUP
// =============================================================================

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gpt-4o", "gpt-4o"},
		{"openai/gpt-4o-2024-08-06", "gpt-4o"},
		{"anthropic.claude-3-5-sonnet-20241022-v2:0", "claude-3-5-sonnet"},
		{"us.anthropic.claude-sonnet-4-20250514-v1:0", "claude-sonnet-4"},
		{"models/gemini-2.0-flash", "gemini-2.0-flash"},
		{"  GPT-5  ", "gpt-5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pricing.NormalizeModel(tt.in), tt.in)
	}
}

func TestStaticCatalog_LongestPrefix(t *testing.T) {
	c := pricing.NewDefaultCatalog()

	p, ok := c.Lookup("gpt-4o-mini-2024-07-18")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", p.Model)

	p, ok = c.Lookup("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", p.Model)

	p, ok = c.Lookup("anthropic.claude-sonnet-4-20250514-v1:0")
	require.True(t, ok)
	assert.Equal(t, "claude-sonnet-4", p.Model)

	_, ok = c.Lookup("totally-unknown-model")
	assert.False(t, ok)

	_, ok = c.Lookup("")
	assert.False(t, ok)
}

func TestPrice_InputCost(t *testing.T) {
	p := pricing.Price{InputPerMillion: 2.5}
	assert.InDelta(t, 0.0025, p.InputCost(1000), 1e-12)
}

func TestMerge_OverridesByNormalizedName(t *testing.T) {
	merged := pricing.Merge(
		[]pricing.Price{{Model: "gpt-4o", InputPerMillion: 2.5}},
		[]pricing.Price{{Model: "openai/gpt-4o", InputPerMillion: 1.0}, {Model: "custom-1", InputPerMillion: 3}},
	)
	require.Len(t, merged, 2)
	assert.Equal(t, 1.0, merged[0].InputPerMillion)
	assert.Equal(t, "custom-1", merged[1].Model)
}

// =============================================================================
// SEED
// =============================================================================

func TestParseSeed(t *testing.T) {
	prices, err := pricing.ParseSeed([]byte(`
prices:
  - model: my-model
    input_per_million: 1.5
    output_per_million: 3
`))
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, "my-model", prices[0].Model)
	assert.Equal(t, 1.5, prices[0].InputPerMillion)
}

func TestParseSeed_Invalid(t *testing.T) {
	_, err := pricing.ParseSeed([]byte("prices:\n  - input_per_million: 1\n"))
	assert.Error(t, err)

	_, err = pricing.ParseSeed([]byte("prices:\n  - model: x\n    input_per_million: -1\n"))
	assert.Error(t, err)
}

// =============================================================================
// SQLITE
// =============================================================================

func TestSQLiteCatalog_UpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	c, err := pricing.OpenSQLite(ctx, filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Lookup("my-model")
	assert.False(t, ok)

	require.NoError(t, c.Upsert(ctx, []pricing.Price{{Model: "my-model", InputPerMillion: 1, OutputPerMillion: 2}}))
	p, ok := c.Lookup("my-model-2025-01-01")
	require.True(t, ok)
	assert.Equal(t, 1.0, p.InputPerMillion)

	require.NoError(t, c.Upsert(ctx, []pricing.Price{{Model: "my-model", InputPerMillion: 4, OutputPerMillion: 2}}))
	all, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 4.0, all[0].InputPerMillion)
}

func TestChain(t *testing.T) {
	chain := pricing.Chain{
		pricing.NewStaticCatalog([]pricing.Price{{Model: "a", InputPerMillion: 1}}),
		pricing.NewStaticCatalog([]pricing.Price{{Model: "a", InputPerMillion: 2}, {Model: "b", InputPerMillion: 3}}),
	}
	p, ok := chain.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, p.InputPerMillion)

	p, ok = chain.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 3.0, p.InputPerMillion)
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_ReloadsSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prices:\n  - model: watched-model\n    input_per_million: 1\n"), 0o644))

	catalog := pricing.NewDefaultCatalog()
	require.NoError(t, pricing.LoadInto(catalog, path))
	p, ok := catalog.Lookup("watched-model")
	require.True(t, ok)
	assert.Equal(t, 1.0, p.InputPerMillion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pricing.Watch(ctx, path, catalog))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("prices:\n  - model: watched-model\n    input_per_million: 7\n"), 0o644))

	assert.Eventually(t, func() bool {
		p, ok := catalog.Lookup("watched-model")
		return ok && p.InputPerMillion == 7
	}, 3*time.Second, 50*time.Millisecond)
}
