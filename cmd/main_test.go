package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/provider-gateway/internal/config"
	"github.com/compresr/provider-gateway/internal/pricing"
	"github.com/compresr/provider-gateway/internal/tokenizer"
)

func approxTokenizers(t *testing.T) {
	t.Helper()
	orig := newTokenizers
	newTokenizers = func() tokenizer.Source {
		return tokenizer.NewCacheWithLoader(func(string) (tokenizer.Counter, error) {
			return tokenizer.Approximate, nil
		})
	}
	t.Cleanup(func() { newTokenizers = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const rowsJSON = `{"rows":[
{"id":1,"name":"alpha","status":"active"},
{"id":2,"name":"beta","status":"active"},
{"id":3,"name":"gamma","status":"disabled"},
{"id":4,"name":"delta","status":"active"},
{"id":5,"name":"epsilon","status":"disabled"}]}`

// =============================================================================
// EMBEDDED CONFIGS
// =============================================================================

func TestEmbeddedConfigs_Valid(t *testing.T) {
	names, err := listEmbeddedConfigs()
	require.NoError(t, err)
	require.Contains(t, names, defaultConfigName)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			data, err := getEmbeddedConfig(name)
			require.NoError(t, err)
			_, err = config.LoadFromBytes(data)
			assert.NoError(t, err)
		})
	}
}

func TestResolveServeConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(dir, "mine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1\n"), 0o600))
		data, source, err := resolveServeConfig(path, defaultConfigName)
		require.NoError(t, err)
		assert.Equal(t, path, source)
		assert.Contains(t, string(data), "port: 1")
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, _, err := resolveServeConfig(filepath.Join(dir, "nope.yaml"), defaultConfigName)
		assert.ErrorContains(t, err, "config file not found")
	})

	t.Run("embedded fallback", func(t *testing.T) {
		_, source, err := resolveServeConfig("", "strict")
		require.NoError(t, err)
		assert.Equal(t, "(embedded) strict.yaml", source)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, _, err := resolveServeConfig("", "missing")
		assert.ErrorContains(t, err, "available")
	})

	t.Run("local configs dir wins over embedded", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte("local"), 0o600))
		data, source, err := resolveServeConfig("", defaultConfigName)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("configs", "config.yaml"), source)
		assert.Equal(t, "local", string(data))
	})
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, appName+" "+Version))
}

func TestTokensCmd_SingleResult(t *testing.T) {
	approxTokenizers(t)
	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(rowsJSON), 0o600))

	out, err := execute(t, "tokens", "--show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "model:     gpt-4o")
	assert.Contains(t, out, "saved")
	assert.Contains(t, out, "priced")
	assert.Contains(t, out, "rows[5]")
}

func TestTokensCmd_RequestBody(t *testing.T) {
	approxTokenizers(t)
	body := `{"model":"claude-sonnet-4","max_tokens":64,"messages":[` +
		`{"role":"user","content":"list"},` +
		`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"query","input":{}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":` + quoteJSON(rowsJSON) + `}]}]}`
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := execute(t, "tokens", "--provider", "anthropic", path)
	require.NoError(t, err)
	assert.Contains(t, out, "provider:  anthropic (1 tool results)")
	assert.Contains(t, out, "model:     claude-sonnet-4")
	assert.NotContains(t, out, "no tool results")
}

func TestTokensCmd_UnknownProvider(t *testing.T) {
	approxTokenizers(t)
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := execute(t, "tokens", "--provider", "cohere", path)
	assert.ErrorContains(t, err, "cohere")
}

func TestPricesImportAndList(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "prices.yaml")
	catalog := filepath.Join(dir, "db", "prices.db")
	require.NoError(t, os.WriteFile(seed, []byte(`
prices:
  - model: my-model
    input_per_million: 1.5
    output_per_million: 6
`), 0o600))

	out, err := execute(t, "prices", "import", "--catalog", catalog, seed)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 prices")

	out, err = execute(t, "prices", "list", "--catalog", catalog)
	require.NoError(t, err)
	assert.Contains(t, out, "my-model")
	assert.Contains(t, out, "1.5")
}

func TestBuildCatalog(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "prices.yaml")
	require.NoError(t, os.WriteFile(seed, []byte("prices:\n  - model: house-model\n    input_per_million: 9\n    output_per_million: 9\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pricing.OpenSQLite(ctx, filepath.Join(dir, "prices.db"))
	require.NoError(t, err)
	require.NoError(t, db.Upsert(ctx, []pricing.Price{{Model: "gpt-4o", InputPerMillion: 99, OutputPerMillion: 99}}))
	require.NoError(t, db.Close())

	catalog, closeCatalog, err := buildCatalog(ctx, config.PricingConfig{
		CatalogPath: filepath.Join(dir, "prices.db"),
		SeedPath:    seed,
	})
	require.NoError(t, err)
	defer closeCatalog()

	p, ok := catalog.Lookup("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, 99.0, p.InputPerMillion, "sqlite catalog takes precedence")

	p, ok = catalog.Lookup("house-model")
	require.True(t, ok)
	assert.Equal(t, 9.0, p.InputPerMillion)

	_, ok = catalog.Lookup("claude-sonnet-4-20250514")
	assert.True(t, ok)
}

func TestBuildCatalog_MissingSeed(t *testing.T) {
	_, _, err := buildCatalog(context.Background(), config.PricingConfig{SeedPath: filepath.Join(t.TempDir(), "none.yaml")})
	assert.Error(t, err)
}

func quoteJSON(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
