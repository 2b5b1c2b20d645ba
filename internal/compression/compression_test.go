package compression_test

import (
	"testing"
	"time"

	"github.com/compresr/provider-gateway/internal/compression"
	"github.com/compresr/provider-gateway/internal/pricing"
	"github.com/compresr/provider-gateway/internal/store"
	"github.com/compresr/provider-gateway/internal/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteSource counts one token per byte so results are exact in tests.
type byteSource struct{ calls int }

func (b *byteSource) ForModel(string) tokenizer.Counter {
	return tokenizer.CounterFunc(func(s string) int {
		b.calls++
		return len(s)
	})
}

const tabular = `{"results":[{"id":1,"title":"alpha"},{"id":2,"title":"beta"},{"id":3,"title":"gamma"}]}`

func newStage(prices pricing.Catalog) (*compression.Stage, *byteSource) {
	src := &byteSource{}
	return compression.NewStage(src, prices, nil), src
}

func TestCompress_NoItems(t *testing.T) {
	stage, _ := newStage(pricing.NewDefaultCatalog())

	updates, res := stage.Compress("gpt-4o", nil)

	assert.Empty(t, updates)
	assert.Nil(t, res.TokensBefore)
	assert.Nil(t, res.TokensAfter)
	assert.Nil(t, res.CostSavings)
	assert.Equal(t, compression.CostNoResults, res.CostStatus)
}

func TestCompress_JSONItemPriced(t *testing.T) {
	stage, _ := newStage(pricing.NewStaticCatalog([]pricing.Price{{Model: "gpt-4o", InputPerMillion: 1_000_000}}))

	updates, res := stage.Compress("gpt-4o", []compression.Item{{ID: "c1", Content: tabular}})

	require.Contains(t, updates, "c1")
	assert.Equal(t, "results[3]{id,title}:\n  1,alpha\n  2,beta\n  3,gamma", updates["c1"])
	require.NotNil(t, res.TokensBefore)
	require.NotNil(t, res.TokensAfter)
	assert.Equal(t, len(tabular), *res.TokensBefore)
	assert.Equal(t, len(updates["c1"]), *res.TokensAfter)
	require.NotNil(t, res.CostSavings)
	assert.InDelta(t, float64(res.TokensSaved()), *res.CostSavings, 1e-9)
	assert.Equal(t, compression.CostPriced, res.CostStatus)
}

func TestCompress_NotJSONUntouched(t *testing.T) {
	stage, _ := newStage(pricing.NewDefaultCatalog())

	updates, res := stage.Compress("gpt-4o", []compression.Item{
		{ID: "c1", Content: "not json"},
		{ID: "c2", Content: tabular},
	})

	assert.NotContains(t, updates, "c1")
	assert.Contains(t, updates, "c2")
	// Only c2 is counted.
	assert.Equal(t, len(tabular), *res.TokensBefore)
}

func TestCompress_OnlyNonJSON(t *testing.T) {
	stage, _ := newStage(pricing.NewDefaultCatalog())

	updates, res := stage.Compress("gpt-4o", []compression.Item{{ID: "c1", Content: "not json"}, {ID: "c2", Content: "42"}})

	assert.Empty(t, updates)
	require.NotNil(t, res.TokensBefore)
	assert.Equal(t, 0, *res.TokensBefore)
	assert.Equal(t, 0, *res.TokensAfter)
	assert.Nil(t, res.CostSavings)
	assert.Equal(t, compression.CostNoSavings, res.CostStatus)
}

func TestCompress_NoPrice(t *testing.T) {
	stage, _ := newStage(pricing.NewStaticCatalog(nil))

	_, res := stage.Compress("mystery-model", []compression.Item{{ID: "c1", Content: tabular}})

	assert.Greater(t, res.TokensSaved(), 0)
	assert.Nil(t, res.CostSavings)
	assert.Equal(t, compression.CostNoPrice, res.CostStatus)
}

func TestCompress_KeepsOriginalWhenTOONIsLarger(t *testing.T) {
	stage, _ := newStage(pricing.NewDefaultCatalog())
	// "[0]:" is longer than "[]".
	content := `[]`

	updates, res := stage.Compress("gpt-4o", []compression.Item{{ID: "c1", Content: content}})

	assert.NotContains(t, updates, "c1")
	assert.Equal(t, *res.TokensBefore, *res.TokensAfter)
	assert.Equal(t, compression.CostNoSavings, res.CostStatus)
}

func TestCompress_MemoizesTokenCounts(t *testing.T) {
	memo := store.NewMemoryStore(time.Minute)
	defer memo.Close()
	src := &byteSource{}
	stage := compression.NewStage(src, pricing.NewDefaultCatalog(), memo)

	items := []compression.Item{{ID: "c1", Content: tabular}}
	_, first := stage.Compress("gpt-4o", items)
	callsAfterFirst := src.calls
	_, second := stage.Compress("gpt-4o", items)

	assert.Equal(t, callsAfterFirst, src.calls)
	assert.Equal(t, *first.TokensAfter, *second.TokensAfter)
}
