// Package compression re-encodes JSON tool results as TOON and accounts for
// the tokens and cost saved.
//
// FLOW:
//  1. Adapter collects tool-result items {ID, Content}
//  2. Stage.Compress encodes each JSON object/array item as TOON
//  3. Tokens are counted before/after with the model's tokenizer
//  4. The TOON form replaces the original only when it is not larger
//  5. Savings are priced from the catalog when the model has a price
//
// Non-JSON items are never touched and never counted.
package compression

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/provider-gateway/internal/pricing"
	"github.com/compresr/provider-gateway/internal/store"
	"github.com/compresr/provider-gateway/internal/tokenizer"
	"github.com/compresr/provider-gateway/internal/toon"
)

// CostStatus says how CostSavings was (or was not) computed.
type CostStatus string

const (
	// CostNoResults: the request carried no tool results.
	CostNoResults CostStatus = "no_results"
	// CostNoSavings: tool results were present but no tokens were saved.
	CostNoSavings CostStatus = "no_savings"
	// CostPriced: tokens were saved and priced.
	CostPriced CostStatus = "priced"
	// CostNoPrice: tokens were saved but the model has no known price.
	CostNoPrice CostStatus = "no_price"
)

// Item is one tool result offered for compression.
type Item struct {
	ID      string
	Content string
}

// Result is the token and cost accounting for one compression pass.
// Nil pointers mean there were no tool results to compress.
type Result struct {
	TokensBefore *int       `json:"tokens_before"`
	TokensAfter  *int       `json:"tokens_after"`
	CostSavings  *float64   `json:"cost_savings"`
	CostStatus   CostStatus `json:"cost_status"`
}

// TokensSaved returns before minus after, or 0 when not computed.
func (r Result) TokensSaved() int {
	if r.TokensBefore == nil || r.TokensAfter == nil {
		return 0
	}
	return *r.TokensBefore - *r.TokensAfter
}

// Compressor is what request adapters call to compress their tool results.
type Compressor interface {
	Compress(model string, items []Item) (map[string]string, Result)
}

// Stage is the TOON compression stage.
type Stage struct {
	Tokenizers tokenizer.Source
	Prices     pricing.Catalog
	Memo       store.Store
}

// NewStage creates a stage. Memo may be nil.
func NewStage(tokenizers tokenizer.Source, prices pricing.Catalog, memo store.Store) *Stage {
	return &Stage{Tokenizers: tokenizers, Prices: prices, Memo: memo}
}

// Compress returns the replacement content by item ID and the accounting.
// Only items whose content changed appear in the returned map.
func (s *Stage) Compress(model string, items []Item) (map[string]string, Result) {
	updates := make(map[string]string)
	if len(items) == 0 {
		return updates, Result{CostStatus: CostNoResults}
	}

	counter := s.counter(model)
	encoding := tokenizer.EncodingForModel(model)

	before, after := 0, 0
	for _, item := range items {
		encoded, ok := s.encode(item.Content)
		if !ok {
			continue
		}

		origTokens := s.count(counter, encoding, item.Content)
		toonTokens := s.count(counter, encoding, encoded)
		before += origTokens

		if toonTokens > origTokens {
			after += origTokens
			log.Debug().Str("tool_result_id", item.ID).Int("json_tokens", origTokens).Int("toon_tokens", toonTokens).
				Msg("compression: TOON larger than JSON, keeping original")
			continue
		}
		after += toonTokens
		if encoded != item.Content {
			updates[item.ID] = encoded
		}
	}

	res := Result{TokensBefore: &before, TokensAfter: &after}
	saved := before - after
	if saved <= 0 {
		res.CostStatus = CostNoSavings
		return updates, res
	}

	if s.Prices == nil {
		res.CostStatus = CostNoPrice
		return updates, res
	}
	price, ok := s.Prices.Lookup(model)
	if !ok {
		log.Debug().Str("model", model).Msg("compression: no price for model")
		res.CostStatus = CostNoPrice
		return updates, res
	}
	cost := price.InputCost(saved)
	res.CostSavings = &cost
	res.CostStatus = CostPriced
	return updates, res
}

// encode TOON-encodes JSON objects and arrays; anything else is skipped.
func (s *Stage) encode(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') || !gjson.Valid(trimmed) {
		return "", false
	}

	var key string
	if s.Memo != nil {
		key = store.Key("toon", trimmed)
		if v, ok := s.Memo.GetEncoded(key); ok {
			return v, true
		}
	}

	encoded, err := toon.EncodeString(trimmed)
	if err != nil {
		log.Debug().Err(err).Msg("compression: TOON encode failed")
		return "", false
	}
	if s.Memo != nil {
		_ = s.Memo.SetEncoded(key, encoded)
	}
	return encoded, true
}

func (s *Stage) count(counter tokenizer.Counter, encoding, text string) int {
	if s.Memo == nil {
		return counter.Count(text)
	}
	key := store.Key(encoding, text)
	if n, ok := s.Memo.GetTokens(key); ok {
		return n
	}
	n := counter.Count(text)
	_ = s.Memo.SetTokens(key, n)
	return n
}

func (s *Stage) counter(model string) tokenizer.Counter {
	if s.Tokenizers == nil {
		return tokenizer.Approximate
	}
	return s.Tokenizers.ForModel(model)
}

// Ensure Stage implements Compressor
var _ Compressor = (*Stage)(nil)
