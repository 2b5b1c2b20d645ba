package adapters_test

import (
	"bytes"
	"testing"

	"github.com/compresr/provider-gateway/internal/adapters"
	"github.com/compresr/provider-gateway/internal/compression"
	"github.com/compresr/provider-gateway/internal/pricing"
	"github.com/compresr/provider-gateway/internal/tokenizer"
	"github.com/stretchr/testify/require"
)

// byteSource counts one token per byte so no encoder is downloaded.
type byteSource struct{}

func (byteSource) ForModel(string) tokenizer.Counter {
	return tokenizer.CounterFunc(func(s string) int { return len(s) })
}

func testOpts() []adapters.Option {
	stage := compression.NewStage(byteSource{}, pricing.NewDefaultCatalog(), nil)
	return []adapters.Option{adapters.WithCompressor(stage)}
}

const (
	tabularJSON = `{"results":[{"id":1,"title":"alpha"},{"id":2,"title":"beta"},{"id":3,"title":"gamma"}]}`
	tabularTOON = "results[3]{id,title}:\n  1,alpha\n  2,beta\n  3,gamma"
)

func data(d string) adapters.StreamEvent {
	return adapters.StreamEvent{Data: []byte(d)}
}

func typed(typ, d string) adapters.StreamEvent {
	return adapters.StreamEvent{Type: typ, Data: []byte(d)}
}

func feed(s adapters.StreamAdapter, events ...adapters.StreamEvent) []adapters.ChunkProcessingResult {
	out := make([]adapters.ChunkProcessingResult, 0, len(events))
	for _, ev := range events {
		out = append(out, s.ProcessChunk(ev))
	}
	return out
}

func dataFrames(b []byte) int {
	return bytes.Count(b, []byte("data: "))
}

// assertEquivalent checks that the rebuilt response reads the same as the
// stream that produced it.
func assertEquivalent(t *testing.T, s adapters.StreamAdapter, newResponse func([]byte) (adapters.ResponseAdapter, error)) {
	t.Helper()

	body, err := s.ToProviderResponse()
	require.NoError(t, err)
	resp, err := newResponse(body)
	require.NoError(t, err)

	require.Equal(t, s.Text(), resp.Text())
	require.Equal(t, s.ToolCalls(), resp.ToolCalls())
	require.Equal(t, s.Usage(), resp.Usage())
	require.Equal(t, s.StopReason(), resp.StopReason())
	require.Equal(t, len(s.ToolCalls()) > 0, resp.HasToolCalls())
}
