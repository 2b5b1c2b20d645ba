package adapters

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// =============================================================================
// EVENT GRAMMAR - Gemini streamGenerateContent?alt=sse
// =============================================================================

// Gemini chunks carry no type field. Each chunk is a partial
// GenerateContentResponse, classified by what it contains.
type geminiChunkKind int

const (
	geminiKindUnknown geminiChunkKind = iota
	geminiKindContent
	geminiKindToolCall
	geminiKindBlocked
	geminiKindError
	geminiKindCount
)

var geminiEventKinds = map[string]geminiChunkKind{
	"content":   geminiKindContent,
	"tool_call": geminiKindToolCall,
	"blocked":   geminiKindBlocked,
	"error":     geminiKindError,
}

func classifyGeminiChunk(chunk gjson.Result) string {
	switch {
	case chunk.Get("error").Exists():
		return "error"
	case !chunk.Get("candidates").Exists() && chunk.Get("promptFeedback.blockReason").Exists():
		return "blocked"
	case !chunk.Get("candidates").Exists() && !chunk.Get("usageMetadata").Exists():
		return ""
	}
	kind := "content"
	chunk.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("functionCall").Exists() {
			kind = "tool_call"
			return false
		}
		return true
	})
	return kind
}

// GeminiStreamAdapter folds Gemini SSE chunks. A functionCall always
// arrives whole inside one chunk, so tool-call chunks are forwarded as they
// come and nothing is withheld. A chunk with finishReason ends the stream.
type GeminiStreamAdapter struct {
	accumulator
	callCount int
}

// NewGeminiStreamAdapter creates a Gemini stream adapter.
func NewGeminiStreamAdapter() *GeminiStreamAdapter {
	return &GeminiStreamAdapter{accumulator: newAccumulator(ProviderGemini)}
}

// ProcessChunk applies one SSE chunk.
func (a *GeminiStreamAdapter) ProcessChunk(ev StreamEvent) ChunkProcessingResult {
	a.touch()
	if a.finished {
		return ChunkProcessingResult{IsFinal: true}
	}
	data := bytes.TrimSpace(ev.Data)
	chunk := gjson.ParseBytes(data)
	kind := classifyGeminiChunk(chunk)

	res, handled := a.transition(geminiEventKinds[kind], chunk, data)
	if !handled {
		log.Debug().Str("chunk", string(data)).Msg("adapters: unknown gemini stream chunk, forwarding")
		return forward(dataFrame(data))
	}
	return res
}

func (a *GeminiStreamAdapter) transition(kind geminiChunkKind, chunk gjson.Result, data []byte) (ChunkProcessingResult, bool) {
	frame := dataFrame(data)

	switch kind {
	case geminiKindContent, geminiKindToolCall:
		a.absorbMetadata(chunk)
		candidate := chunk.Get("candidates.0")
		a.appendText(geminiPartsText(candidate.Get("content.parts")))

		res := forward(frame)
		if kind == geminiKindToolCall {
			candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
				if fc := part.Get("functionCall"); fc.Exists() {
					a.finalizeCall(geminiCall(fc, a.callCount))
					a.callCount++
				}
				return true
			})
			a.recordRaw(data)
			res = toolChunk(frame)
		}
		if reason := candidate.Get("finishReason").String(); reason != "" {
			a.setStop(reason, geminiStopReason(reason, a.callCount > 0))
			a.finished = true
			res.IsFinal = true
		}
		return res, true

	case geminiKindBlocked:
		a.absorbMetadata(chunk)
		a.setStop(chunk.Get("promptFeedback.blockReason").String(), StopReasonContentFilter)
		a.finished = true
		return final(frame), true

	case geminiKindError:
		log.Debug().Str("status", chunk.Get("error.status").String()).Msg("adapters: gemini stream error")
		a.setStop("error", StopReasonError)
		a.finished = true
		return final(frame), true
	}
	return ChunkProcessingResult{}, false
}

func (a *GeminiStreamAdapter) absorbMetadata(chunk gjson.Result) {
	if id := chunk.Get("responseId").String(); id != "" {
		a.state.ResponseID = id
	}
	if model := chunk.Get("modelVersion").String(); model != "" {
		a.state.Model = model
	}
	if u := chunk.Get("usageMetadata"); u.Exists() {
		a.state.Usage = geminiUsage(u)
	}
}

// =============================================================================
// SYNTHETIC FRAMES
// =============================================================================

func (a *GeminiStreamAdapter) textChunk(text, finishReason string) []byte {
	body := geminiEnvelope(a.state.ResponseID, a.state.Model, a.state.Usage)
	body, _ = sjson.SetRawBytes(body, "candidates.0", geminiTextCandidate(text, finishReason))
	return dataFrame(body)
}

// FormatTextDeltaSSE renders a text chunk.
func (a *GeminiStreamAdapter) FormatTextDeltaSSE(text string) []byte {
	return a.textChunk(text, "")
}

// FormatCompleteTextSSE renders a text chunk; Gemini has no block framing.
func (a *GeminiStreamAdapter) FormatCompleteTextSSE(text string) []byte {
	return a.textChunk(text, "")
}

// FormatEndSSE renders an empty chunk carrying finishReason STOP.
func (a *GeminiStreamAdapter) FormatEndSSE() []byte {
	return a.textChunk("", "STOP")
}

// ToProviderResponse rebuilds the generateContent response.
func (a *GeminiStreamAdapter) ToProviderResponse() ([]byte, error) {
	body := geminiEnvelope(a.state.ResponseID, a.state.Model, a.state.Usage)
	candidate := []byte(`{"content":{"role":"model","parts":[]},"index":0}`)

	var err error
	if a.state.Text != "" {
		candidate, err = sjson.SetBytes(candidate, "content.parts.-1", map[string]string{"text": a.state.Text})
		if err != nil {
			return nil, err
		}
	}
	for _, call := range a.state.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			return nil, err
		}
		part := []byte(`{"functionCall":{}}`)
		part, _ = sjson.SetBytes(part, "functionCall.id", call.ID)
		part, _ = sjson.SetBytes(part, "functionCall.name", call.Name)
		part, _ = sjson.SetRawBytes(part, "functionCall.args", args)
		candidate, err = sjson.SetRawBytes(candidate, "content.parts.-1", part)
		if err != nil {
			return nil, err
		}
	}
	finish := a.vendorStop
	if finish == "" {
		finish = "STOP"
	}
	candidate, _ = sjson.SetBytes(candidate, "finishReason", finish)
	return sjson.SetRawBytes(body, "candidates.0", candidate)
}

// ToProviderRefusalResponse builds a refusal response for this stream.
func (a *GeminiStreamAdapter) ToProviderRefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	body := geminiEnvelope(a.state.ResponseID, a.state.Model, a.state.Usage)
	return sjson.SetRawBytes(body, "candidates.0", geminiTextCandidate(refusalText(refusalMessage, contentMessage), "STOP"))
}

// Ensure GeminiStreamAdapter implements StreamAdapter
var _ StreamAdapter = (*GeminiStreamAdapter)(nil)
