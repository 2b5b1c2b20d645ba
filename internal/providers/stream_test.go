package providers_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/provider-gateway/internal/adapters"
	"github.com/compresr/provider-gateway/internal/providers"
)

// =============================================================================
// SSE SCANNER
// =============================================================================

func scanAll(t *testing.T, input string) []adapters.StreamEvent {
	t.Helper()
	s := providers.NewSSEScanner(strings.NewReader(input))
	var out []adapters.StreamEvent
	for s.Next() {
		out = append(out, s.Event())
	}
	require.NoError(t, s.Err())
	return out
}

func TestSSEScanner(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []adapters.StreamEvent
	}{
		{
			name:  "data only",
			input: "data: {\"a\":1}\n\ndata: [DONE]\n\n",
			want:  []adapters.StreamEvent{{Data: []byte(`{"a":1}`)}, {Data: []byte("[DONE]")}},
		},
		{
			name:  "event type and comments",
			input: ": keep-alive\nevent: message_start\ndata: {}\n\n",
			want:  []adapters.StreamEvent{{Type: "message_start", Data: []byte("{}")}},
		},
		{
			name:  "multi-line data joined",
			input: "data: line1\ndata: line2\n\n",
			want:  []adapters.StreamEvent{{Data: []byte("line1\nline2")}},
		},
		{
			name:  "crlf and no space after colon",
			input: "event:ping\r\ndata:{}\r\n\r\n",
			want:  []adapters.StreamEvent{{Type: "ping", Data: []byte("{}")}},
		},
		{
			name:  "trailing event without blank line",
			input: "data: a\n\ndata: b",
			want:  []adapters.StreamEvent{{Data: []byte("a")}, {Data: []byte("b")}},
		},
		{
			name:  "event type reset by empty block",
			input: "event: lonely\n\ndata: x\n\n",
			want:  []adapters.StreamEvent{{Data: []byte("x")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanAll(t, tt.input))
		})
	}
}

// =============================================================================
// EVENT STREAMS
// =============================================================================

func TestSSEEventStream_EOFAndClose(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: {}\n\n"))
	s := providers.NewSSEEventStream(adapters.ProviderOpenAI, body)
	ctx := context.Background()

	ev, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(ev.Data))

	_, err = s.Next(ctx)
	assert.Equal(t, io.EOF, err)
	_, err = s.Next(ctx)
	assert.Equal(t, io.EOF, err)

	require.NoError(t, s.Close())
	assert.Equal(t, adapters.ProviderOpenAI, s.Provider())
}

func TestEventStream_CancelledContext(t *testing.T) {
	s := providers.NewSSEEventStream(adapters.ProviderOpenAI, io.NopCloser(strings.NewReader("data: {}\n\n")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func encodeFrames(t *testing.T, msgs ...eventstream.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := eventstream.NewEncoder()
	for _, m := range msgs {
		require.NoError(t, enc.Encode(&buf, m))
	}
	return buf.Bytes()
}

func converseEvent(eventType, payload string) eventstream.Message {
	return eventstream.Message{
		Headers: eventstream.Headers{
			{Name: ":message-type", Value: eventstream.StringValue("event")},
			{Name: ":event-type", Value: eventstream.StringValue(eventType)},
			{Name: ":content-type", Value: eventstream.StringValue("application/json")},
		},
		Payload: []byte(payload),
	}
}

func converseException(exceptionType, payload string) eventstream.Message {
	return eventstream.Message{
		Headers: eventstream.Headers{
			{Name: ":message-type", Value: eventstream.StringValue("exception")},
			{Name: ":exception-type", Value: eventstream.StringValue(exceptionType)},
		},
		Payload: []byte(payload),
	}
}

func TestEventStreamDecoder(t *testing.T) {
	raw := encodeFrames(t,
		converseEvent("messageStart", `{"role":"assistant"}`),
		converseEvent("contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"hi"}}`),
		converseException("throttlingException", `{"message":"slow down"}`),
	)

	s := providers.NewEventStreamDecoder(adapters.ProviderBedrock, io.NopCloser(bytes.NewReader(raw)))
	ctx := context.Background()

	var got []adapters.StreamEvent
	for {
		ev, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "messageStart", got[0].Type)
	assert.Equal(t, `{"role":"assistant"}`, string(got[0].Data))
	assert.Equal(t, `{"contentBlockIndex":0,"delta":{"text":"hi"}}`, string(got[1].Data))
	assert.Equal(t, "throttlingException", got[2].Type)
}

func TestEventStreamDecoder_Truncated(t *testing.T) {
	raw := encodeFrames(t, converseEvent("messageStart", `{"role":"assistant"}`))

	s := providers.NewEventStreamDecoder(adapters.ProviderBedrock, io.NopCloser(bytes.NewReader(raw[:len(raw)-3])))

	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}
