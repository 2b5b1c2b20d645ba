package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"

	"github.com/compresr/provider-gateway/internal/adapters"
)

// nextFunc yields one vendor event, or io.EOF when the stream is complete.
type nextFunc func() (adapters.StreamEvent, error)

// EventStream reads vendor stream events from an upstream response body.
// Events are returned in arrival order; the caller feeds them to a
// StreamAdapter. EventStream is not safe for concurrent use.
type EventStream struct {
	provider adapters.Provider
	next     nextFunc
	closer   io.Closer
	done     bool
}

func newEventStream(provider adapters.Provider, next nextFunc, closer io.Closer) *EventStream {
	return &EventStream{provider: provider, next: next, closer: closer}
}

// NewSSEEventStream reads text/event-stream framing from body.
func NewSSEEventStream(provider adapters.Provider, body io.ReadCloser) *EventStream {
	scanner := NewSSEScanner(body)
	next := func() (adapters.StreamEvent, error) {
		if scanner.Next() {
			return scanner.Event(), nil
		}
		if err := scanner.Err(); err != nil {
			return adapters.StreamEvent{}, fmt.Errorf("%s: reading SSE: %w", provider, err)
		}
		return adapters.StreamEvent{}, io.EOF
	}
	return newEventStream(provider, next, body)
}

// NewEventStreamDecoder reads AWS binary event-stream framing from body.
// Event frames yield their :event-type, exception frames their
// :exception-type, so terminal errors reach the adapter as ordinary events.
func NewEventStreamDecoder(provider adapters.Provider, body io.ReadCloser) *EventStream {
	decoder := eventstream.NewDecoder()
	var buf []byte
	next := func() (adapters.StreamEvent, error) {
		msg, err := decoder.Decode(body, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return adapters.StreamEvent{}, io.EOF
			}
			return adapters.StreamEvent{}, fmt.Errorf("%s: decoding event stream: %w", provider, err)
		}
		buf = msg.Payload[:0]

		ev := adapters.StreamEvent{Data: append([]byte(nil), msg.Payload...)}
		switch headerString(msg.Headers, ":message-type") {
		case "exception":
			ev.Type = headerString(msg.Headers, ":exception-type")
		case "error":
			ev.Type = "internalServerException"
			if code := headerString(msg.Headers, ":error-code"); code != "" {
				ev.Type = lowerFirst(code)
			}
		default:
			ev.Type = headerString(msg.Headers, ":event-type")
		}
		return ev, nil
	}
	return newEventStream(provider, next, body)
}

func headerString(h eventstream.Headers, name string) string {
	v := h.Get(name)
	if v == nil {
		return ""
	}
	return v.String()
}

func lowerFirst(s string) string {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return s
	}
	return string(s[0]+('a'-'A')) + s[1:]
}

// Provider returns the wire protocol of the stream.
func (s *EventStream) Provider() adapters.Provider {
	return s.provider
}

// Next returns the next event. It returns io.EOF when the stream is
// complete and ctx.Err() once ctx is cancelled.
func (s *EventStream) Next(ctx context.Context) (adapters.StreamEvent, error) {
	if s.done {
		return adapters.StreamEvent{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return adapters.StreamEvent{}, err
	}

	ev, err := s.next()
	if err != nil {
		if err == io.EOF {
			s.done = true
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			return adapters.StreamEvent{}, ctxErr
		}
		return adapters.StreamEvent{}, err
	}
	return ev, nil
}

// Close releases the upstream body. It must be called even when
// iteration ended early.
func (s *EventStream) Close() error {
	s.done = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
