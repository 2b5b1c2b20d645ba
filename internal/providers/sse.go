package providers

import (
	"bufio"
	"io"
	"strings"

	"github.com/compresr/provider-gateway/internal/adapters"
)

// maxSSELine bounds one SSE line; long tool-argument deltas fit well within it.
const maxSSELine = 64 * 1024

// SSEScanner reads Server-Sent Events from an io.Reader.
//
// Events are delimited by blank lines. "data:" lines carry the payload and
// are joined with "\n"; "event:" sets the type. Comment lines (":") and
// unknown fields are ignored. A trailing event without a final blank line is
// still emitted at EOF.
type SSEScanner struct {
	reader  *bufio.Reader
	current adapters.StreamEvent
	err     error
}

// NewSSEScanner creates a scanner that reads SSE events from r.
func NewSSEScanner(r io.Reader) *SSEScanner {
	return &SSEScanner{
		reader: bufio.NewReaderSize(r, maxSSELine),
	}
}

// Next advances to the next event. It returns false at EOF or on error;
// use Err to tell them apart.
func (s *SSEScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = adapters.StreamEvent{}

	var (
		data      []string
		eventType string
		hasData   bool
	)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				s.current = adapters.StreamEvent{Type: eventType, Data: []byte(strings.Join(data, "\n"))}
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				s.current = adapters.StreamEvent{Type: eventType, Data: []byte(strings.Join(data, "\n"))}
				return true
			}
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			eventType = value
		}

		// A final line without newline ends the stream after this event.
		if err != nil {
			s.err = err
			if hasData {
				s.current = adapters.StreamEvent{Type: eventType, Data: []byte(strings.Join(data, "\n"))}
				return true
			}
			return false
		}
	}
}

// Event returns the event parsed by the last successful Next.
func (s *SSEScanner) Event() adapters.StreamEvent {
	return s.current
}

// Err returns the first non-EOF error.
func (s *SSEScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
