package gateway

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// sink receives the frames released by a stream adapter.
type sink interface {
	// start is called once before the first frame.
	start(headers map[string]string) error
	send(frame []byte) error
}

// sseSink writes frames to an HTTP response as server-sent events.
type sseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *sseSink) start(headers map[string]string) error {
	for k, v := range headers {
		s.w.Header().Set(k, v)
	}
	s.w.Header().Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

func (s *sseSink) send(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseSink) flush() error {
	if err := s.rc.Flush(); err != nil && err != http.ErrNotSupported {
		return err
	}
	return nil
}

// wsSink sends each frame as one websocket text message.
type wsSink struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s *wsSink) start(map[string]string) error { return nil }

func (s *wsSink) send(frame []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageText, frame)
}

// Ensure sinks implement sink
var (
	_ sink = (*sseSink)(nil)
	_ sink = (*wsSink)(nil)
)
