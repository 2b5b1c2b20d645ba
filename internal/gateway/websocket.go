package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/compresr/provider-gateway/internal/adapters"
	"github.com/compresr/provider-gateway/internal/monitoring"
	"github.com/compresr/provider-gateway/internal/providers"
)

// maxCloseReason is the websocket limit on close reason length.
const maxCloseReason = 123

// handleWebSocket serves GET /v1/ws/{provider}. The first client message
// is the vendor request body; the response always streams, one text
// message per frame, and the server closes the connection when done.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	p := adapters.ProviderFromString(r.PathValue("provider"))
	if _, err := g.registry.Get(p); err != nil {
		g.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		monitoring.FromContext(r.Context()).Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(g.maxBodySize())

	ctx := r.Context()
	rc := NewRequestContext(monitoring.RequestIDFromContext(ctx), p, ChannelWebSocket)
	rc.Method = r.Method
	rc.Path = r.URL.Path
	rc.Correlation = monitoring.CorrelationFromContext(ctx)
	defer g.finish(ctx, rc)

	_, body, err := conn.Read(ctx)
	if err != nil {
		rc.Err = err
		rc.StatusCode = http.StatusBadRequest
		return
	}
	rc.RequestSize = len(body)

	if err := g.prepare(ctx, rc, route{provider: p, stream: streamAlways}, body, r.Header, r.URL.Query()); err != nil {
		g.failWebSocket(conn, rc, err)
		return
	}
	rc.Stream = true

	stream, err := rc.Factory.ExecuteStream(ctx, rc.Client, rc.Adapter)
	if err != nil {
		g.failWebSocket(conn, rc, err)
		return
	}
	defer stream.Close()

	g.pump(ctx, rc, stream, &wsSink{ctx: ctx, conn: conn})
	if rc.Err != nil {
		_ = conn.Close(websocket.StatusInternalError, closeReason(rc.Err.Error()))
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// failWebSocket sends the error as a JSON message and closes the
// connection. Vendor errors keep the vendor body.
func (g *Gateway) failWebSocket(conn *websocket.Conn, rc *RequestContext, err error) {
	rc.Err = err

	var (
		reqErr *requestError
		apiErr *providers.APIError
		body   []byte
		code   = websocket.StatusInternalError
	)
	switch {
	case errors.As(err, &reqErr):
		rc.StatusCode = reqErr.status
		body = wsErrorBody(reqErr.Error())
		code = websocket.StatusPolicyViolation
	case errors.As(err, &apiErr):
		rc.StatusCode = apiErr.StatusCode
		msg := rc.Factory.ExtractErrorMessage(err)
		body = apiErr.Body
		if !apiErr.Relayable() {
			body = wsErrorBody(msg)
		}
		g.metrics.RecordUpstreamError(string(rc.Provider), apiErr.StatusCode)
		if apiErr.IsRateLimited() {
			g.metrics.RecordUpstreamRateLimited(string(rc.Provider))
		}
		g.alerts.FlagProviderError(rc.RequestID, string(rc.Provider), apiErr.StatusCode, msg)
	default:
		rc.StatusCode = http.StatusBadGateway
		body = wsErrorBody(err.Error())
		g.metrics.RecordUpstreamError(string(rc.Provider), 0)
	}

	ctx := context.Background()
	_ = conn.Write(ctx, websocket.MessageText, body)
	_ = conn.Close(code, closeReason(err.Error()))
}

func wsErrorBody(msg string) []byte {
	var body gatewayError
	body.Error.Message = msg
	body.Error.Type = "gateway_error"
	out, _ := json.Marshal(body)
	return out
}

func closeReason(s string) string {
	if len(s) > maxCloseReason {
		return s[:maxCloseReason]
	}
	return s
}
