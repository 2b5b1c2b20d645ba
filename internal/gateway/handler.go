package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/compresr/provider-gateway/external"
	"github.com/compresr/provider-gateway/internal/adapters"
	"github.com/compresr/provider-gateway/internal/monitoring"
	"github.com/compresr/provider-gateway/internal/providers"
)

// forwardedHeaders are copied from the client to the upstream request.
var forwardedHeaders = []string{
	"anthropic-version",
	"anthropic-beta",
	"OpenAI-Organization",
	"OpenAI-Project",
}

// requestError is a failure before the upstream call, with the status to
// answer with.
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// handleProxy serves every POST provider route.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	rt, ok := resolveRoute(r.URL.EscapedPath())
	if !ok {
		g.writeError(w, "unknown route", http.StatusNotFound)
		return
	}

	rc := NewRequestContext(monitoring.RequestIDFromContext(r.Context()), rt.provider, ChannelHTTP)
	rc.Method = r.Method
	rc.Path = r.URL.Path
	rc.Correlation = monitoring.CorrelationFromContext(r.Context())
	defer g.finish(r.Context(), rc)

	body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBodySize()+1))
	if err != nil {
		g.fail(w, rc, &requestError{http.StatusBadRequest, fmt.Errorf("reading request body: %w", err)})
		return
	}
	if int64(len(body)) > g.maxBodySize() {
		g.fail(w, rc, &requestError{http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", g.maxBodySize())})
		return
	}
	rc.RequestSize = len(body)

	if err := g.prepare(r.Context(), rc, rt, body, r.Header, r.URL.Query()); err != nil {
		g.fail(w, rc, err)
		return
	}

	if rc.Stream {
		g.serveStream(r.Context(), w, rc)
		return
	}
	g.serveOnce(r.Context(), w, rc)
}

// prepare builds the request adapter, runs compression and creates the
// upstream client.
func (g *Gateway) prepare(ctx context.Context, rc *RequestContext, rt route, body []byte, h http.Header, q url.Values) error {
	factory, err := g.registry.Get(rt.provider)
	if err != nil {
		return &requestError{http.StatusNotFound, err}
	}
	rc.Factory = factory

	var opts []adapters.Option
	if g.compressor != nil {
		opts = append(opts, adapters.WithCompressor(g.compressor))
	}
	req, err := factory.NewRequestAdapter(body, opts...)
	if err != nil {
		g.alerts.FlagInvalidRequest(rc.RequestID, err.Error())
		return &requestError{http.StatusBadRequest, err}
	}
	if rt.model != "" {
		req.SetModel(rt.model)
	}
	rc.Adapter = req
	rc.Stream = rt.isStream(body)

	if g.config.Compression.Active() {
		start := time.Now()
		res := g.compressPool.compress(req)
		rc.Compression = &res
		rc.CompressionTime = time.Since(start)
		g.requestLogger.LogCompression(&monitoring.CompressionInfo{
			RequestID:    rc.RequestID,
			Provider:     string(rc.Provider),
			Model:        req.Model(),
			TokensBefore: res.TokensBefore,
			TokensAfter:  res.TokensAfter,
			CostSavings:  res.CostSavings,
			CostStatus:   string(res.CostStatus),
			Duration:     rc.CompressionTime,
		})
	}

	client, err := g.createClient(factory, h, q)
	if err != nil {
		return &requestError{http.StatusUnauthorized, err}
	}
	rc.Client = client

	g.requestLogger.LogOutgoing(&monitoring.OutgoingRequestInfo{
		RequestID: rc.RequestID,
		Provider:  string(rc.Provider),
		Span:      factory.SpanName(),
		BaseURL:   client.BaseURL(),
		Model:     req.Model(),
		Stream:    rc.Stream,
		BodySize:  len(body),
	})
	monitoring.FromContext(ctx).Debug().
		Str("provider", string(rc.Provider)).
		Str("model", req.Model()).
		Bool("stream", rc.Stream).
		Msg("request prepared")
	return nil
}

// createClient builds an upstream client with the caller's credentials.
func (g *Gateway) createClient(factory providers.Factory, h http.Header, q url.Values) (*providers.Client, error) {
	p := factory.Provider()
	pc := g.config.Providers.Get(p)

	apiKey := factory.ExtractAPIKey(h)
	if apiKey == "" && p == adapters.ProviderGemini {
		apiKey = providers.GeminiQueryKey(q)
	}

	opts := providers.ClientOptions{
		Timeout:   pc.Timeout,
		Headers:   make(map[string]string, len(pc.Headers)+len(forwardedHeaders)),
		Transport: g.transport,
	}
	for _, name := range forwardedHeaders {
		if v := h.Get(name); v != "" {
			opts.Headers[name] = v
		}
	}
	for k, v := range pc.Headers {
		opts.Headers[k] = v
	}

	if p == adapters.ProviderBedrock {
		creds := providers.BedrockCredentials(h)
		if creds.Region == "" {
			creds.Region = pc.Region
		}
		if creds.Region == "" {
			creds.Region = external.DefaultBedrockRegion
		}
		opts.AWS = creds
	}

	return factory.CreateClient(apiKey, opts)
}

// serveOnce forwards a non-streaming request.
func (g *Gateway) serveOnce(ctx context.Context, w http.ResponseWriter, rc *RequestContext) {
	start := time.Now()
	out, err := rc.Factory.Execute(ctx, rc.Client, rc.Adapter)
	rc.UpstreamTime = time.Since(start)
	if err != nil {
		g.fail(w, rc, err)
		return
	}

	resp, err := rc.Factory.NewResponseAdapter(out)
	if err != nil {
		monitoring.FromContext(ctx).Debug().Err(err).Msg("unreadable upstream response, passing through")
		g.writeJSON(w, rc, out)
		return
	}
	rc.fromResponse(resp)

	if blocked := g.blockedCalls(resp.ToolCalls()); len(blocked) > 0 {
		g.recordBlocked(rc, blocked)
		refusal, rerr := resp.ToRefusalResponse(refusalMessage, refusalMessage)
		if rerr != nil {
			g.fail(w, rc, fmt.Errorf("building refusal: %w", rerr))
			return
		}
		out = refusal
	}
	g.writeJSON(w, rc, out)
}

// serveStream forwards a streaming request as SSE.
func (g *Gateway) serveStream(ctx context.Context, w http.ResponseWriter, rc *RequestContext) {
	start := time.Now()
	stream, err := rc.Factory.ExecuteStream(ctx, rc.Client, rc.Adapter)
	if err != nil {
		rc.UpstreamTime = time.Since(start)
		g.fail(w, rc, err)
		return
	}
	defer stream.Close()

	g.pump(ctx, rc, stream, newSSESink(w))
	rc.UpstreamTime = time.Since(start)
}

// pump folds stream events through a fresh StreamAdapter and writes what
// it releases to snk. Newly finalized tool calls are checked against
// policy before their frames are written.
func (g *Gateway) pump(ctx context.Context, rc *RequestContext, stream *providers.EventStream, snk sink) {
	sa := rc.Factory.NewStreamAdapter()
	if err := snk.start(sa.SSEHeaders()); err != nil {
		rc.Err = err
		return
	}
	defer rc.fromStream(sa)

	released := 0
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			rc.Err = err
			monitoring.FromContext(ctx).Debug().Err(err).Msg("stream ended early")
			return
		}

		res := sa.ProcessChunk(ev)
		if res.Withheld() {
			rc.Withheld++
			g.metrics.RecordWithheld(string(rc.Provider))
			if res.IsFinal {
				return
			}
			continue
		}

		calls := sa.ToolCalls()
		if blocked := g.blockedCalls(calls[released:]); len(blocked) > 0 {
			g.recordBlocked(rc, blocked)
			if err := snk.send(sa.FormatCompleteTextSSE(refusalMessage)); err == nil {
				_ = snk.send(sa.FormatEndSSE())
			}
			return
		}
		released = len(calls)

		if err := snk.send(res.SSEData); err != nil {
			rc.Err = err
			return
		}
		rc.Forwarded++
		rc.ResponseSize += len(res.SSEData)
		if res.IsFinal {
			return
		}
	}
}

// blockedCalls returns the calls refused by policy.
func (g *Gateway) blockedCalls(calls []adapters.CommonToolCall) []adapters.CommonToolCall {
	var blocked []adapters.CommonToolCall
	for _, c := range calls {
		if g.config.Policy.IsBlocked(c.Name) {
			blocked = append(blocked, c)
		}
	}
	return blocked
}

func (g *Gateway) recordBlocked(rc *RequestContext, blocked []adapters.CommonToolCall) {
	for _, c := range blocked {
		rc.Blocked = append(rc.Blocked, c.Name)
		g.metrics.RecordBlockedTool(string(rc.Provider), c.Name)
		g.alerts.FlagBlockedTool(rc.RequestID, string(rc.Provider), c.Name, c.ID)
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, rc *RequestContext, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(body)
	rc.StatusCode = http.StatusOK
	rc.ResponseSize = n
}

// fail answers with the status that matches err. Vendor errors are
// relayed with the vendor's status and body so SDK clients can parse them.
func (g *Gateway) fail(w http.ResponseWriter, rc *RequestContext, err error) {
	rc.Err = err

	var reqErr *requestError
	var apiErr *providers.APIError
	switch {
	case errors.As(err, &reqErr):
		rc.StatusCode = reqErr.status
		g.writeError(w, reqErr.Error(), reqErr.status)

	case errors.As(err, &apiErr):
		rc.StatusCode = apiErr.StatusCode
		g.metrics.RecordUpstreamError(string(rc.Provider), apiErr.StatusCode)
		msg := rc.Factory.ExtractErrorMessage(err)
		g.alerts.FlagProviderError(rc.RequestID, string(rc.Provider), apiErr.StatusCode, msg)
		if apiErr.IsRateLimited() {
			g.metrics.RecordUpstreamRateLimited(string(rc.Provider))
			if apiErr.RetryAfter != "" {
				w.Header().Set("Retry-After", apiErr.RetryAfter)
			}
		}
		if !apiErr.Relayable() {
			g.writeError(w, msg, apiErr.StatusCode)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		_, _ = w.Write(apiErr.Body)

	case errors.Is(err, context.DeadlineExceeded):
		rc.StatusCode = http.StatusGatewayTimeout
		g.metrics.RecordUpstreamError(string(rc.Provider), 0)
		g.alerts.FlagUpstreamTimeout(rc.RequestID, string(rc.Provider), g.config.Providers.Get(rc.Provider).Timeout)
		g.writeError(w, "upstream timeout", http.StatusGatewayTimeout)

	default:
		rc.StatusCode = http.StatusBadGateway
		g.metrics.RecordUpstreamError(string(rc.Provider), 0)
		msg := err.Error()
		if rc.Factory != nil {
			msg = rc.Factory.ExtractErrorMessage(err)
		}
		g.alerts.FlagProviderError(rc.RequestID, string(rc.Provider), 0, msg)
		g.writeError(w, msg, http.StatusBadGateway)
	}
}

// finish records metrics and telemetry for a completed request.
func (g *Gateway) finish(ctx context.Context, rc *RequestContext) {
	p := string(rc.Provider)
	latency := time.Since(rc.ReceivedAt)

	g.metrics.RecordRequest(p, rc.Stream, rc.StatusCode, latency)
	g.metrics.RecordToolCalls(p, rc.ToolCalls)
	if rc.Compression != nil {
		g.metrics.RecordCompression(p, rc.Compression.TokensBefore, rc.Compression.TokensAfter, rc.Compression.CostSavings)
	}
	if rc.Stream {
		g.metrics.RecordFirstChunk(p, rc.FirstChunk)
		g.requestLogger.LogStreamEnd(&monitoring.StreamEndInfo{
			RequestID:  rc.RequestID,
			Provider:   p,
			StopReason: rc.StopReason,
			ToolCalls:  rc.ToolCalls,
			Withheld:   rc.Withheld,
			Forwarded:  rc.Forwarded,
			FirstChunk: rc.FirstChunk,
		})
	}
	g.alerts.FlagHighLatency(rc.RequestID, latency, p, rc.Path)
	g.tracker.RecordRequest(rc.Event())

	if rc.Err != nil {
		monitoring.FromContext(ctx).Debug().Err(rc.Err).Str("provider", p).Int("status", rc.StatusCode).Msg("request failed")
	}
}
