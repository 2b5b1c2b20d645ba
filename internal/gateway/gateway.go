// Package gateway is the HTTP front of the provider gateway.
//
// DESIGN: One handler serves every protocol. The route picks a provider
// Factory; everything protocol-specific happens behind that interface:
//
//	request adapter → optional TOON compression → upstream client
//	  non-streaming: ResponseAdapter → policy → client
//	  streaming:     StreamAdapter.ProcessChunk per event → policy → sink
//
// Sinks are SSE over HTTP or text messages over a websocket; the frames
// are identical. Tool calls named in policy.blocked_tools are never
// released: the client receives a refusal in its own vendor grammar.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/provider-gateway/internal/compression"
	"github.com/compresr/provider-gateway/internal/config"
	"github.com/compresr/provider-gateway/internal/monitoring"
	"github.com/compresr/provider-gateway/internal/providers"
)

const (
	// HeaderRequestID carries the request id in and out of the gateway.
	HeaderRequestID = "X-Request-ID"

	// DefaultMaxBodySize limits inbound request bodies (50MB).
	DefaultMaxBodySize = 50 * 1024 * 1024

	// MaxRateLimitBuckets caps tracked client IPs.
	MaxRateLimitBuckets = 10000

	// compressionWorkers bounds concurrent compression passes.
	compressionWorkers = 16

	// refusalMessage is what clients see when policy blocks a tool call.
	refusalMessage = "This tool call was blocked by gateway policy."
)

// Options supplies the gateway's collaborators. Zero values pick defaults.
type Options struct {
	// Registry serves provider factories. Default: built from config.
	Registry *providers.Registry

	// Compressor runs the TOON stage. Default: the adapters' built-in stage.
	Compressor compression.Compressor

	// Transport is the upstream RoundTripper. Default: http.DefaultTransport.
	Transport http.RoundTripper

	// Logger receives request lifecycle and alert logs.
	Logger *monitoring.Logger

	Metrics *monitoring.MetricsCollector
	Tracker *monitoring.Tracker
}

// Gateway proxies LLM requests to their vendors.
type Gateway struct {
	config       *config.Config
	registry     *providers.Registry
	compressor   compression.Compressor
	compressPool *Pool
	transport    http.RoundTripper

	metrics       *monitoring.MetricsCollector
	alerts        *monitoring.AlertManager
	requestLogger *monitoring.RequestLogger
	tracker       *monitoring.Tracker
	rateLimiter   *rateLimiter

	handler http.Handler
	server  *http.Server
}

// New creates a gateway.
func New(cfg *config.Config, opts Options) *Gateway {
	if opts.Registry == nil {
		opts.Registry = providers.NewRegistry(cfg.Providers.BaseURLs())
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.New(cfg.Monitoring.Logger())
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetricsCollector()
	}

	g := &Gateway{
		config:        cfg,
		registry:      opts.Registry,
		compressor:    opts.Compressor,
		compressPool:  newPool(compressionWorkers),
		transport:     opts.Transport,
		metrics:       opts.Metrics,
		alerts:        monitoring.NewAlertManager(opts.Logger, cfg.Monitoring.Alerts()),
		requestLogger: monitoring.NewRequestLogger(opts.Logger),
		tracker:       opts.Tracker,
	}
	if cfg.Server.RateLimit > 0 {
		g.rateLimiter = newRateLimiter(cfg.Server.RateLimit)
	}
	g.handler = g.routes()
	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           g.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return g
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	if g.config.Monitoring.MetricsEnabled {
		mux.Handle("GET /metrics", g.metrics.Handler())
	}
	mux.HandleFunc("GET /v1/ws/{provider}", g.handleWebSocket)
	for _, pattern := range routePatterns {
		mux.HandleFunc("POST "+pattern, g.handleProxy)
	}

	var h http.Handler = mux
	h = g.security(h)
	h = g.loggingMiddleware(h)
	h = g.rateLimit(h)
	h = g.panicRecovery(h)
	return h
}

// Handler returns the gateway's root handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Metrics returns the collector serving /metrics.
func (g *Gateway) Metrics() *monitoring.MetricsCollector {
	return g.metrics
}

// Start listens on the configured port until Shutdown.
func (g *Gateway) Start() error {
	log.Info().
		Int("port", g.config.Server.Port).
		Interface("providers", g.registry.Providers()).
		Msg("gateway listening")

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.rateLimiter != nil {
		g.rateLimiter.close()
	}
	err := g.server.Shutdown(ctx)
	if cerr := g.tracker.Close(); err == nil {
		err = cerr
	}
	return err
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"providers": g.registry.Providers(),
	})
}

// gatewayError is the body of errors the gateway itself produces.
type gatewayError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// writeError writes a gateway error as JSON.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	var body gatewayError
	body.Error.Message = msg
	body.Error.Type = "gateway_error"

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (g *Gateway) maxBodySize() int64 {
	if g.config.Server.MaxBodySize > 0 {
		return g.config.Server.MaxBodySize
	}
	return DefaultMaxBodySize
}
