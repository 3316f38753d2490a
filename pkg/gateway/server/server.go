package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-voice-agents/pkg/gateway/config"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/handlers"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/mw"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/ratelimit"
)

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	mux       *http.ServeMux
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics

	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// New wires the gateway routes. lc may be nil when readiness draining is not
// needed.
func New(cfg config.Config, logger *slog.Logger, lc *lifecycle.Lifecycle) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if lc == nil {
		lc = &lifecycle.Lifecycle{}
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}

	var limiter *ratelimit.Limiter
	if cfg.LimitsEnabled() {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			SessionsPerMinute:     cfg.LimitSessionsPerMinute,
		})
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		lifecycle:  lc,
		metrics:    metrics.New(cfg.MetricsNamespace),
		httpClient: httpClient,
		limiter:    limiter,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle(handlers.RouteSession, handlers.SessionHandler{
		Config:     s.cfg,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
	s.mux.Handle(handlers.RouteResponses, handlers.ResponsesHandler{
		Config:     s.cfg,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) Lifecycle() *lifecycle.Lifecycle {
	return s.lifecycle
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, s.metrics, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics, h)
	h = mw.RequestID(h)
	return h
}
