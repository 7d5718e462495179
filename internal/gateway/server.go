// Package gateway is the HTTP surface: OpenAI- and Anthropic-compatible
// endpoints over the cascade engine, with auth, demo quotas, metrics
// and billing wired in.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cascadeflow/gateway/internal/billing"
	"github.com/cascadeflow/gateway/internal/cascade"
	"github.com/cascadeflow/gateway/internal/config"
	"github.com/cascadeflow/gateway/internal/metrics"
	"github.com/cascadeflow/gateway/internal/models"
	"github.com/cascadeflow/gateway/internal/pricing"
	"github.com/cascadeflow/gateway/internal/proxy"
	"github.com/cascadeflow/gateway/internal/ratelimit"
	"github.com/cascadeflow/gateway/internal/tracking"
)

const (
	ModeMock  = "mock"
	ModeAgent = "agent"
)

const version = "0.4.0"

// Server owns the HTTP handler tree and all request-path services.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	mode      string
	registry  *models.Registry
	pricer    *pricing.Resolver
	router    *proxy.Router
	handler   *proxy.Handler
	engine    *cascade.Engine
	tracker   *tracking.Tracker
	collector *metrics.Collector
	limiter   ratelimit.Limiter
	reporter  *billing.Reporter

	// fallbackRate is the --token-cost per-1K rate for models the price
	// book does not know.
	fallbackRate *float64

	started    time.Time
	httpServer *http.Server
}

type Option func(*Server)

// WithEngine replaces the cascade engine, mainly for tests.
func WithEngine(e *cascade.Engine) Option {
	return func(s *Server) { s.engine = e }
}

func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithReporter(r *billing.Reporter) Option {
	return func(s *Server) { s.reporter = r }
}

func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector(),
		started:   time.Now(),
	}

	s.mode = cfg.Gateway.Mode
	if s.mode == "" || s.mode == "auto" {
		s.mode = ModeMock
		for _, route := range cfg.Routes {
			if route.APIKey != "" {
				s.mode = ModeAgent
				break
			}
		}
	}
	if s.mode != ModeMock && s.mode != ModeAgent {
		return nil, fmt.Errorf("unknown gateway mode %q", s.mode)
	}

	s.registry = models.NewRegistry(cfg.Models)
	for virtual, concrete := range cfg.VirtualModels {
		s.registry.SetVirtualModel(virtual, concrete)
	}

	s.pricer = pricing.NewResolver()
	if cfg.Gateway.TokenCost > 0 {
		rate := cfg.Gateway.TokenCost
		s.fallbackRate = &rate
	}

	trackerOpts := []tracking.Option{tracking.WithMaxEntries(cfg.Tracking.MaxEntries)}
	if len(cfg.Budgets) > 0 {
		trackerOpts = append(trackerOpts, tracking.WithBudgets(cfg.Budgets))
	}
	s.tracker = tracking.NewTracker(logger, trackerOpts...)
	if mode := tracking.EnforcementMode(cfg.Tracking.EnforcementMode); mode != "" && mode != tracking.ModeOff {
		s.tracker.SetEnforcement(mode, nil)
	}

	s.router = proxy.NewRouter(cfg.Routes, s.registry, cfg.Gateway.DefaultProvider)
	s.handler = proxy.NewHandler(s.pricer, logger, proxy.WithTracker(s.tracker))

	if cfg.Redis.URL != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.limiter = ratelimit.NewRedisLimiter(client, logger)
	} else {
		s.limiter = ratelimit.NewMemoryLimiter()
	}

	if cfg.Billing.Enabled() {
		s.reporter = billing.NewReporter(billing.NewClient(cfg.Billing, logger), logger)
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.engine == nil {
		engine, err := s.buildEngine()
		if err != nil {
			return nil, err
		}
		s.engine = engine
	}
	return s, nil
}

// buildEngine wires drafter and verifier completers for the active mode.
func (s *Server) buildEngine() (*cascade.Engine, error) {
	calc := cascade.NewCalculator(s.pricer)

	drafterName := s.cfg.Cascade.Drafter
	if drafterName == "" {
		if resolved, err := s.registry.Resolve(models.VirtualCheap); err == nil {
			drafterName = resolved
		} else {
			drafterName = s.cfg.Gateway.AdvertiseModel
		}
	}
	drafterCfg := s.modelConfig(drafterName)

	var engineOpts []cascade.EngineOption
	if s.cfg.Cascade.Threshold > 0 {
		threshold := s.cfg.Cascade.Threshold
		engineOpts = append(engineOpts, cascade.WithThreshold(func(tier, domain string) float64 {
			return threshold
		}))
	}

	var drafter cascade.Completer
	if s.mode == ModeMock {
		drafter = newMockCompleter(drafterName)
	} else {
		drafter = newUpstreamCompleter(drafterName, s.router, s.handler)
	}

	verifierName := s.cfg.Cascade.Verifier
	if verifierName == "" && s.cfg.Cascade.Enabled {
		if resolved, err := s.registry.Resolve(models.VirtualQuality); err == nil && resolved != drafterName {
			verifierName = resolved
		}
	}
	if verifierName != "" && verifierName != drafterName && s.mode == ModeAgent {
		verifier := newUpstreamCompleter(verifierName, s.router, s.handler)
		engineOpts = append(engineOpts, cascade.WithVerifier(verifier, s.modelConfig(verifierName)))
	}

	return cascade.NewEngine(drafter, drafterCfg, calc, s.logger, engineOpts...), nil
}

func (s *Server) modelConfig(name string) *models.ModelConfig {
	if cfg, ok := s.registry.Get(name); ok {
		return cfg
	}
	provider, _ := s.router.ParseModel(name)
	return &models.ModelConfig{Name: name, Provider: provider, Cost: s.cfg.Gateway.TokenCost}
}

// Routes assembles the chi handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.gatewayHeaders)

	if s.cfg.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{s.cfg.CORS.AllowOrigin},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}))
		r.Use(s.corsAlways)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware(familyOpenAI))
			r.Post("/chat/completions", s.handleChatCompletions)
			r.Post("/completions", s.handleCompletions)
			r.Post("/embeddings", s.handleEmbeddings)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware(familyAnthropic))
			r.Post("/messages", s.handleMessages)
		})
	})
	return r
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	s.logger.Info("gateway listening",
		zap.String("addr", addr),
		zap.String("mode", s.mode))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections and flushes pending billing reports.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.reporter != nil {
		if deadline, ok := ctx.Deadline(); ok {
			s.reporter.Flush(time.Until(deadline))
		} else {
			s.reporter.Flush(5 * time.Second)
		}
	}
	return err
}

func (s *Server) Mode() string { return s.mode }

// gatewayHeaders stamps every response with the gateway identity.
func (s *Server) gatewayHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Cascadeflow-Gateway", "cascadeflow")
		h.Set("X-Cascadeflow-Gateway-Mode", s.mode)
		h.Set("X-Cascadeflow-Gateway-Endpoint", r.URL.Path)
		family := familyOpenAI
		if strings.HasPrefix(r.URL.Path, "/v1/messages") {
			family = familyAnthropic
		}
		h.Set("X-Cascadeflow-Gateway-API", string(family))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) corsAlways(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORS.AllowOrigin)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"mode":    s.mode,
		"version": version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	token := s.cfg.Auth.StatsToken
	if token == "" {
		token = s.cfg.Auth.Token
	}
	if token != "" && bearerToken(r) != token {
		writeError(w, familyOpenAI, wireError{
			Status:     http.StatusUnauthorized,
			OpenAIType: "invalid_request_error", AnthropicType: "authentication_error",
			Message: "invalid or missing stats token",
		})
		return
	}
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	created := time.Now().Unix()
	var data []map[string]interface{}
	add := func(id string) {
		data = append(data, map[string]interface{}{
			"id":       id,
			"object":   "model",
			"created":  created,
			"owned_by": "cascadeflow",
		})
	}
	add(models.VirtualDefault)
	add(models.VirtualAuto)
	add(models.VirtualFast)
	add(models.VirtualQuality)
	add(models.VirtualCheap)
	for _, m := range s.registry.List() {
		add(m.Name)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
