// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package studyapi assembles the writing-study backend.
//
// The service wires the event log, AI gateways, study flow controller and
// HTTP routes into one process:
//
//	┌───────────────── gin router ─────────────────┐
//	│ otelgin → RequestID → RequestMetrics → routes │
//	└──────┬──────────────┬─────────────────┬──────┘
//	       │              │                 │
//	  eventlog.Logger  gateway.*      eventlog.Exporter
//	       │              │                 │
//	  eventlog.Store ← Dispatcher       Mirror (GCS, optional)
//
// # Usage
//
//	cfg, err := config.Load("studyapi.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := studyapi.New(cfg, studyapi.Options{ConfigPath: "studyapi.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx) // returns after ctx is cancelled and shutdown drains
package studyapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/WritingStudy/services/llm"
	"github.com/AleutianAI/WritingStudy/services/studyapi/config"
	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
	"github.com/AleutianAI/WritingStudy/services/studyapi/gateway"
	"github.com/AleutianAI/WritingStudy/services/studyapi/middleware"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
	"github.com/AleutianAI/WritingStudy/services/studyapi/routes"
	"github.com/AleutianAI/WritingStudy/services/studyapi/study"
)

const (
	serviceName = "writingstudy-api"

	// shutdownTimeout bounds the whole drain: HTTP, dispatcher and mirror.
	shutdownTimeout = 20 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the study backend lifecycle.
//
// # Thread Safety
//
// Run must be called at most once.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// drains pending log writes and releases every resource.
	Run(ctx context.Context) error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine
}

// Options are the non-config collaborators of New.
type Options struct {
	// ConfigPath is watched for wave changes. Empty disables the watcher.
	ConfigPath string

	// Client replaces the OpenAI client. Tests inject a fake here.
	Client llm.LLMClient

	// Registerer receives the Prometheus collectors. Default: the global
	// registry, which /metrics serves.
	Registerer prometheus.Registerer

	// Uploader replaces the GCS uploader used by the mirror.
	Uploader eventlog.ObjectUploader

	Log *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config config.Config
	log    *slog.Logger

	router  *gin.Engine
	metrics *observability.Metrics

	store      *eventlog.Store
	logger     *eventlog.Logger
	dispatcher *eventlog.Dispatcher
	exporter   *eventlog.Exporter
	mirror     *eventlog.Mirror
	uploader   eventlog.ObjectUploader
	cache      *gateway.ReflectionCache
	wave       *config.WaveWatcher
	secret     *config.EnclaveSecret

	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New builds the service from cfg.
//
// # Description
//
// Initialization order:
//  1. Tracing (OTLP, stdout, or none)
//  2. Metrics
//  3. Event store, logger and dispatcher
//  4. Exporter and optional GCS mirror
//  5. Reflection cache and AI client
//  6. Gateways, study controller and routes
//
// Any failure releases what was already opened.
//
// # Inputs
//
//   - cfg: a validated configuration, normally from config.Load.
//   - opts: optional collaborators. The zero value is production.
//
// # Outputs
//
//   - Service: ready to Run.
//   - error: non-nil if a required component failed to start.
func New(cfg config.Config, opts Options) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &service{config: cfg, log: opts.Log}
	if s.log == nil {
		s.log = slog.Default()
	}

	cleanup, err := initTracer(cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	reg := opts.Registerer
	if reg == nil {
		s.metrics = observability.Default()
	} else {
		s.metrics = observability.NewMetrics(reg)
	}

	if err := s.initEventLog(opts.ConfigPath); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}
	if err := s.initMirror(opts.Uploader); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}
	if err := s.initCache(); err != nil {
		// The cache only saves AI calls; serve without it.
		s.log.Warn("service.cache_unavailable", "path", cfg.Cache.Path, "error", err)
	}

	client := opts.Client
	if client == nil {
		oc, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.OpenAI.APIKey,
			Model:        cfg.OpenAI.Model,
			BaseURL:      cfg.OpenAI.BaseURL,
			SystemPrompt: cfg.OpenAI.SystemPrompt,
		})
		if err != nil {
			s.cleanup(context.Background())
			return nil, fmt.Errorf("failed to initialize AI client: %w", err)
		}
		client = oc
	}

	if err := s.initRouter(client, reg != nil); err != nil {
		s.cleanup(context.Background())
		return nil, err
	}
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run serves until ctx is done, then shuts down in dependency order:
// HTTP first so no new events arrive, then the watcher, the dispatcher
// drain, the final mirror sync, and finally the store.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("service.started",
			"port", s.config.Port,
			"wave", s.wave.Wave(),
			"commit", s.config.Commit)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.wave.Start(gctx); err != nil {
			s.log.Warn("service.wave_watch_unavailable", "error", err)
		}
		return nil
	})
	if s.mirror != nil {
		g.Go(func() error {
			return s.mirror.Start(s.config.Mirror.Schedule)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("service.stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.cleanup(shutdownCtx)
	s.log.Info("service.stopped")
	return err
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initEventLog(configPath string) error {
	store, err := eventlog.OpenStore(s.config.LogsDir, s.log, s.metrics)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	s.store = store

	if configPath == "" {
		configPath = "."
	}
	s.wave = config.NewWaveWatcher(configPath, s.config.Wave, s.log)

	s.logger = eventlog.NewLogger(eventlog.LoggerConfig{
		Store:   store,
		Wave:    s.wave,
		Commit:  s.config.Commit,
		Log:     s.log,
		Metrics: s.metrics,
	})
	s.dispatcher = eventlog.NewDispatcher(s.logger, eventlog.DispatcherConfig{
		QueueSize: s.config.Dispatcher.QueueSize,
		Workers:   s.config.Dispatcher.Workers,
	})

	s.secret = config.NewEnclaveSecret(s.config.LogSecret)
	s.config.LogSecret = ""
	if !s.secret.Set() {
		s.log.Warn("service.log_secret_unset", "effect", "log polling and export are disabled")
	}
	s.exporter = eventlog.NewExporter(store, s.secret, s.log, s.metrics)
	return nil
}

func (s *service) initMirror(uploader eventlog.ObjectUploader) error {
	mc := s.config.Mirror
	if !mc.Enabled() {
		return nil
	}
	if uploader == nil {
		gcs, err := eventlog.NewGCSUploader(context.Background(), mc.Bucket, mc.CredentialsFile)
		if err != nil {
			return fmt.Errorf("failed to initialize log mirror: %w", err)
		}
		uploader = gcs
	}
	s.uploader = uploader
	s.mirror = eventlog.NewMirror(s.store, uploader, mc.Prefix, s.log)
	return nil
}

func (s *service) initCache() error {
	if s.config.Cache.Disabled {
		s.log.Info("service.cache_disabled")
		return nil
	}
	cc := gateway.DefaultCacheConfig(s.config.Cache.Path)
	if s.config.Cache.TTL > 0 {
		cc.TTL = s.config.Cache.TTL
	}
	cc.Logger = s.log
	cache, err := gateway.OpenReflectionCache(cc)
	if err != nil {
		return err
	}
	s.cache = cache
	return nil
}

func (s *service) initRouter(client llm.LLMClient, metricsIsolated bool) error {
	deps := gateway.Deps{
		Client:  client,
		Events:  s.dispatcher,
		Metrics: s.metrics,
		Log:     s.log,
	}
	t := s.config.Timeouts

	router := gin.New()
	// Rate limits key on the client IP, so forwarding headers are only
	// honored from configured proxies.
	if err := router.SetTrustedProxies(s.config.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestMetrics(s.metrics))

	routes.SetupRoutes(router, routes.Deps{
		Events:         s.logger,
		Suggester:      gateway.NewSuggestionGateway(deps, t.Suggestion),
		Reflector:      gateway.NewReflectionGateway(deps, s.cache, t.Reflection),
		Chat:           gateway.NewChatGateway(deps, t.Chat),
		Exporter:       s.exporter,
		Controller:     study.NewController(s.logger, s.log),
		Wave:           s.wave,
		Commit:         s.config.Commit,
		CompletionCode: s.config.CompletionCode,
		Limiter:        middleware.NewUserLimiter(s.config.RateLimit.PerSecond, s.config.RateLimit.Burst),
		Metrics:        s.metrics,
		Log:            s.log,
		MetricsEnabled: !metricsIsolated,
	})
	s.router = router
	return nil
}

// initTracer installs the global tracer provider.
//
// # Description
//
// endpoint selects the exporter: "" disables tracing, "stdout" pretty-prints
// spans, anything else is an OTLP gRPC collector address.
//
// # Limitations
//
//   - Uses an insecure gRPC connection (collector on the internal network).
func initTracer(endpoint string) (func(context.Context), error) {
	if endpoint == "" {
		return func(context.Context) {}, nil
	}
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	if endpoint == "stdout" {
		e, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = e
	} else {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		e, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = e
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// cleanup releases every initialized component. Safe on a partially built
// service.
func (s *service) cleanup(ctx context.Context) {
	if s.wave != nil {
		s.wave.Stop()
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(ctx); err != nil {
			s.log.Error("service.dispatcher_drain_failed", "error", err)
		}
	}
	if s.mirror != nil {
		if err := s.mirror.Stop(ctx); err != nil {
			s.log.Error("service.mirror_final_sync_failed", "error", err)
		}
	}
	if s.uploader != nil {
		if err := s.uploader.Close(); err != nil {
			s.log.Warn("service.uploader_close_failed", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warn("service.cache_close_failed", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Error("service.store_close_failed", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
}
