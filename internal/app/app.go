package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"almcli/internal/cache"
	"almcli/internal/config"
	apierrors "almcli/internal/errors"
	"almcli/internal/exporter"
	"almcli/internal/infrastructure"
	"almcli/internal/marketdata"
	customMiddleware "almcli/internal/middleware"
	"almcli/internal/services"
	handlers "almcli/internal/transport/http"
	ws "almcli/internal/websocket"
)

var (
	// Version is set at build time with -ldflags
	Version = config.AppVersion
	// BuildTime is set at build time with -ldflags
	BuildTime = ""
)

// runtimeInterval is how often runtime gauges are sampled
const runtimeInterval = 15 * time.Second

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Registry      *prometheus.Registry
	Metrics       *infrastructure.BusinessMetrics
	Collector     *infrastructure.RuntimeCollector
	Cache         cache.Cache
	WebSocketHub  *ws.Hub
	ReportService *services.ReportService
	HealthService *services.HealthService
	ErrorHandler  *apierrors.ErrorHandler
	Validator     *customMiddleware.Validator

	listener net.Listener
	serveErr chan error
	stopOnce sync.Once
	stopErr  error
}

// NewApplication loads the configuration and builds the application
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return New(ctx, cfg, logger)
}

// New wires every component from cfg. A nil logger means the process logger.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", Version))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	otelProviders, err := infrastructure.InitializeOTel(&infrastructure.OTelConfig{
		ServiceName:    config.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Registry:       registry,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Registry:      registry,
		ErrorHandler:  apierrors.NewErrorHandler(logger, cfg.Logging.Development),
	}
	app.Validator = customMiddleware.NewValidator(logger, app.ErrorHandler)

	if err := app.initializeServices(ctx); err != nil {
		app.shutdownPartial(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()
	return app, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices(ctx context.Context) error {
	metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create business metrics: %w", err)
	}
	a.Metrics = metrics

	collector, err := infrastructure.NewRuntimeCollector(a.OTelProviders.Meter, runtimeInterval)
	if err != nil {
		return fmt.Errorf("failed to create runtime collector: %w", err)
	}
	a.Collector = collector

	params, err := a.Config.Model.Parameters()
	if err != nil {
		return fmt.Errorf("failed to build model parameters: %w", err)
	}

	reportCache, err := cache.New(ctx, a.Config.Cache, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create report cache: %w", err)
	}
	a.Cache = reportCache

	hub := ws.NewHub(a.Logger)
	hub.Start()
	a.WebSocketHub = hub

	opts, err := a.Config.Model.EngineOptions()
	if err != nil {
		return fmt.Errorf("failed to configure engine: %w", err)
	}
	reportService, err := services.NewReportService(ctx, services.ReportServiceConfig{
		Parameters: params,
		Options:    opts,
		Loader:     marketdata.NewLoader(a.Config.Paths.DataDir, a.Config.Paths.DefaultMortality, a.Logger),
		Cache:      reportCache,
		Exporter:   exporter.NewExporter(a.Config.Paths.ExportDir, a.Logger),
		Publisher:  hub,
		Metrics:    metrics,
		Tracer:     a.OTelProviders.Tracer,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize report service: %w", err)
	}
	a.ReportService = reportService

	a.HealthService = services.NewHealthService(
		Version,
		BuildTime,
		a.Config.Paths,
		reportService,
		hub,
		collector,
		a.Logger,
	)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Order: RequestID → RealIP → OTel → Logger → Recoverer → Timeout
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// /ws and /metrics sit outside the API middleware group
	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.WebSocket, a.Config.Security.AllowedOrigins, a.Logger))
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics, a.Logger).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.ErrorHandler))
		r.Use(customMiddleware.Timeout(a.Config.Server.ReportTimeout, a.Logger))

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.corsConfig()))
		}
		r.Use(customMiddleware.DefaultSecureHeaders().Handler)
		if rl := a.Config.Security.RateLimit; rl.Enabled {
			r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.ErrorHandler, a.Logger).Handler)
		}
		r.Use(customMiddleware.AuditLog(a.Logger))
		r.Use(customMiddleware.ContentTypeValidator(a.ErrorHandler, "application/json"))
		r.Use(a.Validator.ValidateRequest)

		a.setupAPIRoutes(r)
	})

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		reportHandler := handlers.NewReportHandler(a.ReportService, a.Validator, a.Logger, a.ErrorHandler)
		r.Mount("/reports", reportHandler.Routes())
		r.Get("/summary", reportHandler.Summary)
		r.Mount("/exports", reportHandler.ExportRoutes())

		parametersHandler := handlers.NewParametersHandler(a.ReportService, a.Validator, a.Logger, a.ErrorHandler)
		r.Mount("/parameters", parametersHandler.Routes())
		r.Mount("/marketdata", parametersHandler.MarketDataRoutes())
	})
}

func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
			"X-Cache",
			"X-Request-ID",
		},
		MaxAge: 300,
		Logger: a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Start binds the listener and serves in the background. Serve errors are
// reported by Wait.
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln
	a.serveErr = make(chan error, 1)

	go a.Collector.Start(context.WithoutCancel(ctx))

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
		close(a.serveErr)
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", ln.Addr().String()),
		slog.String("data_dir", a.Config.Paths.DataDir),
		slog.String("cache", a.Config.Cache.Backend),
		slog.String("default_maturity", a.Config.Model.DefaultMaturity))
	return nil
}

// Addr is the bound listener address, or "" before Start
func (a *Application) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Wait blocks until ctx is done or the server fails
func (a *Application) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-a.serveErr:
		if ok && err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// Stop gracefully stops the application. Later calls return the first result.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.Logger.InfoContext(ctx, "Shutting down application")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
		a.shutdownPartial(shutdownCtx)

		a.stopErr = errors.Join(errs...)
		a.Logger.InfoContext(ctx, "Application shutdown complete")
	})
	return a.stopErr
}

// shutdownPartial releases whatever initializeServices managed to create
func (a *Application) shutdownPartial(ctx context.Context) {
	if a.WebSocketHub != nil {
		a.WebSocketHub.Stop()
	}
	if a.Collector != nil {
		a.Collector.Stop()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			infrastructure.WithError(a.Logger, err).ErrorContext(ctx, "Error closing report cache")
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			infrastructure.WithError(a.Logger, err).ErrorContext(ctx, "Error shutting down OpenTelemetry")
		}
	}
}

// Run serves until SIGINT, SIGTERM or a server failure, then shuts down
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.shutdownPartial(ctx)
		return err
	}

	waitErr := a.Wait(ctx)
	if waitErr == nil {
		a.Logger.InfoContext(ctx, "Received shutdown signal")
	}
	return errors.Join(waitErr, a.Stop(ctx))
}
