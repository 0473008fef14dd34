package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/KioskBridge/backend/internal/api/http"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/api/middleware"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/api/ws"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser/sandbox"
)

// navigationCheckTimeout bounds the probe run after a main-frame navigation.
const navigationCheckTimeout = 5 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	router   *gin.Engine
	http     *http.Server
	driver   browser.Driver
	executor *script.Executor
	tracer   *tracing.Tracer
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
}

// New wires the browser driver, script executor and HTTP API. The browser
// is not launched until Start.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("Initializing Kiosk Bridge",
		zap.String("addr", net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)),
		zap.String("driver", cfg.Browser.Driver),
		zap.String("browser", cfg.Browser.Type),
	)

	// Metrics first, every component records into them
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	tracer := tracing.New("kiosk-bridge", logger.Named("trace").Logger)

	driver := newDriver(cfg.Browser, logger.Named("browser").Logger, metrics)
	executor := script.NewExecutor(driver, logger.Named("script").Logger).
		WithMetrics(metrics).
		WithMaxActive(cfg.Script.MaxActive)

	// Page loss ends every running script
	driver.OnPageEvent(func(ev browser.PageEvent) {
		switch ev {
		case browser.PageNavigated:
			ctx, cancel := context.WithTimeout(context.Background(), navigationCheckTimeout)
			defer cancel()
			executor.HandleNavigation(ctx)
		case browser.PageClosed, browser.BrowserDisconnected:
			executor.HandlePageLost()
		}
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	if cfg.Server.APIKeyHash == "" {
		logger.Warn("API key not configured, control API is open")
	}
	auth := middleware.APIKey(cfg.Server.APIKeyHash, logger.Named("auth").Logger)

	handlers := apihttp.NewHandlers(driver, executor, logger.Named("http").Logger).
		WithTracer(tracer).
		WithMetrics(metrics)
	wsHandler := ws.NewHandler(driver, executor, logger.Named("ws").Logger).WithMetrics(metrics)

	api := handlers.Register(router, auth)
	api.GET("/scripts/stream", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logger.Info("Server initialized successfully")

	return &Server{
		config:   cfg,
		logger:   logger,
		router:   router,
		driver:   driver,
		executor: executor,
		tracer:   tracer,
		metrics:  metrics,
		registry: registry,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newDriver(cfg config.BrowserConfig, logger *zap.Logger, metrics *monitoring.Metrics) browser.Driver {
	if cfg.Driver == config.DriverSandbox {
		return sandbox.NewPage(sandbox.FromBrowserConfig(cfg), logger).WithMetrics(metrics)
	}
	return browser.NewManager(cfg, logger).WithMetrics(metrics)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Executor exposes the script executor.
func (s *Server) Executor() *script.Executor {
	return s.executor
}

// Start launches the browser. A failed launch is logged, not fatal: page
// operations retry it through EnsureReady.
func (s *Server) Start(ctx context.Context) {
	if err := s.driver.Init(ctx); err != nil {
		s.logger.Warn("Browser launch failed, will retry on demand", zap.Error(err))
		return
	}
	s.logger.Info("Browser ready", zap.Any("status", s.driver.Status()))
}

// Run starts the browser and serves HTTP until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, failed := <-errCh:
		shutdownErr := s.Shutdown(context.Background())
		if failed {
			return fmt.Errorf("http server: %w", err)
		}
		return shutdownErr
	}
}

// Shutdown stops accepting requests, stops every script, closes the
// browser and flushes logs. Scripts get at most Script.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	// Stop listening first. Open streams stay until their scripts close.
	httpDone := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Script.ShutdownTimeout+5*time.Second)
		defer cancel()
		httpDone <- s.http.Shutdown(shutdownCtx)
	}()

	stopCtx, cancel := context.WithTimeout(ctx, s.config.Script.ShutdownTimeout)
	stopped := s.executor.StopAll(stopCtx)
	cancel()
	s.logger.Info("Scripts stopped", zap.Int("count", stopped))

	var errs []error
	if err := <-httpDone; err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	s.tracer.Close()

	s.logger.Info("Shutdown complete")
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
