package http

import (
	"context"
	"net/http"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	driver   browser.Driver
	executor *script.Executor
	tracer   *tracing.Tracer
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	// readyTimeout bounds browser recovery before an operation.
	readyTimeout time.Duration
}

// NewHandlers creates a new handler set
func NewHandlers(driver browser.Driver, executor *script.Executor, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		driver:       driver,
		executor:     executor,
		logger:       logger,
		readyTimeout: 60 * time.Second,
	}
}

// WithTracer records a span per continuous stream.
func (h *Handlers) WithTracer(tracer *tracing.Tracer) *Handlers {
	h.tracer = tracer
	return h
}

// WithMetrics adds the metrics snapshot to the health report.
func (h *Handlers) WithMetrics(metrics *monitoring.Metrics) *Handlers {
	h.metrics = metrics
	return h
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Kiosk Bridge",
		"version": Version,
	})
}

// Health reports browser and script state. It is 503 while the browser has
// no usable page so orchestrators can restart the container.
func (h *Handlers) Health(c *gin.Context) {
	status := h.driver.Status()

	body := gin.H{
		"status":  "healthy",
		"browser": status,
		"scripts": h.executor.Stats(),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}

	code := http.StatusOK
	if !status.Ready {
		body["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}

// ready brings the browser up before a page operation.
func (h *Handlers) ready(c *gin.Context) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.readyTimeout)
	defer cancel()

	if err := h.driver.EnsureReady(ctx); err != nil {
		h.respondError(c, err)
		return false
	}
	return true
}

func ok(c *gin.Context, extra gin.H) {
	body := gin.H{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
