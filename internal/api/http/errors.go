package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("invalid request")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, script.ErrEmptyScript):
		return http.StatusBadRequest
	case errors.Is(err, script.ErrTooManyScripts):
		return http.StatusTooManyRequests
	case errors.Is(err, browser.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, browser.ErrNotReady),
		errors.Is(err, script.ErrPageClosed),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", code),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
