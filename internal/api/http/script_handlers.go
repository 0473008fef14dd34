package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/shared/id"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ScriptIDHeader names the response header carrying a continuous script id.
const ScriptIDHeader = "X-Script-Id"

// heartbeatInterval keeps idle streams open through proxies.
var heartbeatInterval = 15 * time.Second

type executeRequest struct {
	Script string `json:"script" binding:"required"`
}

// Execute runs a script once and returns its value
func (h *Handlers) Execute(c *gin.Context) {
	var req executeRequest
	if err := bind(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if !h.ready(c) {
		return
	}

	result, err := h.executor.Execute(c.Request.Context(), req.Script)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, gin.H{"result": result})
}

// ExecuteContinuous starts a long-running script and streams everything it
// sends as server-sent events. Closing the request stops the script.
func (h *Handlers) ExecuteContinuous(c *gin.Context) {
	var req executeRequest
	if err := bind(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if !h.ready(c) {
		return
	}

	ctx := c.Request.Context()
	ch, err := h.executor.ExecuteContinuous(ctx, req.Script)
	if err != nil {
		h.respondError(c, err)
		return
	}

	scriptID := ch.ScriptID()
	log := h.logger.With(zap.String("script_id", scriptID))
	if h.tracer != nil {
		span, _ := h.tracer.StartSpan(ctx, "script.continuous")
		span.SetTag("script_id", scriptID)
		defer func() {
			span.SetTag("reason", string(ch.Reason()))
			span.Finish()
			h.tracer.Submit(span)
		}()
	}

	c.Header(ScriptIDHeader, scriptID)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	events := ch.Events()
	for {
		select {
		case ev, open := <-events:
			if !open {
				c.SSEvent("end", gin.H{"scriptId": scriptID, "reason": ch.Reason()})
				c.Writer.Flush()
				log.Info("Continuous stream ended", zap.String("reason", string(ch.Reason())))
				return
			}
			frame, err := sonic.MarshalString(ev)
			if err != nil {
				frame = fmt.Sprintf(`{"data":{"error":%q},"scriptId":%q}`, err.Error(), scriptID)
			}
			c.SSEvent("message", frame)
			c.Writer.Flush()

		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				ch.Close(script.ReasonDisconnected)
				return
			}
			c.Writer.Flush()

		case <-ctx.Done():
			ch.Close(script.ReasonDisconnected)
			log.Info("Stream client disconnected")
			return
		}
	}
}

// ListScripts lists running continuous scripts
func (h *Handlers) ListScripts(c *gin.Context) {
	ok(c, gin.H{
		"scripts": h.executor.List(),
		"stats":   h.executor.Stats(),
	})
}

// StopScript stops a continuous script. success is false when it was not
// running.
func (h *Handlers) StopScript(c *gin.Context) {
	scriptID := c.Param("id")
	if !id.Valid(id.ScriptPrefix, scriptID) {
		h.respondError(c, fmt.Errorf("%w: malformed script id %q", errBadRequest, scriptID))
		return
	}

	stopped := h.executor.StopScript(c.Request.Context(), scriptID)
	c.JSON(http.StatusOK, gin.H{
		"success":  stopped,
		"scriptId": scriptID,
	})
}
