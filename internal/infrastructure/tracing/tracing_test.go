package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/shared/id"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartSpan(t *testing.T) {
	tracer := New("test", nil)
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	assert.True(t, id.Valid(id.TracePrefix, string(root.TraceID)))
	assert.True(t, id.Valid(id.SpanPrefix, string(root.SpanID)))
	assert.Empty(t, root.ParentID)

	child, childCtx := tracer.StartSpan(ctx, "child")
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))
	assert.Equal(t, root.TraceID, GetTraceID(childCtx))
}

func TestSpanError(t *testing.T) {
	span := &Span{Tags: map[string]string{}}
	span.SetError(errors.New("boom"))
	assert.Equal(t, 500, span.StatusCode)

	span = &Span{Tags: map[string]string{}}
	span.SetStatus(503)
	span.SetError(errors.New("not ready"))
	assert.Equal(t, 503, span.StatusCode)
}

func TestTracerCloseFlushes(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("test", zap.New(core))

	for i := 0; i < 3; i++ {
		span, _ := tracer.StartSpan(context.Background(), "op")
		span.Finish()
		tracer.Submit(span)
	}
	tracer.Close()

	assert.Equal(t, 3, logs.FilterMessage("span completed").Len())

	// Submitting after close is a no-op.
	span, _ := tracer.StartSpan(context.Background(), "late")
	tracer.Submit(span)
	tracer.Close()
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("test", zap.New(core))

	var seen id.TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/api/scripts", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name     string
		incoming string
	}{
		{"new trace", ""},
		{"propagated trace", "trace_01HZX3M8N4V9D6QKJ2R7T5W1YB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/scripts", nil)
			if tt.incoming != "" {
				req.Header.Set(TraceHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			got := w.Header().Get(TraceHeader)
			assert.Equal(t, string(seen), got)
			assert.NotEmpty(t, w.Header().Get(SpanHeader))
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.True(t, id.Valid(id.TracePrefix, got))
			}
		})
	}

	tracer.Close()
	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "GET /api/scripts", entries[0].ContextMap()["operation"])
}
