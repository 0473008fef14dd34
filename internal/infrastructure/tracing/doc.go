/*
Package tracing provides lightweight request tracing.

# Overview

Each HTTP request gets a span. Trace and span ids are prefixed ULIDs from
the shared id package, so they sort by creation time and can be read back
into a timestamp. Finished spans are logged through zap on a collector
goroutine.

# Usage

	tracer := tracing.New("kiosk", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "script.continuous")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Trace Format

Traces use HTTP headers for propagation:
- X-Trace-ID: Identifier for the entire request flow
- X-Span-ID: Identifier for the current operation

Incoming headers are honored, so a control panel can correlate its own
requests with server logs.
*/
package tracing
