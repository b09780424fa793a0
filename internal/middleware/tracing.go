package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/uicase/internal/tracing"
)

// TracingMiddleware opens a server span per request. The span is renamed to
// the matched gin route once the handler has run, so /v1/uicase/runs/:id
// stays one span name regardless of the id.
func TracingMiddleware() gin.HandlerFunc {
	tracer := tracing.Tracer("http")
	return func(c *gin.Context) {
		req := c.Request
		ctx, span := tracer.Start(tracing.ExtractHeaders(req.Context(), req.Header), req.Method+" "+req.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.path", req.URL.Path),
				attribute.String("client.address", c.ClientIP()),
			),
		)
		defer span.End()
		c.Request = req.WithContext(ctx)

		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetName(req.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if id := RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("uicase.request_id", id))
		}
		if runID := c.Writer.Header().Get("X-Run-Id"); runID != "" {
			span.SetAttributes(attribute.String("uicase.run_id", runID))
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
