package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the HTTP server spans.
const TracerName = "github.com/kart-io/medrag/pkg/infra/middleware"

// TracingConfig defines the config for Tracing middleware.
type TracingConfig struct {
	// TracerProvider defaults to the otel global provider.
	TracerProvider trace.TracerProvider

	// Propagator defaults to the otel global propagator.
	Propagator propagation.TextMapPropagator

	// SkipPaths is a list of paths that get no span.
	SkipPaths []string
}

// DefaultTracingConfig is the default Tracing middleware config.
var DefaultTracingConfig = TracingConfig{
	SkipPaths: []string{"/health", "/metrics"},
}

// Tracing returns a middleware that starts a server span per request.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(DefaultTracingConfig)
}

// TracingWithConfig returns a Tracing middleware with custom config.
// The incoming W3C trace context, if any, becomes the parent span.
func TracingWithConfig(config TracingConfig) gin.HandlerFunc {
	skipPaths := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		tp := config.TracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		propagator := config.Propagator
		if propagator == nil {
			propagator = otel.GetTextMapPropagator()
		}

		req := c.Request
		ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

		route := c.FullPath()
		if route == "" {
			route = req.URL.Path
		}
		ctx, span := tp.Tracer(TracerName).Start(ctx, fmt.Sprintf("%s %s", req.Method, route),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(req.Method),
				semconv.HTTPRoute(route),
				semconv.HTTPTarget(req.URL.Path),
				semconv.UserAgentOriginal(req.UserAgent()),
			),
		)
		defer span.End()

		if requestID := GetRequestID(req.Context()); requestID != "" {
			span.SetAttributes(attribute.String("http.request_id", requestID))
		}

		c.Request = req.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
	}
}
