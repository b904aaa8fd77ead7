package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

// Tracing returns a middleware that creates a server span for every
// request. A nil or disabled tracer makes it a pass-through.
func Tracing(tracer *observability.Tracer, skipPaths ...string) fiber.Handler {
	if !tracer.IsEnabled() {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		if skip[path] {
			return c.Next()
		}

		ctx := otel.GetTextMapPropagator().Extract(
			c.UserContext(),
			propagation.HeaderCarrier(c.GetReqHeaders()),
		)

		ctx, span := tracer.StartSpan(ctx, fmt.Sprintf("%s %s", c.Method(), path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(c.Method()),
				semconv.HTTPScheme(c.Protocol()),
				attribute.String("http.target", path),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)
		c.Locals("trace_span", span)
		if span.SpanContext().HasTraceID() {
			c.Set("X-Trace-ID", span.SpanContext().TraceID().String())
		}

		err := c.Next()

		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
		span.SetAttributes(
			semconv.HTTPStatusCode(status),
			attribute.Int("http.response_size", len(c.Response().Body())),
		)
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case status >= 400:
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		default:
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}

// GetTraceID returns the trace ID of the request span, if any
func GetTraceID(c *fiber.Ctx) string {
	span, ok := c.Locals("trace_span").(trace.Span)
	if !ok || !span.SpanContext().HasTraceID() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
