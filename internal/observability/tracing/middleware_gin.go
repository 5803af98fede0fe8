package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/memberhub/internal/billingerror"
	obscontext "github.com/smallbiznis/memberhub/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// resourceAttrs maps route prefixes to the attribute carrying their :id.
var resourceAttrs = []struct {
	prefix string
	key    string
}{
	{"/v1/organizations/", "memberhub.organization_id"},
	{"/v1/packages/", "memberhub.package_id"},
	{"/v1/invoices/", "memberhub.invoice_id"},
}

// GinMiddleware starts a server span per request and tags it with the billing
// resource it touched and the billing error code it ended with.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(instrumentationName + "/http")
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + c.Request.Method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		}
		if requestID := obscontext.RequestIDFromContext(c.Request.Context()); requestID != "" {
			attrs = append(attrs, attribute.String("request_id", requestID))
		}
		if id := strings.TrimSpace(c.Param("id")); id != "" {
			for _, r := range resourceAttrs {
				if strings.HasPrefix(route, r.prefix) {
					attrs = append(attrs, attribute.String(r.key, id))
					break
				}
			}
		}

		lastErr := c.Errors.Last()
		if lastErr != nil {
			if be, ok := billingerror.As(lastErr.Err); ok {
				attrs = append(attrs, attribute.String("memberhub.billing_error", be.Code))
			}
		}
		span.SetAttributes(attrs...)

		if status >= http.StatusInternalServerError {
			if lastErr != nil {
				span.RecordError(lastErr.Err)
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
