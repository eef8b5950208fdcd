package middleware

import (
	"fmt"
	"net/http"
	"time"

	"viewmux/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware wraps each request in a span. Viewer and session
// path parameters are attached after the handler runs so per-stream
// traffic can be filtered in the trace backend.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		attrs := []attribute.KeyValue{
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
			attribute.Int("http.response_bytes", c.Writer.Size()),
			attribute.String("client.addr", c.ClientIP()),
		}
		if viewerID := c.Param("id"); viewerID != "" {
			attrs = append(attrs, attribute.String("viewmux.viewer_id", viewerID))
		}
		if sessionID := c.Param("camera"); sessionID != "" {
			attrs = append(attrs, attribute.String("viewmux.session_id", sessionID))
		}
		if userID, ok := c.Get("user_id"); ok {
			attrs = append(attrs, attribute.String("viewmux.user_id", fmt.Sprint(userID)))
		}
		span.SetAttributes(attrs...)

		if c.Writer.Status() >= http.StatusBadRequest {
			span.SetStatus(codes.Error, c.Errors.String())
		}
	}
}
