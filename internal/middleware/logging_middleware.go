package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/fg-server/internal/logging"
)

// TraceKey ключ trace-ID в gin.Context
const TraceKey = "trace_id"

// RequestLogger снабжает каждый запрос admin API trace-ID и пишет
// строку в лог компонента "api" по завершении.
type RequestLogger struct {
	logger *logging.Logger
}

func NewRequestLogger() *RequestLogger {
	return &RequestLogger{logger: logging.GetComponentLogger(logging.ComponentAPI)}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, если otelgin уже создал спан
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceKey, traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		l := rl.logger.WithField("trace", traceID)
		status := c.Writer.Status()
		if status >= 500 {
			l.Warn("%s %s %d %s ip=%s", c.Request.Method, path, status, time.Since(start), c.ClientIP())
			return
		}
		l.Debug("%s %s %d %s ip=%s", c.Request.Method, path, status, time.Since(start), c.ClientIP())
	}
}
