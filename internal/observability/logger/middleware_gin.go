package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/bigdeal/internal/observability/context"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	Debug bool
	// SlowThreshold raises successful requests slower than this to warn.
	// Zero disables it.
	SlowThreshold   time.Duration
	ErrorClassifier func(err error) (errorType string, errorCode string)
}

// GinMiddleware tags the request context with the request and scenario ids
// and writes one entry per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = obscontext.WithScenarioID(ctx, c.Param("scenario_id"))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		entry := requestEntry{
			route:   route,
			status:  c.Writer.Status(),
			elapsed: elapsed,
			fields: []zap.Field{
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("route", route),
				zap.Int("status", c.Writer.Status()),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
				zap.Int("bytes_out", size),
			},
		}
		if members := c.Query("members"); members != "" {
			entry.fields = append(entry.fields, zap.String("members", members))
		}
		if last := c.Errors.Last(); last != nil {
			entry.failed = true
			entry.fields = append(entry.fields, errorFields(cfg, last.Err)...)
		}

		entry.write(FromContext(c.Request.Context()), cfg.SlowThreshold)
	}
}

type requestEntry struct {
	route   string
	status  int
	elapsed time.Duration
	failed  bool
	fields  []zap.Field
}

func (e requestEntry) write(log *zap.Logger, slow time.Duration) {
	if log == nil {
		return
	}
	switch {
	case e.route == "/health" || e.route == "/metrics":
		log.Debug("http_request", e.fields...)
	case e.status >= http.StatusInternalServerError:
		log.Error("http_request", e.fields...)
	case slow > 0 && e.elapsed > slow && !e.failed:
		log.Warn("slow_http_request", e.fields...)
	default:
		log.Info("http_request", e.fields...)
	}
}

func errorFields(cfg MiddlewareConfig, err error) []zap.Field {
	var errorType, errorCode string
	if cfg.ErrorClassifier != nil {
		errorType, errorCode = cfg.ErrorClassifier(err)
	}
	fields := []zap.Field{
		zap.String("error_type", errorType),
		zap.String("error_code", errorCode),
	}
	if cfg.Debug {
		fields = append(fields, zap.Stack("stack"))
	}
	return fields
}

// requestIDFor reuses an inbound X-Request-Id and echoes it back.
func requestIDFor(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if id == "" {
		id = strings.TrimSpace(c.GetString("request_id"))
	}
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header(requestIDHeader, id)
	return id
}
