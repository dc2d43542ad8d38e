package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/pkg/metrics"
)

// HTTP заголовки для трассировки.
const (
	HeaderTraceID       = "X-Trace-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// NewRouter создаёт Gin engine с маршрутами API аккаунтов.
func NewRouter(service string, accounts *AccountHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(service))
	engine.Use(metrics.GinMetricsMiddleware(service))
	engine.Use(requestIDs())

	v1 := engine.Group("/api/v1/accounts")
	v1.POST("", accounts.Register)
	v1.PUT("/:id/email", accounts.ChangeEmail)
	v1.POST("/:id/deactivate", accounts.Deactivate)

	return engine
}

// requestIDs кладёт trace_id и correlation_id в context запроса.
// Они попадают в headers записей outbox и в логи обработчиков событий.
func requestIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		ctx := logger.WithIDs(c.Request.Context(), traceID, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, traceID)
		c.Header(HeaderCorrelationID, correlationID)

		c.Next()
	}
}
