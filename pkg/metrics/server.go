package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/txoutbox/pkg/logger"
)

// ReadinessChecker — функция проверки готовности сервиса.
// Возвращает nil если сервис готов принимать трафик, иначе — ошибку.
type ReadinessChecker func(ctx context.Context) error

// StatusProvider возвращает состояние outbox для /outbox/status.
type StatusProvider func(ctx context.Context) (any, error)

// Server — служебный HTTP сервер на Gin.
type Server struct {
	httpServer     *http.Server
	engine         *gin.Engine
	service        string
	readinessCheck ReadinessChecker
	statusProvider StatusProvider
}

// Option — функциональная опция для настройки Server.
type Option func(*Server)

// WithReadinessCheck добавляет проверку готовности для /readyz.
// Если checker возвращает ошибку — /readyz вернёт 503 Service Unavailable.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// WithStatusProvider включает эндпоинт /outbox/status.
func WithStatusProvider(provider StatusProvider) Option {
	return func(s *Server) {
		s.statusProvider = provider
	}
}

// NewServer создаёт служебный сервер.
// addr — адрес для прослушивания (например ":9090"), service — имя для логов и метрик.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware(service), GinMetricsMiddleware(service))

	// /metrics — endpoint для Prometheus
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// /healthz — liveness probe: сервер отвечает = процесс жив
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})

	engine.GET("/readyz", s.handleReady)

	if s.statusProvider != nil {
		engine.GET("/outbox/status", s.handleOutboxStatus)
	}

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler возвращает HTTP handler сервера (для тестов и встраивания).
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleReady(c *gin.Context) {
	if s.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.readinessCheck(ctx); err != nil {
		// Детали ошибки наружу не отдаём
		logger.Warn().Err(err).Str("service", s.service).Msg("Readiness check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleOutboxStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := s.statusProvider(ctx)
	if err != nil {
		logger.Error().Err(err).Str("service", s.service).Msg("Ошибка получения состояния outbox")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "outbox status unavailable"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// Start запускает HTTP сервер. Блокирующий вызов — запускать в горутине.
func (s *Server) Start() error {
	log := logger.With().Str("service", s.service).Logger()
	log.Info().Str("addr", s.httpServer.Addr).Msg("Запуск служебного HTTP сервера")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GinMetricsMiddleware возвращает Gin middleware, считающий запросы по пути и статусу.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := StatusSuccess
		if c.Writer.Status() >= 400 {
			status = StatusError
		}

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		RequestsTotal.WithLabelValues(service, path, status).Inc()
	}
}
