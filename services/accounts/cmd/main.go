// Accounts Service — пример сервиса на transactional outbox.
// Изменения аккаунтов и их события фиксируются одной транзакцией MySQL,
// фоновый воркер доставляет события подписчикам (аудит, Kafka).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/txoutbox/pkg/circuitbreaker"
	"example.com/txoutbox/pkg/config"
	dbpkg "example.com/txoutbox/pkg/db"
	"example.com/txoutbox/pkg/event"
	"example.com/txoutbox/pkg/eventbus"
	"example.com/txoutbox/pkg/healthcheck"
	"example.com/txoutbox/pkg/idempotency"
	"example.com/txoutbox/pkg/kafka"
	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/pkg/metrics"
	"example.com/txoutbox/pkg/outbox"
	"example.com/txoutbox/pkg/relay"
	"example.com/txoutbox/pkg/tracing"
	"example.com/txoutbox/pkg/uow"
	"example.com/txoutbox/services/accounts/internal/consumer"
	"example.com/txoutbox/services/accounts/internal/domain"
	"example.com/txoutbox/services/accounts/internal/handler"
	"example.com/txoutbox/services/accounts/internal/repository"
	"example.com/txoutbox/services/accounts/internal/service"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: cfg.App.Name,
	})
	log := logger.Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Accounts Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Jaeger.OTLPEndpoint(),
		Environment: cfg.App.Env,
		SampleRatio: cfg.Jaeger.SampleRatio,
		Enabled:     cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(ctx, cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	if cfg.MySQL.AutoMigrate {
		if err := dbpkg.Migrate(db, &repository.AccountModel{}); err != nil {
			log.Fatal().Err(err).Msg("Ошибка миграции")
		}
	}

	rdb, err := dbpkg.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()

	checks := []healthcheck.Check{healthcheck.MySQL(db), healthcheck.Redis(rdb)}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}
		defer func() {
			if err := producer.Close(); err != nil {
				log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
			}
		}()
		checks = append(checks, healthcheck.Kafka(cfg.Kafka.Brokers))
	}

	// === Outbox: реестр, шина, подписчики ===

	registry := event.NewRegistry()
	if err := domain.RegisterEvents(registry); err != nil {
		log.Fatal().Err(err).Msg("Ошибка регистрации событий")
	}

	bus := eventbus.New(outbox.NewStore(db), registry)

	var forwarder *consumer.KafkaForwarder
	if producer != nil {
		forwarder = consumer.NewKafkaForwarder(producer, circuitbreaker.New("kafka"), cfg.Kafka.Topic)
	}
	guard := idempotency.NewGuard(rdb,
		idempotency.WithTTL(cfg.Outbox.IdempotencyTTL),
		idempotency.WithLeaseTTL(cfg.Outbox.IdempotencyLeaseTTL),
	)
	consumer.Subscribe(bus, consumer.NewAuditLogger(), forwarder, guard)

	worker := relay.New(bus, relay.Config{
		ProcessInterval: cfg.Outbox.ProcessInterval,
		RetryInterval:   cfg.Outbox.RetryInterval,
		CleanupInterval: cfg.Outbox.CleanupInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
		RetentionDays:   cfg.Outbox.RetentionDays,
	})
	worker.Start(ctx)

	// === Бизнес-логика и HTTP API ===

	transactor := uow.NewManager(db, uow.WithMaxAttempts(cfg.Outbox.TxMaxAttempts))
	accounts := service.NewAccountService(transactor, repository.NewAccountRepository(bus))
	router := handler.NewRouter(cfg.App.Name, handler.NewAccountHandler(accounts))

	apiServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", apiServer.Addr).Msg("HTTP API запущен")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Ошибка HTTP API")
			stop()
		}
	}()

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			cfg.App.Name,
			metrics.WithReadinessCheck(healthcheck.Composite(checks...)),
			metrics.WithStatusProvider(func(ctx context.Context) (any, error) {
				counts, err := bus.CountByStatus(ctx)
				if err != nil {
					return nil, err
				}
				return outboxStatus{Worker: worker.Status(), Counts: counts}, nil
			}),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// Ожидаем сигнал завершения
	<-ctx.Done()
	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// Сначала перестаём принимать запросы, затем даём воркеру дожать текущие пачки
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP API")
	}

	worker.Stop()
	if err := worker.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Воркер outbox не завершил текущие запуски до таймаута")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
	}
	wg.Wait()

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки tracing")
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	log.Info().Msg("Accounts Service остановлен")
}

// outboxStatus — ответ /outbox/status.
type outboxStatus struct {
	Worker relay.Status            `json:"worker"`
	Counts map[outbox.Status]int64 `json:"counts"`
}

