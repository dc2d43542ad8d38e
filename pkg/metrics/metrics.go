// Package metrics предоставляет Prometheus метрики outbox и HTTP сервер
// служебных эндпоинтов (/metrics, /healthz, /readyz, /outbox/status).
//
// Типы метрик в Prometheus:
//   - Counter: только растёт (доставки, ошибки) — "сколько всего произошло"
//   - Histogram: распределение значений (latency) — "как быстро работает"
//   - Gauge: текущее значение (записи в очереди) — "сколько сейчас"
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Итог операции для label status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// =============================================================================
// Метрики outbox
// =============================================================================

var (
	// EventsSavedTotal — события, записанные в outbox в транзакции вызывающего.
	EventsSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_saved_total",
			Help: "Количество событий, сохранённых в outbox",
		},
		[]string{"aggregate_type"},
	)

	// DeliveriesTotal — результаты доставки записей outbox обработчикам.
	// PromQL пример: rate(outbox_deliveries_total{status="error"}[5m])
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_deliveries_total",
			Help: "Количество попыток доставки записей outbox по типу события и статусу",
		},
		[]string{"event_name", "status"},
	)

	// DeliveryDuration — время доставки одной записи всем обработчикам.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_delivery_duration_seconds",
			Help:    "Время доставки записи outbox в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"event_name"},
	)

	// HandlerPanicsTotal — паники в обработчиках событий.
	HandlerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_handler_panics_total",
			Help: "Количество паник в обработчиках событий",
		},
		[]string{"event_name"},
	)

	// WorkerRunsTotal — запуски активностей воркера (process / retry / cleanup).
	WorkerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_worker_runs_total",
			Help: "Количество запусков активностей воркера outbox",
		},
		[]string{"activity", "status"},
	)

	// WorkerRunDuration — длительность одного запуска активности.
	WorkerRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_worker_run_duration_seconds",
			Help:    "Длительность запуска активности воркера outbox в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"activity"},
	)

	// WorkerSkippedTicksTotal — тики, пропущенные из-за незавершённого прошлого запуска.
	WorkerSkippedTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_worker_skipped_ticks_total",
			Help: "Количество тиков, пропущенных из-за занятой активности",
		},
		[]string{"activity"},
	)

	// OutboxEvents — текущее количество записей по статусам.
	OutboxEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_events",
			Help: "Текущее количество записей outbox по статусу",
		},
		[]string{"status"},
	)

	// ExhaustedEvents — FAILED записи, исчерпавшие попытки (нужен оператор).
	ExhaustedEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_exhausted_events",
			Help: "Количество FAILED записей outbox, исчерпавших попытки доставки",
		},
	)

	// RequestsTotal — HTTP запросы (API сервиса и служебный сервер).
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Количество HTTP запросов",
		},
		[]string{"service", "path", "status"},
	)
)

// =============================================================================
// Вспомогательные функции для записи метрик
// =============================================================================

// RecordDelivery записывает результат доставки записи outbox.
func RecordDelivery(eventName string, err error, duration time.Duration) {
	DeliveriesTotal.WithLabelValues(eventName, statusOf(err)).Inc()
	DeliveryDuration.WithLabelValues(eventName).Observe(duration.Seconds())
}

// RecordWorkerRun записывает результат запуска активности воркера.
func RecordWorkerRun(activity string, err error, duration time.Duration) {
	WorkerRunsTotal.WithLabelValues(activity, statusOf(err)).Inc()
	WorkerRunDuration.WithLabelValues(activity).Observe(duration.Seconds())
}

// SetStatusCounts обновляет gauge outbox_events по каждому статусу.
func SetStatusCounts(counts map[string]int64) {
	for status, n := range counts {
		OutboxEvents.WithLabelValues(status).Set(float64(n))
	}
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
