package eventbus

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/pkg/metrics"
	"example.com/txoutbox/pkg/outbox"
	"example.com/txoutbox/pkg/tracing"
)

// spanDeliver — имя span доставки одной записи outbox.
const spanDeliver = "outbox.deliver"

// ProcessOutboxEvents доставляет пачку PENDING записей в порядке создания.
// Возвращает число успешно доставленных записей. Ошибка — только если не удалось
// прочитать outbox; ошибки отдельных записей фиксируются через MarkAsFailed.
func (b *Bus) ProcessOutboxEvents(ctx context.Context, batchSize int) (int, error) {
	records, err := b.store.GetPendingEvents(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения pending событий: %w", err)
	}
	return b.deliverAll(ctx, records), nil
}

// RetryFailedEvents повторно доставляет FAILED записи с attempt_count < maxAttempts.
func (b *Bus) RetryFailedEvents(ctx context.Context, maxAttempts int) (int, error) {
	records, err := b.store.GetFailedEventsForRetry(ctx, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения failed событий: %w", err)
	}
	return b.deliverAll(ctx, records), nil
}

// CleanupOldEvents удаляет PUBLISHED записи старше olderThanDays.
func (b *Bus) CleanupOldEvents(ctx context.Context, olderThanDays int) (int64, error) {
	return b.store.DeleteOldPublishedEvents(ctx, olderThanDays)
}

// CountByStatus возвращает количество записей outbox по статусам.
func (b *Bus) CountByStatus(ctx context.Context) (map[outbox.Status]int64, error) {
	return b.store.CountByStatus(ctx)
}

// CountExhausted возвращает количество FAILED записей, исчерпавших попытки.
func (b *Bus) CountExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	return b.store.CountExhausted(ctx, maxAttempts)
}

// deliverAll обрабатывает записи по порядку; записи независимы друг от друга.
func (b *Bus) deliverAll(ctx context.Context, records []*outbox.Record) int {
	delivered := 0
	for _, rec := range records {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Warn().
				Int("delivered", delivered).
				Int("remaining", len(records)-delivered).
				Msg("Доставка outbox прервана отменой контекста")
			return delivered
		default:
		}

		if err := b.deliver(ctx, rec); err == nil {
			delivered++
		}
	}
	return delivered
}

// deliver декодирует запись, вызывает обработчики и фиксирует результат.
func (b *Bus) deliver(ctx context.Context, rec *outbox.Record) error {
	ctx = tracing.Extract(ctx, rec.Headers)
	ctx = logger.WithEventID(ctx, rec.EventID)
	ctx = logger.WithIDs(ctx, rec.Headers[outbox.HeaderTraceID], rec.Headers[outbox.HeaderCorrelationID])

	ctx, span := b.tracer.Start(ctx, spanDeliver,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("outbox.event_id", rec.EventID),
			attribute.String("outbox.event_name", rec.EventName),
			attribute.String("outbox.aggregate_id", rec.AggregateID),
			attribute.Int("outbox.attempt_count", rec.AttemptCount),
		),
	)
	defer span.End()

	log := logger.FromContext(ctx)
	start := time.Now()

	evt, err := b.registry.Decode(rec.EventName, rec.Payload)
	if err == nil {
		err = b.dispatch(ctx, evt)
	}
	metrics.RecordDelivery(rec.EventName, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")

		log.Error().
			Err(err).
			Str("event_name", rec.EventName).
			Str("aggregate_id", rec.AggregateID).
			Int("attempt_count", rec.AttemptCount).
			Msg("Ошибка доставки события outbox")

		if markErr := b.store.MarkAsFailed(ctx, rec.EventID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	// Обработчики уже отработали: если пометка не удалась, запись будет
	// доставлена повторно
	if err := b.store.MarkAsPublished(ctx, rec.EventID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark published failed")
		log.Error().Err(err).Msg("Ошибка пометки outbox как опубликованной")
		return err
	}

	log.Debug().
		Str("event_name", rec.EventName).
		Str("aggregate_id", rec.AggregateID).
		Msg("Событие outbox доставлено")
	return nil
}
