package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/txoutbox/pkg/logger"
)

// messageWriter — часть kafka.Writer, нужная Producer (подменяется в тестах).
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer отправляет сообщения в Kafka с headers трассировки.
type Producer struct {
	writer messageWriter
}

// NewProducer создаёт синхронный Producer: SendMessage возвращается после
// подтверждения лидера, поэтому outbox помечает запись PUBLISHED только
// после реальной записи в Kafka.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{}, // Один агрегат — одна партиция
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Msg("Создан Kafka Producer")

	return &Producer{writer: writer}, nil
}

// SendMessage отправляет сообщение. trace_id, correlation_id и timestamp
// добавляются из context, если не заданы в msg.Headers.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}

	setDefault(msg.Headers, HeaderTraceID, logger.TraceIDFromContext(ctx))
	setDefault(msg.Headers, HeaderCorrelationID, logger.CorrelationIDFromContext(ctx))
	setDefault(msg.Headers, HeaderTimestamp, time.Now().UTC().Format(time.RFC3339Nano))

	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Сообщение отправлено в Kafka")

	return nil
}

// Close закрывает соединение с Kafka, дожидаясь отправки буфера.
func (p *Producer) Close() error {
	logger.Info().Msg("Закрытие Kafka Producer")

	if err := p.writer.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка при закрытии Kafka Producer")
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	return nil
}

func setDefault(headers map[string]string, key, value string) {
	if value == "" {
		return
	}
	if _, ok := headers[key]; !ok {
		headers[key] = value
	}
}
