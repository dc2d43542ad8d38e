// Package consumer содержит подписчиков на события аккаунта.
//
// Подписчики вызываются воркером outbox после коммита транзакции.
// Доставка at-least-once: каждый обработчик переносит повторы.
package consumer

import (
	"context"
	"fmt"

	"example.com/txoutbox/pkg/circuitbreaker"
	"example.com/txoutbox/pkg/event"
	"example.com/txoutbox/pkg/eventbus"
	"example.com/txoutbox/pkg/idempotency"
	"example.com/txoutbox/pkg/kafka"
	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/services/accounts/internal/domain"
)

// Имена потребителей (часть ключа идемпотентности).
const (
	ConsumerKafka = "kafka-forwarder"
	ConsumerAudit = "audit-logger"
)

// DefaultTopic — топик Kafka для событий аккаунта.
const DefaultTopic = "account.events"

// MessageSender отправляет сообщение в брокер (реализуется kafka.Producer).
type MessageSender interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// Subscriber — часть eventbus.Bus, нужная для подписки.
type Subscriber interface {
	Subscribe(eventName string, handler eventbus.Handler)
}

// KafkaForwarder пересылает события аккаунта в Kafka.
// Ключ сообщения — ID агрегата, поэтому события одного аккаунта
// попадают в одну партицию в порядке доставки.
type KafkaForwarder struct {
	sender  MessageSender
	breaker *circuitbreaker.Breaker
	topic   string
}

// NewKafkaForwarder создаёт пересыльщик. Пустой topic заменяется на DefaultTopic.
func NewKafkaForwarder(sender MessageSender, breaker *circuitbreaker.Breaker, topic string) *KafkaForwarder {
	if topic == "" {
		topic = DefaultTopic
	}
	if breaker == nil {
		breaker = circuitbreaker.New(ConsumerKafka)
	}
	return &KafkaForwarder{sender: sender, breaker: breaker, topic: topic}
}

// Handle отправляет событие в Kafka через circuit breaker.
func (f *KafkaForwarder) Handle(ctx context.Context, evt event.Event) error {
	payload, err := event.Encode(evt)
	if err != nil {
		return err
	}

	msg := &kafka.Message{
		Topic: f.topic,
		Key:   []byte(evt.AggregateID()),
		Value: payload,
		Headers: map[string]string{
			kafka.HeaderEventID:   evt.EventID(),
			kafka.HeaderEventName: evt.EventName(),
		},
		Time: evt.OccurredAt(),
	}

	if err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		return f.sender.SendMessage(ctx, msg)
	}); err != nil {
		return fmt.Errorf("пересылка события %s в Kafka: %w", evt.EventID(), err)
	}
	return nil
}

// AuditLogger пишет структурированную строку лога на каждое событие аккаунта.
type AuditLogger struct{}

// NewAuditLogger создаёт AuditLogger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// Handle логирует событие. Ошибок не возвращает.
func (a *AuditLogger) Handle(ctx context.Context, evt event.Event) error {
	log := logger.FromContext(ctx).With().
		Str("consumer", ConsumerAudit).
		Str("event_id", evt.EventID()).
		Str("event_name", evt.EventName()).
		Str("account_id", evt.AggregateID()).
		Time("occurred_at", evt.OccurredAt()).
		Logger()

	switch e := evt.(type) {
	case *domain.AccountRegistered:
		log.Info().Str("email", e.Email).Msg("Аудит: аккаунт зарегистрирован")
	case *domain.AccountEmailChanged:
		log.Info().
			Str("old_email", e.OldEmail).
			Str("new_email", e.NewEmail).
			Msg("Аудит: email аккаунта изменён")
	case *domain.AccountDeactivated:
		log.Info().Str("reason", e.Reason).Msg("Аудит: аккаунт деактивирован")
	default:
		log.Info().Msg("Аудит: событие аккаунта")
	}
	return nil
}

// Subscribe подписывает обработчики на все события аккаунта.
// forwarder и guard могут быть nil (Kafka выключена, Redis не используется).
func Subscribe(bus Subscriber, audit *AuditLogger, forwarder *KafkaForwarder, guard *idempotency.Guard) {
	for _, name := range domain.EventNames() {
		if audit != nil {
			bus.Subscribe(name, audit.Handle)
		}

		if forwarder == nil {
			continue
		}
		handler := eventbus.Handler(forwarder.Handle)
		if guard != nil {
			handler = guard.Wrap(ConsumerKafka, handler)
		}
		bus.Subscribe(name, handler)
	}
}
