// Package kafka — обёртка над kafka-go для пересылки событий outbox во внешние системы.
package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// Ключи для headers сообщений Kafka.
const (
	// HeaderTraceID - идентификатор трассировки.
	HeaderTraceID = "trace_id"

	// HeaderCorrelationID - идентификатор корреляции запросов.
	HeaderCorrelationID = "correlation_id"

	// HeaderTimestamp - временная метка отправки.
	HeaderTimestamp = "timestamp"

	// HeaderEventID - идентификатор события (ключ дедупликации у потребителей).
	HeaderEventID = "event_id"

	// HeaderEventName - тип события.
	HeaderEventName = "event_name"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	// Brokers - список адресов брокеров Kafka.
	Brokers []string

	// BatchTimeout - сколько ждать накопления пачки (по умолчанию 10ms).
	BatchTimeout time.Duration
}

// Message — сообщение для отправки.
type Message struct {
	// Topic - топик сообщения.
	Topic string

	// Key - ключ для партиционирования (ID агрегата: порядок внутри агрегата).
	Key []byte

	// Value - тело сообщения.
	Value []byte

	// Headers - trace_id, correlation_id, event_id и т.д.
	Headers map[string]string

	// Time - временная метка сообщения.
	Time time.Time
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    m.Time,
	}
}
