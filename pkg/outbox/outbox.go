// Package outbox реализует хранилище Outbox Pattern.
// В одной транзакции пишем состояние агрегата + записи outbox_events.
// Фоновый relay.Worker читает PENDING/FAILED записи и доставляет их через шину.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/pkg/tracing"
)

// Status — состояние записи outbox.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// Ключи headers, сохраняемые вместе с событием.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
)

var (
	// ErrTransactionRequired — запись в outbox возможна только внутри транзакции.
	ErrTransactionRequired = errors.New("запись в outbox требует активной транзакции")

	// ErrDuplicateEvent — событие с таким event_id уже сохранено.
	ErrDuplicateEvent = errors.New("событие уже сохранено в outbox")
)

// Record — запись outbox: событие + состояние доставки.
type Record struct {
	ID            uint64            // Автоинкремент БД
	EventID       string            // UUID события (уникальный)
	EventName     string            // Тип события, ключ диспетчеризации
	EventVersion  int               // Версия схемы payload
	AggregateID   string            // ID агрегата
	AggregateType string            // Тип агрегата (account / ...)
	Payload       []byte            // JSON события
	Headers       map[string]string // trace_id, correlation_id
	Status        Status
	AttemptCount  int
	LastAttemptAt *time.Time
	PublishedAt   *time.Time // nil, пока не PUBLISHED
	Error         string     // Последняя ошибка доставки
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (r *Record) HeadersJSON() ([]byte, error) {
	if len(r.Headers) == 0 {
		return nil, nil
	}
	return json.Marshal(r.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (r *Record) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &r.Headers)
}

// headersFromContext собирает trace_id, correlation_id и W3C trace контекст запроса.
func headersFromContext(ctx context.Context) map[string]string {
	headers := make(map[string]string, 4)
	tracing.Inject(ctx, headers)
	if v := logger.TraceIDFromContext(ctx); v != "" {
		headers[HeaderTraceID] = v
	} else if v := tracing.TraceID(ctx); v != "" {
		headers[HeaderTraceID] = v
	}
	if v := logger.CorrelationIDFromContext(ctx); v != "" {
		headers[HeaderCorrelationID] = v
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
