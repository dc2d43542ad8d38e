package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// ctxKey — приватный тип ключей контекста, исключает коллизии с другими пакетами.
type ctxKey string

const (
	traceIDKey       ctxKey = "trace_id"
	correlationIDKey ctxKey = "correlation_id"
	eventIDKey       ctxKey = "event_id"
	loggerKey        ctxKey = "logger"
)

// WithTraceID кладёт trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext возвращает trace_id или пустую строку.
func TraceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

// WithCorrelationID кладёт correlation_id в контекст.
// Correlation ID связывает запись outbox с запросом, который её породил.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext возвращает correlation_id или пустую строку.
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// WithEventID кладёт event_id доставляемого события в контекст,
// чтобы логи обработчиков автоматически содержали его.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey, eventID)
}

// EventIDFromContext возвращает event_id или пустую строку.
func EventIDFromContext(ctx context.Context) string {
	return stringValue(ctx, eventIDKey)
}

// WithLogger сохраняет настроенный логгер в контексте.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithIDs добавляет trace_id и correlation_id, пропуская пустые значения.
// Используется воркером при восстановлении контекста из headers записи outbox.
func WithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

// FromContext возвращает логгер из контекста (или глобальный) с полями
// trace_id, correlation_id и event_id, если они есть в контексте.
//
//	log := logger.FromContext(ctx)
//	log.Info().Str("aggregate_id", id).Msg("Аккаунт сохранён")
func FromContext(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		l = Logger()
	}

	fields := l.With()
	if v := TraceIDFromContext(ctx); v != "" {
		fields = fields.Str("trace_id", v)
	}
	if v := CorrelationIDFromContext(ctx); v != "" {
		fields = fields.Str("correlation_id", v)
	}
	if v := EventIDFromContext(ctx); v != "" {
		fields = fields.Str("event_id", v)
	}

	return fields.Logger()
}

// Ctx — то же, что FromContext, но возвращает указатель (как zerolog.Ctx).
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

func stringValue(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
