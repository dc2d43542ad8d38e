// Package eventbus — транзакционная шина событий.
//
// Два пути доставки:
//   - SaveToOutbox пишет события в outbox в транзакции вызывающего;
//     ProcessOutboxEvents / RetryFailedEvents позже доставляют их подписчикам
//     и помечают записи PUBLISHED или FAILED.
//   - Publish доставляет событие сразу, без outbox. Ошибки обработчиков
//     только логируются.
//
// Оба пути используют один примитив dispatch: все обработчики типа события
// запускаются параллельно и всегда доходят до конца.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"example.com/txoutbox/pkg/event"
	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/pkg/metrics"
	"example.com/txoutbox/pkg/outbox"
	"example.com/txoutbox/pkg/tracing"
)

// ErrHandlerPanic — обработчик события запаниковал.
var ErrHandlerPanic = errors.New("паника в обработчике события")

// Handler — подписчик на тип события. Должен быть идемпотентным:
// доставка at-least-once.
type Handler func(ctx context.Context, evt event.Event) error

// Option — функциональная опция для настройки Bus.
type Option func(*Bus)

// WithTracer задаёт tracer для spans доставки (по умолчанию глобальный).
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Bus) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// WithPublishConcurrency ограничивает число событий, доставляемых PublishAll одновременно.
func WithPublishConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.publishConcurrency = n
		}
	}
}

// Bus — транзакционная шина событий.
type Bus struct {
	store    outbox.Store
	registry *event.Registry
	tracer   trace.Tracer

	publishConcurrency int

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New создаёт шину поверх хранилища outbox и реестра типов событий.
func New(store outbox.Store, registry *event.Registry, opts ...Option) *Bus {
	b := &Bus{
		store:              store,
		registry:           registry,
		tracer:             tracing.Tracer(),
		publishConcurrency: 16,
		handlers:           make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe добавляет обработчик для типа события.
// Пустой тип или nil обработчик игнорируются.
func (b *Bus) Subscribe(eventName string, handler Handler) {
	if eventName == "" || handler == nil {
		logger.Warn().Str("event_name", eventName).Msg("Подписка проигнорирована: пустой тип события или обработчик")
		return
	}

	b.mu.Lock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
	b.mu.Unlock()

	logger.Debug().Str("event_name", eventName).Msg("Обработчик подписан на событие")
}

// SaveToOutbox записывает события в outbox в транзакции tx.
// Единственный транзакционный путь записи.
func (b *Bus) SaveToOutbox(ctx context.Context, events []event.Event, aggregateType string, tx *gorm.DB) error {
	if err := b.store.SaveEvents(ctx, events, aggregateType, tx); err != nil {
		return err
	}
	metrics.EventsSavedTotal.WithLabelValues(aggregateType).Add(float64(len(events)))
	return nil
}

// Publish доставляет событие подписчикам немедленно, без outbox.
// Ошибки и паники обработчиков логируются и не возвращаются.
func (b *Bus) Publish(ctx context.Context, evt event.Event) {
	if evt == nil {
		return
	}

	if err := b.dispatch(ctx, evt); err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("event_id", evt.EventID()).
			Str("event_name", evt.EventName()).
			Msg("Ошибка обработчика при немедленной публикации")
	}
}

// PublishAll вызывает Publish для каждого события параллельно и ждёт завершения всех.
func (b *Bus) PublishAll(ctx context.Context, events []event.Event) {
	var g errgroup.Group
	g.SetLimit(b.publishConcurrency)

	for _, evt := range events {
		g.Go(func() error {
			b.Publish(ctx, evt)
			return nil
		})
	}
	_ = g.Wait()
}

// HandlerCount возвращает число обработчиков для типа события.
func (b *Bus) HandlerCount(eventName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventName])
}

// dispatch запускает все обработчики типа события параллельно.
// Ошибки всех обработчиков объединяются через errors.Join.
func (b *Bus) dispatch(ctx context.Context, evt event.Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.EventName()]...)
	b.mu.RUnlock()

	switch len(handlers) {
	case 0:
		return nil
	case 1:
		return b.callHandler(ctx, handlers[0], evt)
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for i, h := range handlers {
		go func() {
			defer wg.Done()
			errs[i] = b.callHandler(ctx, h, evt)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// callHandler вызывает обработчик, превращая панику в ErrHandlerPanic.
func (b *Bus) callHandler(ctx context.Context, h Handler, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanicsTotal.WithLabelValues(evt.EventName()).Inc()
			logger.Ctx(ctx).Error().
				Str("event_id", evt.EventID()).
				Str("event_name", evt.EventName()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Паника в обработчике события")
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return h(ctx, evt)
}
