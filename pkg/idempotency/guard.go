// Package idempotency защищает обработчики событий от повторной доставки.
//
// Outbox гарантирует at-least-once: одно событие может прийти обработчику
// несколько раз (сбой после доставки, но до MarkAsPublished). Guard хранит
// в Redis отметку об успешной обработке event_id конкретным потребителем.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/txoutbox/pkg/event"
	"example.com/txoutbox/pkg/eventbus"
	"example.com/txoutbox/pkg/logger"
)

const (
	// DefaultKeyPrefix — префикс ключей идемпотентности в Redis.
	DefaultKeyPrefix = "outbox:idempotency:"

	// DefaultTTL — время жизни отметки об обработке.
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultLeaseTTL — время жизни отметки "обрабатывается". Если процесс
	// упал посреди обработчика, по истечении аренды событие снова доставляется.
	DefaultLeaseTTL = 5 * time.Minute

	valueProcessing = "processing"
	valueDone       = "done"
)

// ErrInProgress — событие прямо сейчас обрабатывается другой доставкой.
// Запись будет повторена позже.
var ErrInProgress = errors.New("событие уже обрабатывается")

// Guard — Redis-отметки обработанных событий.
type Guard struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	leaseTTL time.Duration
}

// Option — функциональная опция для Guard.
type Option func(*Guard)

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(g *Guard) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

// WithTTL задаёт время жизни отметки.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLeaseTTL задаёт время жизни отметки "обрабатывается".
// Должно быть больше самого долгого обработчика.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.leaseTTL = ttl
		}
	}
}

// NewGuard создаёт Guard поверх клиента Redis.
func NewGuard(client *redis.Client, opts ...Option) *Guard {
	g := &Guard{
		client:   client,
		prefix:   DefaultKeyPrefix,
		ttl:      DefaultTTL,
		leaseTTL: DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key возвращает ключ Redis для пары (потребитель, событие).
func (g *Guard) Key(consumer, eventID string) string {
	return g.prefix + consumer + ":" + eventID
}

// Wrap оборачивает обработчик: повторно доставленное и уже обработанное
// событие пропускается. При ошибке или панике обработчика отметка снимается,
// чтобы следующая попытка выполнила его снова. Пока обработчик работает,
// ключ живёт leaseTTL, после успеха — ttl.
//
// Если Redis недоступен, обработчик вызывается без защиты: доставка важнее,
// а обработчик всё равно обязан переносить повторы.
func (g *Guard) Wrap(consumer string, h eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, evt event.Event) error {
		log := logger.FromContext(ctx).With().
			Str("consumer", consumer).
			Str("event_id", evt.EventID()).
			Logger()

		key := g.Key(consumer, evt.EventID())

		acquired, err := g.client.SetNX(ctx, key, valueProcessing, g.leaseTTL).Result()
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка Redis при проверке идемпотентности, обрабатываем без защиты")
			return h(ctx, evt)
		}

		if !acquired {
			state, err := g.client.Get(ctx, key).Result()
			switch {
			case err == nil && state == valueDone:
				log.Info().Msg("Событие уже обработано (идемпотентность)")
				return nil
			case err == nil:
				return fmt.Errorf("%w: %s", ErrInProgress, evt.EventID())
			case errors.Is(err, redis.Nil):
				// Отметка истекла между SETNX и GET
				return h(ctx, evt)
			default:
				log.Warn().Err(err).Msg("Ошибка чтения ключа идемпотентности, обрабатываем без защиты")
				return h(ctx, evt)
			}
		}

		done := false
		defer func() {
			if done {
				return
			}
			// Срабатывает и при панике обработчика
			if delErr := g.client.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
				log.Warn().Err(delErr).Msg("Ошибка снятия ключа идемпотентности")
			}
		}()

		if err := h(ctx, evt); err != nil {
			return err
		}
		done = true

		if err := g.client.Set(ctx, key, valueDone, g.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("Ошибка обновления ключа идемпотентности в Redis")
		}
		return nil
	}
}

// Processed сообщает, обработал ли потребитель событие.
func (g *Guard) Processed(ctx context.Context, consumer, eventID string) (bool, error) {
	state, err := g.client.Get(ctx, g.Key(consumer, eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state == valueDone, nil
}
