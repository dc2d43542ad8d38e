package uow

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"

	"example.com/txoutbox/pkg/logger"
)

// Operation — работа, выполняемая внутри транзакции.
// Все записи должны идти через tx.
type Operation func(ctx context.Context, tx *gorm.DB) error

// Classifier решает, стоит ли повторять транзакцию после ошибки.
type Classifier func(err error) bool

type runOptions struct {
	maxAttempts uint
	initial     time.Duration
	max         time.Duration
	classify    Classifier
}

// Option настраивает Run.
type Option func(*runOptions)

// WithMaxAttempts задаёт общее число попыток (1 — без повторов).
func WithMaxAttempts(n int) Option {
	return func(o *runOptions) {
		if n > 0 {
			o.maxAttempts = uint(n)
		}
	}
}

// WithBackoff задаёт начальную и максимальную паузу между попытками.
func WithBackoff(initial, max time.Duration) Option {
	return func(o *runOptions) {
		if initial > 0 {
			o.initial = initial
		}
		if max > 0 {
			o.max = max
		}
	}
}

// WithRetryClassifier заменяет классификатор временных ошибок.
func WithRetryClassifier(c Classifier) Option {
	return func(o *runOptions) {
		if c != nil {
			o.classify = c
		}
	}
}

func defaultRunOptions() runOptions {
	return runOptions{
		maxAttempts: 1,
		initial:     50 * time.Millisecond,
		max:         time.Second,
		classify:    IsRetryable,
	}
}

// Run выполняет op в транзакции scope: Start → op → Commit, а при ошибке
// или панике — Rollback. Паника пробрасывается дальше после отката.
//
// Если классификатор признаёт ошибку временной (deadlock, serialization
// failure, таймаут), вся операция повторяется в новой транзакции.
// Поэтому op не должна иметь побочных эффектов вне tx.
func Run(ctx context.Context, scope *UnitOfWork, op Operation, opts ...Option) error {
	o := defaultRunOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.initial
	b.MaxInterval = o.max

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++

		err := runOnce(ctx, scope, op)
		if err == nil {
			return struct{}{}, nil
		}
		if !o.classify(err) || uint(attempt) >= o.maxAttempts {
			return struct{}{}, backoff.Permanent(err)
		}

		logger.Ctx(ctx).Warn().
			Err(err).
			Int("attempt", attempt).
			Uint("max_attempts", o.maxAttempts).
			Msg("Временная ошибка транзакции, повторяем")

		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(o.maxAttempts))

	return err
}

// runOnce — одна попытка: гарантирует Commit или Rollback на любом выходе.
func runOnce(ctx context.Context, scope *UnitOfWork, op Operation) (err error) {
	if err := scope.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := scope.Rollback(); rbErr != nil {
				logger.Ctx(ctx).Error().Err(rbErr).Msg("Ошибка отката транзакции после паники")
			}
			panic(r)
		}
	}()

	tx, err := scope.Transaction()
	if err != nil {
		return err
	}

	if err := op(ctx, tx); err != nil {
		if rbErr := scope.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (откат не удался: %v)", err, rbErr)
		}
		return err
	}

	return scope.Commit()
}

// Manager создаёт новый UnitOfWork на каждый вызов Do.
type Manager struct {
	db   *gorm.DB
	opts []Option
}

// NewManager создаёт Manager с опциями по умолчанию для всех вызовов.
func NewManager(db *gorm.DB, opts ...Option) *Manager {
	return &Manager{db: db, opts: opts}
}

// Do выполняет op в новой транзакции. opts дополняют опции Manager.
func (m *Manager) Do(ctx context.Context, op Operation, opts ...Option) error {
	all := make([]Option, 0, len(m.opts)+len(opts))
	all = append(all, m.opts...)
	all = append(all, opts...)
	return Run(ctx, New(m.db), op, all...)
}
