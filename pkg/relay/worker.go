// Package relay — фоновый воркер outbox.
//
// Три независимые активности по своим тикерам:
//   - process: доставка PENDING записей;
//   - retry: повтор FAILED записей, не исчерпавших попытки;
//   - cleanup: удаление старых PUBLISHED записей.
//
// Тик пропускается, если предыдущий запуск той же активности ещё идёт.
// Разные активности могут выполняться одновременно. Доставка at-least-once,
// поэтому обработчики должны быть идемпотентными.
package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/pkg/metrics"
	"example.com/txoutbox/pkg/outbox"
)

// Имена активностей в логах и метриках.
const (
	ActivityProcess = "process"
	ActivityRetry   = "retry"
	ActivityCleanup = "cleanup"
)

// Processor — операции шины, которые выполняет воркер.
// Интерфейс для тестируемости (Dependency Inversion).
type Processor interface {
	ProcessOutboxEvents(ctx context.Context, batchSize int) (int, error)
	RetryFailedEvents(ctx context.Context, maxAttempts int) (int, error)
	CleanupOldEvents(ctx context.Context, olderThanDays int) (int64, error)
	CountExhausted(ctx context.Context, maxAttempts int) (int64, error)
	CountByStatus(ctx context.Context) (map[outbox.Status]int64, error)
}

// Config — настройки воркера.
type Config struct {
	ProcessInterval time.Duration
	RetryInterval   time.Duration
	CleanupInterval time.Duration
	BatchSize       int
	MaxAttempts     int
	RetentionDays   int
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		ProcessInterval: 5 * time.Second,
		RetryInterval:   60 * time.Second,
		CleanupInterval: 24 * time.Hour,
		BatchSize:       100,
		MaxAttempts:     5,
		RetentionDays:   30,
	}
}

// withDefaults подставляет значения по умолчанию вместо нулевых.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = d.ProcessInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	return c
}

// ActivityStatus — состояние одной активности.
type ActivityStatus struct {
	Busy       bool       `json:"busy"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastResult int64      `json:"last_result"`
	LastError  string     `json:"last_error,omitempty"`
}

// Status — снимок состояния воркера.
type Status struct {
	Running         bool           `json:"running"`
	ProcessInterval time.Duration  `json:"process_interval"`
	RetryInterval   time.Duration  `json:"retry_interval"`
	CleanupInterval time.Duration  `json:"cleanup_interval"`
	BatchSize       int            `json:"batch_size"`
	MaxAttempts     int            `json:"max_attempts"`
	RetentionDays   int            `json:"retention_days"`
	Process         ActivityStatus `json:"process"`
	Retry           ActivityStatus `json:"retry"`
	Cleanup         ActivityStatus `json:"cleanup"`
}

// activity хранит флаг занятости и итог последнего запуска.
type activity struct {
	name string
	run  func(ctx context.Context) (int64, error)
	busy atomic.Bool

	mu         sync.Mutex
	lastRunAt  *time.Time
	lastResult int64
	lastErr    error
}

func (a *activity) finish(at time.Time, result int64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastRunAt = &at
	a.lastResult = result
	a.lastErr = err
}

func (a *activity) status() ActivityStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := ActivityStatus{
		Busy:       a.busy.Load(),
		LastRunAt:  a.lastRunAt,
		LastResult: a.lastResult,
	}
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	return s
}

// cycle — один период RUNNING, от Start до Stop. Свой WaitGroup на каждый
// период: после Stop в wg больше ничего не добавляется, и повторный Start
// не пересекается с Wait, оставшимся от прошлого периода.
type cycle struct {
	stopCh chan struct{}
	wg     sync.WaitGroup // цикл тикеров и начатые запуски
	done   chan struct{}  // закрывается, когда wg опустел после остановки
}

func newCycle() *cycle {
	return &cycle{stopCh: make(chan struct{}), done: make(chan struct{})}
}

// stop вызывается под Worker.mu ровно один раз.
func (c *cycle) stop() {
	close(c.stopCh)
	go func() {
		c.wg.Wait()
		close(c.done)
	}()
}

func (c *cycle) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Worker — фоновый воркер outbox. Состояния: STOPPED ⇄ RUNNING.
type Worker struct {
	processor Processor
	cfg       Config

	process *activity
	retry   *activity
	cleanup *activity

	mu      sync.Mutex
	current *cycle   // nil в STOPPED
	cycles  []*cycle // периоды, чьи запуски ещё могут идти
}

// New создаёт воркер. Нулевые поля cfg заменяются значениями по умолчанию.
func New(processor Processor, cfg Config) *Worker {
	w := &Worker{
		processor: processor,
		cfg:       cfg.withDefaults(),
	}
	w.process = &activity{name: ActivityProcess, run: w.runProcess}
	w.retry = &activity{name: ActivityRetry, run: w.runRetry}
	w.cleanup = &activity{name: ActivityCleanup, run: w.runCleanup}
	return w
}

// Start запускает воркер: сразу выполняет доставку PENDING записей и взводит тикеры.
// Повторный вызов на работающем воркере ничего не делает.
// Отмена ctx останавливает тикеры, но не прерывает уже начатые запуски.
func (w *Worker) Start(ctx context.Context) {
	log := logger.FromContext(ctx)

	w.mu.Lock()
	if w.current != nil {
		w.mu.Unlock()
		log.Warn().Msg("Outbox Worker уже запущен")
		return
	}
	c := newCycle()
	c.wg.Add(1)
	w.current = c
	w.cycles = append(w.pendingCycles(), c)
	w.mu.Unlock()

	log.Info().
		Dur("process_interval", w.cfg.ProcessInterval).
		Dur("retry_interval", w.cfg.RetryInterval).
		Dur("cleanup_interval", w.cfg.CleanupInterval).
		Int("batch_size", w.cfg.BatchSize).
		Int("max_attempts", w.cfg.MaxAttempts).
		Int("retention_days", w.cfg.RetentionDays).
		Msg("Запуск Outbox Worker")

	// Запуски не должны обрываться на середине пачки при остановке
	runCtx := context.WithoutCancel(ctx)

	w.trigger(runCtx, c, w.process)

	go w.loop(ctx, runCtx, c)
}

// pendingCycles отбрасывает завершившиеся периоды. Вызывать под w.mu.
func (w *Worker) pendingCycles() []*cycle {
	pending := w.cycles[:0]
	for _, c := range w.cycles {
		if !c.finished() {
			pending = append(pending, c)
		}
	}
	return pending
}

func (w *Worker) loop(ctx, runCtx context.Context, c *cycle) {
	defer c.wg.Done()

	processTicker := time.NewTicker(w.cfg.ProcessInterval)
	defer processTicker.Stop()

	retryTicker := time.NewTicker(w.cfg.RetryInterval)
	defer retryTicker.Stop()

	cleanupTicker := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			w.markStopped(c)
			logger.Ctx(runCtx).Info().Msg("Остановка Outbox Worker по отмене контекста")
			return
		case <-processTicker.C:
			w.trigger(runCtx, c, w.process)
		case <-retryTicker.C:
			w.trigger(runCtx, c, w.retry)
		case <-cleanupTicker.C:
			w.trigger(runCtx, c, w.cleanup)
		}
	}
}

// trigger запускает активность в отдельной горутине, если она свободна.
func (w *Worker) trigger(ctx context.Context, c *cycle, a *activity) {
	if !a.busy.CompareAndSwap(false, true) {
		metrics.WorkerSkippedTicksTotal.WithLabelValues(a.name).Inc()
		logger.Ctx(ctx).Debug().Str("activity", a.name).Msg("Тик пропущен: предыдущий запуск ещё выполняется")
		return
	}

	w.mu.Lock()
	if w.current != c {
		w.mu.Unlock()
		a.busy.Store(false)
		return
	}
	c.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer a.busy.Store(false)

		start := time.Now()
		result, err := w.safeRun(ctx, a)
		a.finish(start.UTC(), result, err)
		metrics.RecordWorkerRun(a.name, err, time.Since(start))

		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("activity", a.name).Msg("Ошибка запуска активности Outbox Worker")
		}
	}()
}

// safeRun выполняет активность, превращая панику в ошибку.
func (w *Worker) safeRun(ctx context.Context, a *activity) (result int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в активности %s: %v", a.name, r)
		}
	}()
	return a.run(ctx)
}

// Stop останавливает тикеры. Уже начатые запуски доводятся до конца.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return
	}
	w.current.stop()
	w.current = nil

	logger.Info().Msg("Остановка Outbox Worker")
}

// markStopped переводит воркер в STOPPED, если c всё ещё текущий период.
func (w *Worker) markStopped(c *cycle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == c {
		c.stop()
		w.current = nil
	}
}

// Wait ждёт завершения циклов тикеров и всех начатых запусков, включая
// запуски прошлых периодов. Вызывать после Stop: на работающем воркере
// ждёт до его остановки. Возвращает ошибку ctx, если ожидание прервано.
// Прерванный Wait можно повторить, в том числе после нового Start.
func (w *Worker) Wait(ctx context.Context) error {
	w.mu.Lock()
	cycles := slices.Clone(w.cycles)
	w.mu.Unlock()

	for _, c := range cycles {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status возвращает снимок состояния воркера.
func (w *Worker) Status() Status {
	w.mu.Lock()
	running := w.current != nil
	w.mu.Unlock()

	return Status{
		Running:         running,
		ProcessInterval: w.cfg.ProcessInterval,
		RetryInterval:   w.cfg.RetryInterval,
		CleanupInterval: w.cfg.CleanupInterval,
		BatchSize:       w.cfg.BatchSize,
		MaxAttempts:     w.cfg.MaxAttempts,
		RetentionDays:   w.cfg.RetentionDays,
		Process:         w.process.status(),
		Retry:           w.retry.status(),
		Cleanup:         w.cleanup.status(),
	}
}

// =============================================================================
// Активности
// =============================================================================

func (w *Worker) runProcess(ctx context.Context) (int64, error) {
	n, err := w.processor.ProcessOutboxEvents(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Ctx(ctx).Info().Int("delivered", n).Msg("Доставлены события outbox")
	}
	return int64(n), nil
}

func (w *Worker) runRetry(ctx context.Context) (int64, error) {
	log := logger.FromContext(ctx)

	n, retryErr := w.processor.RetryFailedEvents(ctx, w.cfg.MaxAttempts)
	if n > 0 {
		log.Info().Int("delivered", n).Msg("Повторно доставлены события outbox")
	}

	exhausted, countErr := w.processor.CountExhausted(ctx, w.cfg.MaxAttempts)
	if countErr == nil {
		metrics.ExhaustedEvents.Set(float64(exhausted))
		if exhausted > 0 {
			log.Warn().
				Int64("exhausted", exhausted).
				Int("max_attempts", w.cfg.MaxAttempts).
				Msg("Есть записи outbox, исчерпавшие попытки доставки: нужна ручная обработка")
		}
	}

	counts, statsErr := w.processor.CountByStatus(ctx)
	if statsErr == nil {
		byStatus := make(map[string]int64, len(counts))
		for status, c := range counts {
			byStatus[string(status)] = c
		}
		metrics.SetStatusCounts(byStatus)
	}

	return int64(n), errors.Join(retryErr, countErr, statsErr)
}

func (w *Worker) runCleanup(ctx context.Context) (int64, error) {
	deleted, err := w.processor.CleanupOldEvents(ctx, w.cfg.RetentionDays)
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		logger.Ctx(ctx).Info().
			Int64("deleted", deleted).
			Int("retention_days", w.cfg.RetentionDays).
			Msg("Очистка опубликованных записей outbox")
	}
	return deleted, nil
}
