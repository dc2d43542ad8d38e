package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"example.com/txoutbox/pkg/event"
)

const (
	// DefaultBatchSize — размер пачки, если передан batchSize <= 0.
	DefaultBatchSize = 100

	// RetryFetchLimit — максимум FAILED записей за один проход повтора.
	RetryFetchLimit = 500

	// MaxErrorLength — длина текста ошибки, сохраняемого в колонке error.
	MaxErrorLength = 2000

	// deleteChunkSize — удаляем пачками, чтобы не держать длинные блокировки.
	deleteChunkSize = 1000

	mysqlDuplicateEntry uint16 = 1062
)

// Store определяет методы работы с outbox.
// Интерфейс для тестируемости (Dependency Inversion).
type Store interface {
	// SaveEvents сохраняет события как PENDING внутри транзакции tx.
	SaveEvents(ctx context.Context, events []event.Event, aggregateType string, tx *gorm.DB) error

	// GetPendingEvents возвращает PENDING записи в порядке создания.
	GetPendingEvents(ctx context.Context, batchSize int) ([]*Record, error)

	// MarkAsPublished помечает запись как доставленную. Повторный вызов — no-op.
	MarkAsPublished(ctx context.Context, eventID string) error

	// MarkAsFailed увеличивает счётчик попыток и сохраняет текст ошибки.
	MarkAsFailed(ctx context.Context, eventID string, errorMessage string) error

	// GetFailedEventsForRetry возвращает FAILED записи с attempt_count < maxAttempts.
	GetFailedEventsForRetry(ctx context.Context, maxAttempts int) ([]*Record, error)

	// DeleteOldPublishedEvents удаляет PUBLISHED записи старше olderThanDays дней.
	DeleteOldPublishedEvents(ctx context.Context, olderThanDays int) (int64, error)

	// CountByStatus возвращает количество записей по статусам.
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// CountExhausted возвращает количество FAILED записей, исчерпавших попытки.
	CountExhausted(ctx context.Context, maxAttempts int) (int64, error)
}

// gormStore — GORM реализация Store.
type gormStore struct {
	db *gorm.DB
}

// NewStore создаёт хранилище outbox.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// SaveEvents сохраняет события одной пачкой в транзакции вызывающего.
// Пустой список — no-op. Ошибка сериализации любого события отменяет запись целиком.
func (s *gormStore) SaveEvents(ctx context.Context, events []event.Event, aggregateType string, tx *gorm.DB) error {
	if tx == nil {
		return ErrTransactionRequired
	}
	if len(events) == 0 {
		return nil
	}

	headers := headersFromContext(ctx)
	var headersJSON []byte
	if headers != nil {
		data, err := (&Record{Headers: headers}).HeadersJSON()
		if err != nil {
			return fmt.Errorf("ошибка сериализации headers: %w", err)
		}
		headersJSON = data
	}

	models := make([]Model, 0, len(events))
	for _, evt := range events {
		payload, err := event.Encode(evt)
		if err != nil {
			return err
		}

		models = append(models, Model{
			EventID:       evt.EventID(),
			EventName:     evt.EventName(),
			EventVersion:  evt.EventVersion(),
			AggregateID:   evt.AggregateID(),
			AggregateType: aggregateType,
			Payload:       payload,
			Headers:       headersJSON,
			Status:        StatusPending,
		})
	}

	if err := tx.WithContext(ctx).Create(&models).Error; err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateEvent, err)
		}
		return fmt.Errorf("ошибка записи в outbox: %w", err)
	}
	return nil
}

// GetPendingEvents возвращает PENDING записи, отсортированные по времени создания.
func (s *gormStore) GetPendingEvents(ctx context.Context, batchSize int) ([]*Record, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var models []Model
	if err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at ASC, id ASC").
		Limit(batchSize).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("ошибка чтения outbox: %w", err)
	}

	return toRecords(models), nil
}

// MarkAsPublished помечает запись как опубликованную.
// Фильтр по статусу делает операцию идемпотентной.
func (s *gormStore) MarkAsPublished(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&Model{}).
		Where("event_id = ? AND status <> ?", eventID, StatusPublished).
		Updates(map[string]any{
			"status":       StatusPublished,
			"published_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка пометки outbox как опубликованной: %w", result.Error)
	}
	return nil
}

// MarkAsFailed увеличивает счётчик попыток и сохраняет текст ошибки.
// Опубликованные записи не трогает.
func (s *gormStore) MarkAsFailed(ctx context.Context, eventID string, errorMessage string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&Model{}).
		Where("event_id = ? AND status <> ?", eventID, StatusPublished).
		Updates(map[string]any{
			"status":          StatusFailed,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"error":           truncate(errorMessage, MaxErrorLength),
			"last_attempt_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка пометки outbox как failed: %w", result.Error)
	}
	return nil
}

// GetFailedEventsForRetry возвращает FAILED записи, которые ещё можно повторить.
func (s *gormStore) GetFailedEventsForRetry(ctx context.Context, maxAttempts int) ([]*Record, error) {
	if maxAttempts <= 0 {
		return nil, nil
	}

	var models []Model
	if err := s.db.WithContext(ctx).
		Where("status = ? AND attempt_count < ?", StatusFailed, maxAttempts).
		Order("created_at ASC, id ASC").
		Limit(RetryFetchLimit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("ошибка чтения failed записей outbox: %w", err)
	}

	return toRecords(models), nil
}

// DeleteOldPublishedEvents удаляет опубликованные записи старше olderThanDays.
func (s *gormStore) DeleteOldPublishedEvents(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("срок хранения не может быть отрицательным: %d", olderThanDays)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	var total int64
	for {
		result := s.db.WithContext(ctx).
			Where("status = ? AND published_at < ?", StatusPublished, cutoff).
			Limit(deleteChunkSize).
			Delete(&Model{})
		if result.Error != nil {
			return total, fmt.Errorf("ошибка очистки outbox: %w", result.Error)
		}

		total += result.RowsAffected
		if result.RowsAffected < deleteChunkSize {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// CountByStatus возвращает количество записей по каждому статусу.
func (s *gormStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Total  int64
	}

	if err := s.db.WithContext(ctx).Model(&Model{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка подсчёта outbox: %w", err)
	}

	counts := map[Status]int64{
		StatusPending:   0,
		StatusPublished: 0,
		StatusFailed:    0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// CountExhausted возвращает количество FAILED записей с attempt_count >= maxAttempts.
// Такие записи требуют вмешательства оператора.
func (s *gormStore) CountExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Model{}).
		Where("status = ? AND attempt_count >= ?", StatusFailed, maxAttempts).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("ошибка подсчёта исчерпанных записей outbox: %w", err)
	}
	return count, nil
}

func toRecords(models []Model) []*Record {
	result := make([]*Record, len(models))
	for i := range models {
		result[i] = models[i].ToRecord()
	}
	return result
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа (MySQL 1062).
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}

// truncate обрезает строку до max символов (по рунам).
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
