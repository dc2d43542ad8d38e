// Package repository содержит доступ к данным Accounts Service.
//
// Все методы работают в транзакции вызывающего: состояние аккаунта и его
// события попадают в БД одним коммитом.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"example.com/txoutbox/pkg/event"
	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/services/accounts/internal/domain"
)

// mysqlDuplicateEntry — код ошибки MySQL для нарушения уникального индекса.
const mysqlDuplicateEntry = 1062

// EventSaver записывает события агрегата в outbox (реализуется eventbus.Bus).
type EventSaver interface {
	SaveToOutbox(ctx context.Context, events []event.Event, aggregateType string, tx *gorm.DB) error
}

// AccountRepository определяет интерфейс для работы с аккаунтами в БД.
type AccountRepository interface {
	// Save вставляет новый аккаунт или обновляет существующий и записывает
	// накопленные события в outbox в той же транзакции.
	Save(ctx context.Context, tx *gorm.DB, account *domain.Account) error

	// GetByID возвращает аккаунт по ID.
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Account, error)

	// ExistsByEmail проверяет, занят ли email.
	ExistsByEmail(ctx context.Context, tx *gorm.DB, email string) (bool, error)
}

// AccountModel — GORM модель для таблицы accounts.
type AccountModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Email     string    `gorm:"column:email;type:varchar(255);uniqueIndex:uk_accounts_email;not null"`
	Name      string    `gorm:"column:name;type:varchar(100);not null"`
	Status    string    `gorm:"column:status;type:varchar(20);not null"`
	Version   int       `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (AccountModel) TableName() string {
	return "accounts"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *AccountModel) toDomain() *domain.Account {
	return &domain.Account{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Status:    domain.Status(m.Status),
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// accountRepository — GORM реализация AccountRepository.
type accountRepository struct {
	events EventSaver
}

// NewAccountRepository создаёт репозиторий аккаунтов.
func NewAccountRepository(events EventSaver) AccountRepository {
	return &accountRepository{events: events}
}

// Save сохраняет аккаунт и его события.
// Новый аккаунт вставляется с версией 1, существующий обновляется
// только если версия в БД совпадает с прочитанной.
func (r *accountRepository) Save(ctx context.Context, tx *gorm.DB, a *domain.Account) error {
	if tx == nil {
		return errors.New("сохранение аккаунта требует транзакцию")
	}

	var err error
	if a.IsNew() {
		err = r.insert(ctx, tx, a)
	} else {
		err = r.update(ctx, tx, a)
	}
	if err != nil {
		return err
	}

	if err := r.events.SaveToOutbox(ctx, a.Events(), domain.AggregateType, tx); err != nil {
		return fmt.Errorf("ошибка записи событий аккаунта %s в outbox: %w", a.ID, err)
	}

	logger.Ctx(ctx).Debug().
		Str("account_id", a.ID).
		Int("version", a.Version).
		Int("events", len(a.Events())).
		Msg("Аккаунт сохранён")

	a.ClearEvents()
	return nil
}

func (r *accountRepository) insert(ctx context.Context, tx *gorm.DB, a *domain.Account) error {
	model := &AccountModel{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		Status:    string(a.Status),
		Version:   1,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}

	if err := tx.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrEmailExists
		}
		return fmt.Errorf("ошибка создания аккаунта: %w", err)
	}

	a.Version = model.Version
	a.CreatedAt = model.CreatedAt
	a.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *accountRepository) update(ctx context.Context, tx *gorm.DB, a *domain.Account) error {
	result := tx.WithContext(ctx).
		Model(&AccountModel{}).
		Where("id = ? AND version = ?", a.ID, a.Version).
		Updates(map[string]any{
			"email":   a.Email,
			"name":    a.Name,
			"status":  string(a.Status),
			"version": a.Version + 1,
		})

	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return domain.ErrEmailExists
		}
		return fmt.Errorf("ошибка обновления аккаунта: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}

	a.Version++
	return nil
}

// GetByID возвращает аккаунт по ID.
func (r *accountRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Account, error) {
	var model AccountModel

	if err := tx.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ExistsByEmail проверяет существование аккаунта с заданным email.
func (r *accountRepository) ExistsByEmail(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
	var count int64

	if err := tx.WithContext(ctx).Model(&AccountModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "Duplicate entry")
}
