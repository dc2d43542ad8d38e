// Package uow реализует Unit of Work — границу одной атомарной транзакции.
//
// Репозитории получают дескриптор транзакции через Transaction() и выполняют
// все записи через него, поэтому состояние агрегата и записи outbox
// фиксируются или откатываются вместе.
//
// Повторный Start() на активной транзакции — ошибка ErrTransactionAlreadyActive.
// Вложенные транзакции и неявное переиспользование не поддерживаются.
package uow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

var (
	// ErrNoActiveTransaction — операция требует активной транзакции.
	ErrNoActiveTransaction = errors.New("нет активной транзакции")

	// ErrTransactionAlreadyActive — Start() вызван при уже открытой транзакции.
	ErrTransactionAlreadyActive = errors.New("транзакция уже открыта")
)

// UnitOfWork владеет не более чем одной транзакцией GORM.
// Экземпляр создаётся на одну логическую операцию.
type UnitOfWork struct {
	db *gorm.DB

	mu sync.Mutex
	tx *gorm.DB
}

// New создаёт Unit of Work поверх подключения.
func New(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Start открывает транзакцию.
func (u *UnitOfWork) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.tx != nil {
		return ErrTransactionAlreadyActive
	}

	tx := u.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", tx.Error)
	}

	u.tx = tx
	return nil
}

// Commit фиксирует транзакцию. Дескриптор очищается даже при ошибке драйвера:
// после неудачного COMMIT транзакцию уже нельзя использовать.
func (u *UnitOfWork) Commit() error {
	tx, err := u.take()
	if err != nil {
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Rollback откатывает транзакцию и очищает дескриптор.
func (u *UnitOfWork) Rollback() error {
	tx, err := u.take()
	if err != nil {
		return err
	}

	if err := tx.Rollback().Error; err != nil {
		return fmt.Errorf("ошибка отката транзакции: %w", err)
	}
	return nil
}

// IsActive сообщает, открыта ли транзакция.
func (u *UnitOfWork) IsActive() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx != nil
}

// Transaction возвращает дескриптор активной транзакции для репозиториев.
func (u *UnitOfWork) Transaction() (*gorm.DB, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.tx == nil {
		return nil, ErrNoActiveTransaction
	}
	return u.tx, nil
}

// take забирает дескриптор и очищает состояние.
func (u *UnitOfWork) take() (*gorm.DB, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.tx == nil {
		return nil, ErrNoActiveTransaction
	}
	tx := u.tx
	u.tx = nil
	return tx, nil
}
