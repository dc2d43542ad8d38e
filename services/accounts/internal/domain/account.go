package domain

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/txoutbox/pkg/event"
)

// Status — статус аккаунта.
type Status string

const (
	// StatusActive — аккаунт активен.
	StatusActive Status = "ACTIVE"

	// StatusDeactivated — аккаунт деактивирован, изменения запрещены.
	StatusDeactivated Status = "DEACTIVATED"
)

// Account — агрегат аккаунта.
// Каждое изменение состояния записывает событие, которое репозиторий
// сохраняет в outbox в той же транзакции, что и сам аккаунт.
type Account struct {
	event.AggregateRoot

	ID        string    // UUID
	Email     string    // Уникальный email
	Name      string    // Имя владельца
	Status    Status    // Текущий статус
	Version   int       // Версия для оптимистичной блокировки (0 — ещё не сохранён)
	CreatedAt time.Time // Дата создания
	UpdatedAt time.Time // Дата последнего изменения
}

// Register создаёт новый аккаунт и записывает AccountRegistered.
func Register(email, name string) (*Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	now := time.Now().UTC()
	a := &Account{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	a.Record(&AccountRegistered{
		Base:  event.NewBase(EventAccountRegistered, a.ID, 1),
		Email: a.Email,
		Name:  a.Name,
	})

	return a, nil
}

// IsNew сообщает, что аккаунт ещё не сохранён в БД.
func (a *Account) IsNew() bool {
	return a.Version == 0
}

// ChangeEmail меняет email и записывает AccountEmailChanged.
func (a *Account) ChangeEmail(email string) error {
	if a.Status == StatusDeactivated {
		return ErrAccountDeactivated
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if email == a.Email {
		return ErrSameEmail
	}

	old := a.Email
	a.Email = email
	a.UpdatedAt = time.Now().UTC()

	a.Record(&AccountEmailChanged{
		Base:     event.NewBase(EventAccountEmailChanged, a.ID, 1),
		OldEmail: old,
		NewEmail: email,
	})
	return nil
}

// Deactivate деактивирует аккаунт и записывает AccountDeactivated.
func (a *Account) Deactivate(reason string) error {
	if a.Status == StatusDeactivated {
		return ErrAccountDeactivated
	}

	a.Status = StatusDeactivated
	a.UpdatedAt = time.Now().UTC()

	a.Record(&AccountDeactivated{
		Base:   event.NewBase(EventAccountDeactivated, a.ID, 1),
		Reason: strings.TrimSpace(reason),
	})
	return nil
}

// normalizeEmail приводит email к нижнему регистру и проверяет формат.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
