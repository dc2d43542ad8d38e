// Package domain содержит агрегат Account, его события и доменные ошибки.
package domain

import "errors"

// Доменные ошибки Accounts Service.
var (
	// ErrAccountNotFound возвращается, когда аккаунт не найден в базе данных.
	ErrAccountNotFound = errors.New("аккаунт не найден")

	// ErrEmailExists возвращается при попытке занять уже используемый email.
	ErrEmailExists = errors.New("аккаунт с таким email уже существует")

	// ErrInvalidEmail возвращается при некорректном формате email.
	ErrInvalidEmail = errors.New("некорректный формат email")

	// ErrEmptyName возвращается, если имя владельца аккаунта пустое.
	ErrEmptyName = errors.New("имя не может быть пустым")

	// ErrAccountDeactivated возвращается при изменении деактивированного аккаунта.
	ErrAccountDeactivated = errors.New("аккаунт деактивирован")

	// ErrSameEmail возвращается, если новый email совпадает с текущим.
	ErrSameEmail = errors.New("новый email совпадает с текущим")

	// ErrConcurrentModification возвращается, если аккаунт изменили параллельно
	// (версия в БД не совпала с прочитанной).
	ErrConcurrentModification = errors.New("аккаунт изменён параллельно, повторите операцию")
)
