package domain

import "example.com/txoutbox/pkg/event"

// AggregateType — значение колонки aggregate_type в outbox.
const AggregateType = "account"

// Типы событий аккаунта.
const (
	EventAccountRegistered   = "account.registered"
	EventAccountEmailChanged = "account.email_changed"
	EventAccountDeactivated  = "account.deactivated"
)

// AccountRegistered — аккаунт создан.
type AccountRegistered struct {
	event.Base
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AccountEmailChanged — email аккаунта изменён.
type AccountEmailChanged struct {
	event.Base
	OldEmail string `json:"oldEmail"`
	NewEmail string `json:"newEmail"`
}

// AccountDeactivated — аккаунт деактивирован.
type AccountDeactivated struct {
	event.Base
	Reason string `json:"reason,omitempty"`
}

// EventNames возвращает все типы событий аккаунта.
func EventNames() []string {
	return []string{
		EventAccountRegistered,
		EventAccountEmailChanged,
		EventAccountDeactivated,
	}
}

// RegisterEvents регистрирует события аккаунта в реестре,
// чтобы воркер мог восстановить их из payload outbox.
func RegisterEvents(r *event.Registry) error {
	factories := map[string]event.Factory{
		EventAccountRegistered:   func() event.Event { return &AccountRegistered{} },
		EventAccountEmailChanged: func() event.Event { return &AccountEmailChanged{} },
		EventAccountDeactivated:  func() event.Event { return &AccountDeactivated{} },
	}
	for _, name := range EventNames() {
		if err := r.Register(name, factories[name]); err != nil {
			return err
		}
	}
	return nil
}
