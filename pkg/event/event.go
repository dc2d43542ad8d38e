// Package event описывает доменные события: общий контракт, встраиваемую
// базовую реализацию, корень агрегата и реестр типов для десериализации.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event — доменное событие, которое агрегат накапливает при изменении состояния.
type Event interface {
	EventID() string
	AggregateID() string
	EventName() string
	EventVersion() int
	OccurredAt() time.Time
}

// Base — встраиваемая реализация Event. Поля специфичные для типа события
// объявляются в структуре, которая встраивает Base.
//
//	type AccountRegistered struct {
//	    event.Base
//	    Email string `json:"email"`
//	}
type Base struct {
	ID        string    `json:"eventId"`
	Aggregate string    `json:"aggregateId"`
	Name      string    `json:"eventName"`
	Version   int       `json:"eventVersion"`
	Occurred  time.Time `json:"occurredAt"`
}

// NewBase создаёт Base с новым UUID и текущим временем (UTC).
func NewBase(name, aggregateID string, version int) Base {
	if version <= 0 {
		version = 1
	}
	return Base{
		ID:        uuid.NewString(),
		Aggregate: aggregateID,
		Name:      name,
		Version:   version,
		Occurred:  time.Now().UTC(),
	}
}

func (b Base) EventID() string       { return b.ID }
func (b Base) AggregateID() string   { return b.Aggregate }
func (b Base) EventName() string     { return b.Name }
func (b Base) EventVersion() int     { return b.Version }
func (b Base) OccurredAt() time.Time { return b.Occurred }
