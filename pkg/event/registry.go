package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownEvent — тип события не зарегистрирован в реестре.
	ErrUnknownEvent = errors.New("неизвестный тип события")

	// ErrMalformedPayload — payload не удалось разобрать в структуру события.
	ErrMalformedPayload = errors.New("некорректный payload события")

	// ErrNameMismatch — eventName внутри payload не совпадает с колонкой event_name.
	ErrNameMismatch = errors.New("тип события в payload не совпадает с записью")
)

// DecodeError — типизированная ошибка десериализации. Позволяет отличить
// «битую» запись outbox от ошибки обработчика через errors.As.
type DecodeError struct {
	EventName string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ошибка десериализации события %q: %v", e.EventName, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Factory создаёт пустой экземпляр события конкретного типа (указатель).
type Factory func() Event

// Registry сопоставляет имя типа события с фабрикой.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register регистрирует тип события. Повторная регистрация имени — ошибка.
func (r *Registry) Register(name string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("имя типа события не может быть пустым")
	}
	if factory == nil {
		return fmt.Errorf("фабрика для %q не задана", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("тип события %q уже зарегистрирован", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister — Register, паникующий при ошибке. Для инициализации в main.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Names возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode сериализует событие в JSON для колонки payload.
func (r *Registry) Encode(evt Event) ([]byte, error) {
	return Encode(evt)
}

// Decode восстанавливает событие по имени типа и payload.
// Все ошибки возвращаются как *DecodeError.
func (r *Registry) Decode(name string, payload []byte) (Event, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &DecodeError{EventName: name, Err: ErrUnknownEvent}
	}

	evt := factory()
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, &DecodeError{EventName: name, Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}

	if evt.EventName() != name {
		return nil, &DecodeError{
			EventName: name,
			Err:       fmt.Errorf("%w: %q", ErrNameMismatch, evt.EventName()),
		}
	}

	return evt, nil
}

// Encode сериализует событие в JSON.
func Encode(evt Event) ([]byte, error) {
	if evt == nil {
		return nil, errors.New("событие не задано")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", evt.EventName(), err)
	}
	return data, nil
}
