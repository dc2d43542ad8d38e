package event

// AggregateRoot встраивается в агрегат и хранит события, накопленные
// с момента последней передачи в шину.
//
// Не потокобезопасен: агрегат меняется в рамках одной операции.
type AggregateRoot struct {
	pending []Event
}

// Record добавляет событие в конец списка.
func (a *AggregateRoot) Record(evt Event) {
	if evt == nil {
		return
	}
	a.pending = append(a.pending, evt)
}

// Events возвращает копию накопленных событий в порядке записи.
func (a *AggregateRoot) Events() []Event {
	if len(a.pending) == 0 {
		return nil
	}
	out := make([]Event, len(a.pending))
	copy(out, a.pending)
	return out
}

// HasEvents сообщает, есть ли непереданные события.
func (a *AggregateRoot) HasEvents() bool {
	return len(a.pending) > 0
}

// ClearEvents очищает список после того, как события записаны в outbox.
func (a *AggregateRoot) ClearEvents() {
	a.pending = nil
}
