package outbox

import (
	"time"

	"gorm.io/gorm"
)

// Model — GORM модель для таблицы outbox_events.
type Model struct {
	ID            uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:uk_outbox_event_id"`
	EventName     string     `gorm:"column:event_name;type:varchar(100);not null;index:idx_outbox_event_name"`
	EventVersion  int        `gorm:"column:event_version;not null;default:1"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(64);not null;index:idx_outbox_aggregate_id"`
	AggregateType string     `gorm:"column:aggregate_type;type:varchar(50);not null"`
	Payload       []byte     `gorm:"column:payload;type:json;not null"`
	Headers       []byte     `gorm:"column:headers;type:json"`
	Status        Status     `gorm:"column:status;type:varchar(20);not null;index:idx_outbox_status;index:idx_outbox_status_attempts,priority:1"`
	AttemptCount  int        `gorm:"column:attempt_count;not null;default:0;index:idx_outbox_status_attempts,priority:2"`
	LastAttemptAt *time.Time `gorm:"column:last_attempt_at"`
	PublishedAt   *time.Time `gorm:"column:published_at"`
	Error         *string    `gorm:"column:error;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime;index:idx_outbox_created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (Model) TableName() string {
	return "outbox_events"
}

// ToRecord конвертирует GORM модель в запись outbox.
func (m *Model) ToRecord() *Record {
	r := &Record{
		ID:            m.ID,
		EventID:       m.EventID,
		EventName:     m.EventName,
		EventVersion:  m.EventVersion,
		AggregateID:   m.AggregateID,
		AggregateType: m.AggregateType,
		Payload:       m.Payload,
		Status:        m.Status,
		AttemptCount:  m.AttemptCount,
		LastAttemptAt: m.LastAttemptAt,
		PublishedAt:   m.PublishedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.Error != nil {
		r.Error = *m.Error
	}

	// Битые headers не мешают доставке
	if len(m.Headers) > 0 {
		_ = r.SetHeadersFromJSON(m.Headers)
	}

	return r
}

// Migrate создаёт или обновляет таблицу outbox_events со всеми индексами.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Model{})
}
