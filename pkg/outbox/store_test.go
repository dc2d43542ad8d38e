package outbox

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/txoutbox/pkg/event"
	applog "example.com/txoutbox/pkg/logger"
)

// =====================================
// Вспомогательные функции
// =====================================

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

type accountOpened struct {
	event.Base
	Email string `json:"email"`
}

func newOpened(aggregateID string) *accountOpened {
	return &accountOpened{Base: event.NewBase("account.opened", aggregateID, 1), Email: "a@example.com"}
}

// brokenEvent не сериализуется в JSON.
type brokenEvent struct {
	event.Base
	Ch chan int `json:"ch"`
}

var outboxColumns = []string{
	"id", "event_id", "event_name", "event_version", "aggregate_id", "aggregate_type",
	"payload", "headers", "status", "attempt_count", "last_attempt_at", "published_at",
	"error", "created_at", "updated_at",
}

// =====================================
// Тесты SaveEvents
// =====================================

func TestSaveEvents(t *testing.T) {
	tests := []struct {
		name        string
		events      []event.Event
		mockSetup   func(mock sqlmock.Sqlmock)
		expectedErr error
		wantErr     bool
	}{
		{
			name:   "успешное сохранение пачки",
			events: []event.Event{newOpened("acc-1"), newOpened("acc-1")},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox_events`")).
					WillReturnResult(sqlmock.NewResult(1, 2))
			},
		},
		{
			name:      "пустой список",
			events:    nil,
			mockSetup: func(mock sqlmock.Sqlmock) {},
		},
		{
			name:   "дубликат event_id",
			events: []event.Event{newOpened("acc-1")},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox_events`")).
					WillReturnError(&gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
			},
			expectedErr: ErrDuplicateEvent,
			wantErr:     true,
		},
		{
			name:   "ошибка БД",
			events: []event.Event{newOpened("acc-1")},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox_events`")).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
		{
			name: "ошибка сериализации отменяет всю пачку",
			events: []event.Event{
				newOpened("acc-1"),
				&brokenEvent{Base: event.NewBase("account.broken", "acc-1", 1), Ch: make(chan int)},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			mock.ExpectBegin()
			tx := gormDB.Begin()
			require.NoError(t, tx.Error)

			tt.mockSetup(mock)

			err := NewStore(gormDB).SaveEvents(context.Background(), tt.events, "account", tx)

			if tt.wantErr {
				require.Error(t, err)
				if tt.expectedErr != nil {
					assert.ErrorIs(t, err, tt.expectedErr)
				}
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSaveEvents_RequiresTransaction(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	err := NewStore(gormDB).SaveEvents(context.Background(), []event.Event{newOpened("acc-1")}, "account", nil)

	assert.ErrorIs(t, err, ErrTransactionRequired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeadersFromContext(t *testing.T) {
	assert.Nil(t, headersFromContext(context.Background()))

	ctx := applog.WithIDs(context.Background(), "trace-1", "corr-1")
	assert.Equal(t, map[string]string{
		HeaderTraceID:       "trace-1",
		HeaderCorrelationID: "corr-1",
	}, headersFromContext(ctx))
}

// =====================================
// Тесты чтения
// =====================================

func TestGetPendingEvents(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(outboxColumns).
		AddRow(1, "evt-1", "account.opened", 1, "acc-1", "account", []byte(`{"email":"a"}`), []byte(`{"trace_id":"t-1"}`), "PENDING", 0, nil, nil, nil, created, created).
		AddRow(2, "evt-2", "account.opened", 1, "acc-2", "account", []byte(`{"email":"b"}`), nil, "PENDING", 0, nil, nil, nil, created, created)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `outbox_events` WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?")).
		WithArgs("PENDING", 10).
		WillReturnRows(rows)

	records, err := NewStore(gormDB).GetPendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "evt-1", records[0].EventID)
	assert.Equal(t, StatusPending, records[0].Status)
	assert.Equal(t, "t-1", records[0].Headers[HeaderTraceID])
	assert.Equal(t, "evt-2", records[1].EventID)
	assert.Nil(t, records[1].Headers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPendingEvents_DefaultBatchSize(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `outbox_events` WHERE status = ?")).
		WithArgs("PENDING", DefaultBatchSize).
		WillReturnRows(sqlmock.NewRows(outboxColumns))

	records, err := NewStore(gormDB).GetPendingEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFailedEventsForRetry(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	created := time.Now().UTC()
	rows := sqlmock.NewRows(outboxColumns).
		AddRow(7, "evt-7", "account.opened", 1, "acc-7", "account", []byte(`{}`), nil, "FAILED", 2, created, nil, "kafka недоступна", created, created)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `outbox_events` WHERE status = ? AND attempt_count < ? ORDER BY created_at ASC, id ASC LIMIT ?")).
		WithArgs("FAILED", 5, RetryFetchLimit).
		WillReturnRows(rows)

	records, err := NewStore(gormDB).GetFailedEventsForRetry(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].AttemptCount)
	assert.Equal(t, "kafka недоступна", records[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFailedEventsForRetry_NoAttemptsAllowed(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	records, err := NewStore(gormDB).GetFailedEventsForRetry(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =====================================
// Тесты пометки статуса
// =====================================

func TestMarkAsPublished_Idempotent(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	updateSQL := "UPDATE `outbox_events` SET `published_at`=?,`status`=?,`updated_at`=? WHERE event_id = ? AND status <> ?"

	// Первый вызов меняет строку
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(updateSQL)).
		WithArgs(sqlmock.AnyArg(), "PUBLISHED", sqlmock.AnyArg(), "evt-1", "PUBLISHED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Повторный вызов не находит строк, но не возвращает ошибку
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(updateSQL)).
		WithArgs(sqlmock.AnyArg(), "PUBLISHED", sqlmock.AnyArg(), "evt-1", "PUBLISHED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	store := NewStore(gormDB)
	require.NoError(t, store.MarkAsPublished(context.Background(), "evt-1"))
	require.NoError(t, store.MarkAsPublished(context.Background(), "evt-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAsFailed(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		storedMsg string
	}{
		{"короткое сообщение", "kafka недоступна", "kafka недоступна"},
		{"длинное сообщение обрезается", strings.Repeat("x", MaxErrorLength+500), strings.Repeat("x", MaxErrorLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox_events` SET `attempt_count`=attempt_count + 1,`error`=?,`last_attempt_at`=?,`status`=?,`updated_at`=? WHERE event_id = ? AND status <> ?")).
				WithArgs(tt.storedMsg, sqlmock.AnyArg(), "FAILED", sqlmock.AnyArg(), "evt-1", "PUBLISHED").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			err := NewStore(gormDB).MarkAsFailed(context.Background(), "evt-1", tt.message)
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMarkAsFailed_DBError(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox_events`")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := NewStore(gormDB).MarkAsFailed(context.Background(), "evt-1", "boom")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =====================================
// Тесты очистки и статистики
// =====================================

// cutoffArg проверяет, что граница очистки отстоит от now ровно на days суток.
type cutoffArg struct {
	days int
}

func (a cutoffArg) Match(v driver.Value) bool {
	cutoff, ok := v.(time.Time)
	if !ok {
		return false
	}
	want := time.Now().UTC().AddDate(0, 0, -a.days)
	diff := want.Sub(cutoff)
	return diff >= 0 && diff < time.Minute
}

func TestDeleteOldPublishedEvents_Chunks(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	deleteSQL := regexp.QuoteMeta("DELETE FROM `outbox_events` WHERE status = ? AND published_at < ?")

	mock.ExpectBegin()
	mock.ExpectExec(deleteSQL).
		WithArgs("PUBLISHED", cutoffArg{days: 30}, deleteChunkSize).
		WillReturnResult(sqlmock.NewResult(0, deleteChunkSize))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(deleteSQL).
		WithArgs("PUBLISHED", cutoffArg{days: 30}, deleteChunkSize).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	deleted, err := NewStore(gormDB).DeleteOldPublishedEvents(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(deleteChunkSize+3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOldPublishedEvents_CutoffFollowsRetention(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `outbox_events` WHERE status = ? AND published_at < ?")).
		WithArgs("PUBLISHED", cutoffArg{days: 7}, deleteChunkSize).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	deleted, err := NewStore(gormDB).DeleteOldPublishedEvents(context.Background(), 7)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOldPublishedEvents_NegativeDays(t *testing.T) {
	gormDB, _, cleanup := setupMockDB(t)
	defer cleanup()

	_, err := NewStore(gormDB).DeleteOldPublishedEvents(context.Background(), -1)
	assert.Error(t, err)
}

func TestCountByStatus(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) AS total FROM .outbox_events. GROUP BY`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).
			AddRow("PENDING", 4).
			AddRow("FAILED", 2))

	counts, err := NewStore(gormDB).CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[StatusPending])
	assert.Equal(t, int64(2), counts[StatusFailed])
	assert.Equal(t, int64(0), counts[StatusPublished])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountExhausted(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `outbox_events` WHERE status = ? AND attempt_count >= ?")).
		WithArgs("FAILED", 5).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := NewStore(gormDB).CountExhausted(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "абв", truncate("абвгд", 3))
	assert.Equal(t, "аб", truncate("аб", 3))
}
