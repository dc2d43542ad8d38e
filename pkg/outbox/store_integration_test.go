//go:build integration

// Интеграционные тесты Store против реального MySQL.
// Запуск: go test -tags=integration ./pkg/outbox/...
package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/txoutbox/pkg/config"
	"example.com/txoutbox/pkg/db"
	"example.com/txoutbox/pkg/event"
	"example.com/txoutbox/pkg/outbox"
	"example.com/txoutbox/pkg/uow"
)

type itemAdded struct {
	event.Base
	SKU string `json:"sku"`
}

func setupMySQL(t *testing.T) *gorm.DB {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)

	gormDB, err := db.ConnectMySQL(context.Background(), cfg.MySQL, false)
	require.NoError(t, err, "MySQL недоступен")
	require.NoError(t, db.Migrate(gormDB))
	require.NoError(t, gormDB.Exec("DELETE FROM outbox_events").Error)

	return gormDB
}

func newItemAdded(aggregateID string) event.Event {
	return &itemAdded{Base: event.NewBase("cart.item_added", aggregateID, 1), SKU: "sku-1"}
}

func TestStore_Integration_AtomicWithTransaction(t *testing.T) {
	gormDB := setupMySQL(t)
	store := outbox.NewStore(gormDB)
	ctx := context.Background()

	// Откат: записи outbox не появляются
	errBusiness := errors.New("бизнес-правило нарушено")
	err := uow.Run(ctx, uow.New(gormDB), func(ctx context.Context, tx *gorm.DB) error {
		if err := store.SaveEvents(ctx, []event.Event{newItemAdded("cart-1")}, "cart", tx); err != nil {
			return err
		}
		return errBusiness
	})
	require.ErrorIs(t, err, errBusiness)

	pending, err := store.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Фиксация: обе записи видны в порядке создания
	first, second := newItemAdded("cart-1"), newItemAdded("cart-2")
	err = uow.Run(ctx, uow.New(gormDB), func(ctx context.Context, tx *gorm.DB) error {
		return store.SaveEvents(ctx, []event.Event{first, second}, "cart", tx)
	})
	require.NoError(t, err)

	pending, err = store.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.EventID(), pending[0].EventID)
	assert.Equal(t, second.EventID(), pending[1].EventID)
}

func TestStore_Integration_Lifecycle(t *testing.T) {
	gormDB := setupMySQL(t)
	store := outbox.NewStore(gormDB)
	ctx := context.Background()

	evt := newItemAdded("cart-1")
	require.NoError(t, uow.Run(ctx, uow.New(gormDB), func(ctx context.Context, tx *gorm.DB) error {
		return store.SaveEvents(ctx, []event.Event{evt}, "cart", tx)
	}))

	// Дубликат event_id отклоняется
	err := uow.Run(ctx, uow.New(gormDB), func(ctx context.Context, tx *gorm.DB) error {
		return store.SaveEvents(ctx, []event.Event{evt}, "cart", tx)
	})
	assert.ErrorIs(t, err, outbox.ErrDuplicateEvent)

	// Две неудачи: запись ещё доступна для повтора при maxAttempts=3
	require.NoError(t, store.MarkAsFailed(ctx, evt.EventID(), "попытка 1"))
	require.NoError(t, store.MarkAsFailed(ctx, evt.EventID(), "попытка 2"))

	retry, err := store.GetFailedEventsForRetry(ctx, 3)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, 2, retry[0].AttemptCount)
	assert.Equal(t, "попытка 2", retry[0].Error)

	retry, err = store.GetFailedEventsForRetry(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, retry)

	exhausted, err := store.CountExhausted(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), exhausted)

	// Публикация идемпотентна, после неё MarkAsFailed не действует
	require.NoError(t, store.MarkAsPublished(ctx, evt.EventID()))
	require.NoError(t, store.MarkAsPublished(ctx, evt.EventID()))
	require.NoError(t, store.MarkAsFailed(ctx, evt.EventID(), "поздняя ошибка"))

	var model outbox.Model
	require.NoError(t, gormDB.Where("event_id = ?", evt.EventID()).First(&model).Error)
	assert.Equal(t, outbox.StatusPublished, model.Status)
	assert.NotNil(t, model.PublishedAt)
	assert.Equal(t, 2, model.AttemptCount)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[outbox.StatusPublished])
}

func TestStore_Integration_DeleteOldPublished(t *testing.T) {
	gormDB := setupMySQL(t)
	store := outbox.NewStore(gormDB)
	ctx := context.Background()

	old, fresh := newItemAdded("cart-old"), newItemAdded("cart-fresh")
	require.NoError(t, uow.Run(ctx, uow.New(gormDB), func(ctx context.Context, tx *gorm.DB) error {
		return store.SaveEvents(ctx, []event.Event{old, fresh}, "cart", tx)
	}))
	require.NoError(t, store.MarkAsPublished(ctx, old.EventID()))
	require.NoError(t, store.MarkAsPublished(ctx, fresh.EventID()))

	// Состариваем одну запись за пределы срока хранения
	require.NoError(t, gormDB.Model(&outbox.Model{}).
		Where("event_id = ?", old.EventID()).
		Update("published_at", time.Now().UTC().AddDate(0, 0, -31)).Error)

	deleted, err := store.DeleteOldPublishedEvents(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, gormDB.Model(&outbox.Model{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}

func TestStore_Integration_DeleteKeepsUndelivered(t *testing.T) {
	gormDB := setupMySQL(t)
	store := outbox.NewStore(gormDB)
	ctx := context.Background()

	pending, failed, published := newItemAdded("cart-pending"), newItemAdded("cart-failed"), newItemAdded("cart-published")
	require.NoError(t, uow.Run(ctx, uow.New(gormDB), func(ctx context.Context, tx *gorm.DB) error {
		return store.SaveEvents(ctx, []event.Event{pending, failed, published}, "cart", tx)
	}))
	require.NoError(t, store.MarkAsFailed(ctx, failed.EventID(), "broker down"))
	require.NoError(t, store.MarkAsPublished(ctx, published.EventID()))

	// Все три записи старше срока хранения. У FAILED заполнен даже published_at:
	// удаление должно решаться статусом, а не только датой.
	aged := time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, gormDB.Model(&outbox.Model{}).
		Where("event_id IN ?", []string{pending.EventID(), failed.EventID(), published.EventID()}).
		UpdateColumns(map[string]any{
			"created_at":      aged,
			"updated_at":      aged,
			"last_attempt_at": aged,
			"published_at":    aged,
		}).Error)

	deleted, err := store.DeleteOldPublishedEvents(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var left []outbox.Model
	require.NoError(t, gormDB.Order("id").Find(&left).Error)
	require.Len(t, left, 2)
	assert.Equal(t, pending.EventID(), left[0].EventID)
	assert.Equal(t, outbox.StatusPending, left[0].Status)
	assert.Equal(t, failed.EventID(), left[1].EventID)
	assert.Equal(t, outbox.StatusFailed, left[1].Status)

	// Устаревшие недоставленные записи по-прежнему доступны воркеру
	toDeliver, err := store.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, toDeliver, 1)
	assert.Equal(t, pending.EventID(), toDeliver[0].EventID)

	retry, err := store.GetFailedEventsForRetry(ctx, 5)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, failed.EventID(), retry[0].EventID)
}
