// Package healthcheck предоставляет функции проверки готовности процесса.
// Используется для Kubernetes readiness probes (/readyz).
package healthcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Check — одна проверка зависимости.
type Check func(ctx context.Context) error

// CheckMySQL проверяет доступность MySQL через GORM.
func CheckMySQL(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping: %w", err)
	}
	return nil
}

// CheckRedis проверяет доступность Redis.
func CheckRedis(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// CheckKafka проверяет, что хотя бы один брокер принимает соединения.
func CheckKafka(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("kafka: брокеры не указаны")
	}

	var errs []error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("kafka: %w", errors.Join(errs...))
}

// MySQL возвращает Check для MySQL.
func MySQL(db *gorm.DB) Check {
	return func(ctx context.Context) error { return CheckMySQL(ctx, db) }
}

// Redis возвращает Check для Redis.
func Redis(rdb *redis.Client) Check {
	return func(ctx context.Context) error { return CheckRedis(ctx, rdb) }
}

// Kafka возвращает Check для брокеров Kafka.
func Kafka(brokers []string) Check {
	return func(ctx context.Context) error { return CheckKafka(ctx, brokers) }
}

// Composite объединяет несколько проверок в одну.
// Выполняет все проверки и возвращает объединённую ошибку, чтобы /readyz
// показывал каждую недоступную зависимость, а не только первую.
func Composite(checks ...Check) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
