// Package config загружает конфигурацию из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию процесса.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	MySQL   MySQLConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Outbox  OutboxConfig
	Jaeger  JaegerConfig
	Metrics MetricsConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"accounts-service"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig — HTTP API сервиса.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr возвращает адрес для HTTP API.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"txoutbox"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"MYSQL_AUTO_MIGRATE" envDefault:"true"`
}

// DSN возвращает строку подключения к MySQL.
// loc=UTC: created_at задаёт порядок доставки, поэтому время храним в одной зоне.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки Redis (ключи идемпотентности потребителей).
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки Kafka для пересылки событий наружу.
type KafkaConfig struct {
	Enabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"account.events"`
}

// OutboxConfig — настройки воркера outbox и транзакций.
type OutboxConfig struct {
	ProcessInterval time.Duration `env:"OUTBOX_PROCESS_INTERVAL" envDefault:"5s"`
	RetryInterval   time.Duration `env:"OUTBOX_RETRY_INTERVAL" envDefault:"1m"`
	CleanupInterval time.Duration `env:"OUTBOX_CLEANUP_INTERVAL" envDefault:"24h"`
	BatchSize       int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxAttempts     int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	RetentionDays   int           `env:"OUTBOX_RETENTION_DAYS" envDefault:"30"`

	// TxMaxAttempts — сколько раз повторять транзакцию при deadlock / lock wait timeout.
	TxMaxAttempts int `env:"OUTBOX_TX_MAX_ATTEMPTS" envDefault:"3"`

	// IdempotencyTTL — сколько хранить ключ обработанного события в Redis.
	IdempotencyTTL time.Duration `env:"OUTBOX_IDEMPOTENCY_TTL" envDefault:"168h"`

	// IdempotencyLeaseTTL — сколько живёт отметка "обрабатывается", если обработчик не завершился.
	IdempotencyLeaseTTL time.Duration `env:"OUTBOX_IDEMPOTENCY_LEASE_TTL" envDefault:"5m"`
}

// Validate проверяет, что значения имеют смысл для воркера.
func (c OutboxConfig) Validate() error {
	if c.ProcessInterval <= 0 || c.RetryInterval <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("интервалы outbox должны быть больше нуля")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE должен быть больше нуля: %d", c.BatchSize)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS должен быть больше нуля: %d", c.MaxAttempts)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("OUTBOX_RETENTION_DAYS должен быть больше нуля: %d", c.RetentionDays)
	}
	return nil
}

// JaegerConfig содержит настройки трассировки.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"false"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`

	// SampleRatio — доля сэмплируемых трейсов (0..1).
	SampleRatio float64 `env:"JAEGER_SAMPLE_RATIO" envDefault:"1"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig — HTTP сервер /metrics, /healthz, /readyz, /outbox/status.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load загружает конфигурацию из окружения. .env подхватывается, если есть.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse()
}

// LoadFromFile загружает конфигурацию, предварительно прочитав указанный .env файл.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	if err := cfg.Outbox.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация outbox: %w", err)
	}
	return cfg, nil
}

// IsDevelopment возвращает true для development окружения.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
