// Package logger предоставляет структурированное логирование на базе zerolog.
// JSON формат для production, pretty-print для локальной разработки.
// Сообщения логов пишутся на русском языке.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// log — глобальный логгер процесса.
	log zerolog.Logger

	// mu защищает замену глобального логгера (Init / SetGlobalLogger из тестов).
	mu sync.RWMutex
)

// Config содержит настройки логгера.
type Config struct {
	// Level — минимальный уровень: "trace", "debug", "info", "warn", "error".
	Level string

	// Pretty включает читаемый цветной вывод (ConsoleWriter).
	Pretty bool

	// Service добавляется полем "service" в каждую запись, если не пустой.
	Service string

	// Output — куда писать логи. По умолчанию os.Stdout.
	Output io.Writer
}

// init настраивает логгер из LOG_LEVEL / LOG_PRETTY, чтобы пакет был
// пригоден к использованию до загрузки конфигурации.
func init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	Init(Config{
		Level:  level,
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init пересоздаёт глобальный логгер по конфигурации.
// Вызывается в main сразу после загрузки конфигурации.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level := parseLevel(cfg.Level)

	ctx := zerolog.New(output).Level(level).With().Timestamp().Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	SetGlobalLogger(ctx.Logger())
}

// parseLevel переводит строку в zerolog.Level. Неизвестное значение — info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetGlobalLogger подменяет глобальный логгер (например, zerolog.Nop() в тестах).
func SetGlobalLogger(l zerolog.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

// With создаёт дочерний логгер с дополнительными полями.
//
//	workerLog := logger.With().Str("component", "relay").Logger()
func With() zerolog.Context {
	l := Logger()
	return l.With()
}

// Debug — событие уровня debug.
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

// Info — событие уровня info.
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn — событие уровня warn.
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error — событие уровня error.
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal — событие уровня fatal. После Msg() процесс завершится с кодом 1.
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}
