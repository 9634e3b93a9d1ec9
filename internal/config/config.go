// Пакет config: загрузка и валидация конфигурации Archive Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые реализации хранилища метаданных (AR_METADATA_STORE).
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config содержит все параметры конфигурации Archive Module.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор сервиса (вершина графа topologymetrics)
	ServiceID string
	// Корневая директория для скачанных архивов и распаковки
	DownloadsDir string
	// Реализация хранилища метаданных: memory или postgres
	MetadataStore string

	// Параметры PostgreSQL (только для postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Таймаут установки соединения с источником архива
	ConnectTimeout time.Duration
	// Таймаут ожидания заголовков ответа источника
	ResponseHeaderTimeout time.Duration
	// Размер блока чтения при скачивании и копировании загрузки
	ChunkSize int
	// Максимальный размер загружаемого архива в байтах
	MaxUploadSize int64

	// URL JWKS endpoint. Пустое значение отключает аутентификацию.
	JWKSUrl string
	// Путь к CA-сертификату для JWKS endpoint (опционально)
	JWKSCACert string
	// Пропускать проверку TLS-сертификата JWKS endpoint
	TLSSkipVerify bool
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// Размер LRU-кэша завершённых записей (0: кэш отключён)
	CacheSize int
	// Время жизни записи в кэше
	CacheTTL time.Duration

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown (HTTP-сервер и незавершённые архивы)
	ShutdownTimeout time.Duration
}

// Load читает конфигурацию из переменных окружения AR_*.
// Возвращается первая найденная ошибка, в ней указано имя переменной.
func Load() (*Config, error) {
	e := &envReader{}
	cfg := &Config{
		Port:          e.intIn("AR_PORT", 8030, 1, 65535),
		ServiceID:     e.str("AR_SERVICE_ID", "archive-module"),
		DownloadsDir:  e.str("AR_DOWNLOADS_DIR", "downloads"),
		MetadataStore: e.oneOf("AR_METADATA_STORE", StoreMemory, StoreMemory, StorePostgres),

		ConnectTimeout:        e.positiveDuration("AR_CONNECT_TIMEOUT", 10*time.Second),
		ResponseHeaderTimeout: e.duration("AR_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
		// Не меньше одного блока tar
		ChunkSize:     e.intIn("AR_CHUNK_SIZE", 64<<10, 512, math.MaxInt32),
		MaxUploadSize: e.int64In("AR_MAX_UPLOAD_SIZE", 1<<30, 1, math.MaxInt64),

		JWKSUrl:             e.str("AR_JWKS_URL", ""),
		JWKSCACert:          e.str("AR_JWKS_CA_CERT", ""),
		TLSSkipVerify:       e.bool("AR_TLS_SKIP_VERIFY", false),
		JWKSClientTimeout:   e.duration("AR_JWKS_CLIENT_TIMEOUT", 10*time.Second),
		JWKSRefreshInterval: e.duration("AR_JWKS_REFRESH_INTERVAL", 15*time.Minute),
		JWTLeeway:           e.duration("AR_JWT_LEEWAY", 5*time.Second),

		CacheSize: e.intIn("AR_CACHE_SIZE", 1000, 0, math.MaxInt32),
		CacheTTL:  e.duration("AR_CACHE_TTL", 5*time.Minute),

		DephealthGroup:         e.str("AR_DEPHEALTH_GROUP", "archive-module"),
		DephealthCheckInterval: e.duration("AR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second),

		LogLevel:  e.logLevel("AR_LOG_LEVEL", slog.LevelInfo),
		LogFormat: e.oneOf("AR_LOG_FORMAT", "json", "json", "text"),

		HTTPReadTimeout: e.duration("AR_HTTP_READ_TIMEOUT", 30*time.Second),
		// Загрузка архива читается в рамках запроса целиком
		HTTPWriteTimeout: e.duration("AR_HTTP_WRITE_TIMEOUT", 10*time.Minute),
		HTTPIdleTimeout:  e.duration("AR_HTTP_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:  e.duration("AR_SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.MetadataStore == StorePostgres {
		cfg.DBHost = e.required("AR_DB_HOST")
		cfg.DBPort = e.intIn("AR_DB_PORT", 5432, 1, 65535)
		cfg.DBName = e.required("AR_DB_NAME")
		cfg.DBUser = e.required("AR_DB_USER")
		cfg.DBPassword = e.required("AR_DB_PASSWORD")
		cfg.DBSSLMode = e.oneOf("AR_DB_SSL_MODE", "disable", "disable", "require", "verify-ca", "verify-full")
	}

	if e.err != nil {
		return nil, e.err
	}
	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для лейблов topologymetrics (без пароля).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// AuthEnabled сообщает, настроена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// envReader читает переменные окружения и запоминает первую ошибку.
// После ошибки остальные значения всё равно возвращаются (по умолчанию),
// но результат Load отбрасывается.
type envReader struct {
	err error
}

func (e *envReader) fail(key, format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("%s: %s", key, fmt.Sprintf(format, args...))
	}
}

func (e *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		e.fail(key, "обязательная переменная окружения не задана")
	}
	return v
}

func (e *envReader) oneOf(key, def string, allowed ...string) string {
	v := e.str(key, def)
	if !slices.Contains(allowed, v) {
		e.fail(key, "недопустимое значение %q, допустимые: %s", v, strings.Join(allowed, ", "))
		return def
	}
	return v
}

func (e *envReader) int64In(key string, def, lo, hi int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.fail(key, "некорректное целое число: %q", raw)
		return def
	}
	if n < lo || n > hi {
		e.fail(key, "значение %d вне допустимого диапазона %d-%d", n, lo, hi)
		return def
	}
	return n
}

func (e *envReader) intIn(key string, def, lo, hi int) int {
	return int(e.int64In(key, int64(def), int64(lo), int64(hi)))
}

func (e *envReader) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, "некорректное логическое значение: %q", raw)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, "некорректная длительность: %q (формат Go: 30s, 5m, 1h)", raw)
		return def
	}
	return d
}

func (e *envReader) positiveDuration(key string, def time.Duration) time.Duration {
	d := e.duration(key, def)
	if d <= 0 {
		e.fail(key, "значение должно быть положительным")
		return def
	}
	return d
}

func (e *envReader) logLevel(key string, def slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	e.fail(key, "недопустимый уровень %q, допустимые: debug, info, warn, error", raw)
	return def
}
