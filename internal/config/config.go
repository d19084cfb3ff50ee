// Пакет config — загрузка и валидация конфигурации Stream Gateway
// из переменных окружения.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения SG_STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config содержит все параметры конфигурации Stream Gateway.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Файл логов с ротацией (пусто — только stdout)
	LogFile string
	// Максимальный размер файла логов в мегабайтах
	LogMaxSizeMB int
	// Количество хранимых архивов логов
	LogMaxBackups int
	// Публичный базовый URL для ссылок /watch и /dl
	PublicURL string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 0 — без ограничения, длинные потоки)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Хранилище ---

	// Тип хранилища: postgres, memory
	Store string
	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Backend-клиенты ---

	// Основной клиент (name=url или url)
	PrimaryBackend string
	// Клиенты-обработчики (через запятую)
	ProcessorBackends []string
	// Запускать ли клиентов-обработчиков
	MultiClient bool
	// Путь к CA-сертификату для HTTP backend (опционально)
	BackendCACertPath string
	// Статический bearer-токен для HTTP backend (опционально)
	BackendToken string
	// Путь health-проверки HTTP backend при старте клиента
	BackendHealthPath string

	// --- Потоковая отдача ---

	// Размер чанка планировщика
	ChunkSize int64
	// Таймаут загрузки одного чанка (0 — без ограничения)
	ChunkFetchTimeout time.Duration
	// Пауза при throttling backend без явной длительности
	TransientDefaultWait time.Duration
	// Размер LRU кэша stream-адаптеров
	AdapterCacheSize int
	// Размер кэша записей файлов
	RecordCacheSize int
	// TTL кэша записей файлов
	RecordCacheTTL time.Duration

	// --- Жизненный цикл ---

	// Время жизни записи файла
	FileTTL time.Duration
	// Окно эксклюзивности активного запроса
	RequestTTL time.Duration
	// Интервал очистки просроченных файлов
	FileSweepInterval time.Duration
	// Интервал очистки устаревших запросов
	RequestSweepInterval time.Duration

	// --- JWT (внутренний API) ---

	// URL JWKS endpoint (пусто — внутренний API без аутентификации)
	JWTJWKSURL string
	// Issuer JWT (пусто — не проверяется)
	JWTIssuer string
	// Путь к CA-сертификату JWKS endpoint (опционально)
	JWTCACertPath string
	// Группы, дающие роль admin
	RoleAdminGroups []string
	// Группы, дающие роль service
	RoleServiceGroups []string

	// --- topologymetrics ---

	// Группа в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes на всех зависимостях
	DephealthIsEntry bool

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SG_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("SG_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("SG_PORT: %w", err)
	}
	if cfg.Port < 8040 || cfg.Port > 8049 {
		return nil, fmt.Errorf("SG_PORT: значение %d вне допустимого диапазона 8040-8049", cfg.Port)
	}

	// SG_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SG_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SG_LOG_LEVEL: %w", err)
	}

	// SG_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SG_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SG_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.LogFile = getEnvDefault("SG_LOG_FILE", "")
	cfg.LogMaxSizeMB, err = getEnvInt("SG_LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return nil, fmt.Errorf("SG_LOG_MAX_SIZE_MB: %w", err)
	}
	cfg.LogMaxBackups, err = getEnvInt("SG_LOG_MAX_BACKUPS", 2)
	if err != nil {
		return nil, fmt.Errorf("SG_LOG_MAX_BACKUPS: %w", err)
	}

	cfg.PublicURL = strings.TrimRight(
		getEnvDefault("SG_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("SG_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("SG_HTTP_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("SG_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("SG_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Хранилище ---

	cfg.Store = getEnvDefault("SG_STORE", StorePostgres)
	switch cfg.Store {
	case StorePostgres:
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("SG_STORE: недопустимое значение %q, допустимые: postgres, memory", cfg.Store)
	}

	// --- Backend-клиенты ---

	cfg.PrimaryBackend = getEnvDefault("SG_PRIMARY_BACKEND", "")
	cfg.ProcessorBackends = parseCSV(getEnvDefault("SG_PROCESSOR_BACKENDS", ""))
	cfg.MultiClient, err = getEnvBool("SG_MULTI_CLIENT", true)
	if err != nil {
		return nil, fmt.Errorf("SG_MULTI_CLIENT: %w", err)
	}
	if cfg.PrimaryBackend == "" && (len(cfg.ProcessorBackends) == 0 || !cfg.MultiClient) {
		return nil, fmt.Errorf("SG_PRIMARY_BACKEND: не задан ни основной клиент, ни клиенты-обработчики")
	}
	cfg.BackendCACertPath = getEnvDefault("SG_BACKEND_CA_CERT_PATH", "")
	cfg.BackendToken = getEnvDefault("SG_BACKEND_TOKEN", "")
	cfg.BackendHealthPath = getEnvDefault("SG_BACKEND_HEALTH_PATH", "/health/live")

	// --- Потоковая отдача ---

	chunkSize, err := getEnvInt("SG_CHUNK_SIZE", 2<<20)
	if err != nil {
		return nil, fmt.Errorf("SG_CHUNK_SIZE: %w", err)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("SG_CHUNK_SIZE: значение должно быть > 0")
	}
	cfg.ChunkSize = int64(chunkSize)

	cfg.ChunkFetchTimeout, err = getEnvDuration("SG_CHUNK_FETCH_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("SG_CHUNK_FETCH_TIMEOUT: %w", err)
	}
	cfg.TransientDefaultWait, err = getEnvDuration("SG_TRANSIENT_DEFAULT_WAIT", time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_TRANSIENT_DEFAULT_WAIT: %w", err)
	}
	cfg.AdapterCacheSize, err = getEnvInt("SG_ADAPTER_CACHE_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("SG_ADAPTER_CACHE_SIZE: %w", err)
	}
	if cfg.AdapterCacheSize <= 0 {
		return nil, fmt.Errorf("SG_ADAPTER_CACHE_SIZE: значение должно быть > 0")
	}
	cfg.RecordCacheSize, err = getEnvInt("SG_RECORD_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("SG_RECORD_CACHE_SIZE: %w", err)
	}
	cfg.RecordCacheTTL, err = getEnvDuration("SG_RECORD_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_RECORD_CACHE_TTL: %w", err)
	}

	// --- Жизненный цикл ---

	cfg.FileTTL, err = getEnvPositiveDuration("SG_FILE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SG_FILE_TTL: %w", err)
	}
	cfg.RequestTTL, err = getEnvPositiveDuration("SG_REQUEST_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SG_REQUEST_TTL: %w", err)
	}
	cfg.FileSweepInterval, err = getEnvPositiveDuration("SG_FILE_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SG_FILE_SWEEP_INTERVAL: %w", err)
	}
	cfg.RequestSweepInterval, err = getEnvPositiveDuration("SG_REQUEST_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SG_REQUEST_SWEEP_INTERVAL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("SG_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("SG_JWT_ISSUER", "")
	cfg.JWTCACertPath = getEnvDefault("SG_JWT_CA_CERT_PATH", "")
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("SG_ROLE_ADMIN_GROUPS", "artsore-admins"))
	cfg.RoleServiceGroups = parseCSV(getEnvDefault("SG_ROLE_SERVICE_GROUPS", "artsore-bots"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("SG_DEPHEALTH_GROUP", "goartstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("SG_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("SG_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDatabase читает параметры PostgreSQL (обязательны при SG_STORE=postgres).
func loadDatabase(cfg *Config) error {
	var err error
	if cfg.DBHost, err = getEnvRequired("SG_DB_HOST"); err != nil {
		return err
	}
	if cfg.DBPort, err = getEnvInt("SG_DB_PORT", 5432); err != nil {
		return fmt.Errorf("SG_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("SG_DB_NAME"); err != nil {
		return err
	}
	if cfg.DBUser, err = getEnvRequired("SG_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("SG_DB_PASSWORD"); err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("SG_DB_SSL_MODE", "disable")
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// При заданном SG_LOG_FILE вывод дублируется в файл с ротацией (lumberjack).
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
