// Пакет config — загрузка и валидация конфигурации сервера IRT
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервера IRT.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak ---

	// URL Keycloak (например, https://sso.irt.local)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для доступа к Keycloak Admin API (создание техников)
	KeycloakClientID string
	// Client Secret для доступа к Keycloak Admin API
	KeycloakClientSecret string
	// Путь к CA-сертификату Keycloak (пусто — системный пул)
	CACertPath string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое расхождение часов при проверке exp/iat
	JWTLeeway time.Duration

	// --- Профили ---

	// Email-адреса, профили которых при первом входе получают роль admin
	BootstrapAdmins []string
	// Размер LRU-кэша профилей
	ProfileCacheSize int
	// TTL записи в кэше профилей
	ProfileCacheTTL time.Duration
	// Интервал фоновой синхронизации профилей с Keycloak (0 — выключено)
	ProfileSyncInterval time.Duration

	// Группа сервиса в графе topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// IRT_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("IRT_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("IRT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IRT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IRT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IRT_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("IRT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IRT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("IRT_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("IRT_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("IRT_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("IRT_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("IRT_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("IRT_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("IRT_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("IRT_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Keycloak ---

	if cfg.KeycloakURL, err = getEnvRequired("IRT_KEYCLOAK_URL"); err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// IRT_KEYCLOAK_REALM — realm (по умолчанию irt)
	cfg.KeycloakRealm = getEnvDefault("IRT_KEYCLOAK_REALM", "irt")

	if cfg.KeycloakClientID, err = getEnvRequired("IRT_KEYCLOAK_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.KeycloakClientSecret, err = getEnvRequired("IRT_KEYCLOAK_CLIENT_SECRET"); err != nil {
		return nil, err
	}
	cfg.CACertPath = getEnvDefault("IRT_CA_CERT_PATH", "")

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("IRT_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("IRT_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWKSClientTimeout, err = getEnvDuration("IRT_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IRT_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("IRT_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IRT_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("IRT_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IRT_JWT_LEEWAY: %w", err)
	}

	// --- Профили ---

	cfg.BootstrapAdmins = parseCSV(strings.ToLower(getEnvDefault("IRT_BOOTSTRAP_ADMINS", "")))

	cfg.ProfileCacheSize, err = getEnvInt("IRT_PROFILE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("IRT_PROFILE_CACHE_SIZE: %w", err)
	}
	if cfg.ProfileCacheSize < 1 {
		return nil, fmt.Errorf("IRT_PROFILE_CACHE_SIZE: значение %d должно быть положительным", cfg.ProfileCacheSize)
	}

	cfg.ProfileCacheTTL, err = getEnvDuration("IRT_PROFILE_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IRT_PROFILE_CACHE_TTL: %w", err)
	}

	// IRT_PROFILE_SYNC_INTERVAL — 0 выключает фоновую синхронизацию
	cfg.ProfileSyncInterval, err = getEnvDuration("IRT_PROFILE_SYNC_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IRT_PROFILE_SYNC_INTERVAL: %w", err)
	}

	cfg.DephealthGroup = getEnvDefault("IRT_DEPHEALTH_GROUP", "irt")

	cfg.DephealthCheckInterval, err = getEnvDuration("IRT_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IRT_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("IRT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IRT_SHUTDOWN_TIMEOUT: %w", err)
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

// SetupLogger настраивает глобальный slog-логгер.
func SetupLogger(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLogLevel — экспортируемая обёртка для CLI.
func ParseLogLevel(level string) (slog.Level, error) {
	return parseLogLevel(level)
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

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

// parseCSV разбирает строку через запятую, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
