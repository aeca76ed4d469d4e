package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"IRT_DB_HOST":               "localhost",
		"IRT_DB_NAME":               "irt",
		"IRT_DB_USER":               "irt",
		"IRT_DB_PASSWORD":           "secret",
		"IRT_KEYCLOAK_URL":          "https://sso.irt.local",
		"IRT_KEYCLOAK_CLIENT_ID":    "irt-server",
		"IRT_KEYCLOAK_CLIENT_SECRET": "kc-secret",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.KeycloakRealm != "irt" {
		t.Errorf("KeycloakRealm = %q, ожидается irt", cfg.KeycloakRealm)
	}
	if cfg.ProfileCacheSize != 1000 {
		t.Errorf("ProfileCacheSize = %d, ожидается 1000", cfg.ProfileCacheSize)
	}
	if cfg.ProfileCacheTTL != time.Minute {
		t.Errorf("ProfileCacheTTL = %v, ожидается 1m", cfg.ProfileCacheTTL)
	}
	if cfg.ProfileSyncInterval != 15*time.Minute {
		t.Errorf("ProfileSyncInterval = %v, ожидается 15m", cfg.ProfileSyncInterval)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
	if cfg.JWTLeeway != 5*time.Second {
		t.Errorf("JWTLeeway = %v, ожидается 5s", cfg.JWTLeeway)
	}
	if cfg.DephealthGroup != "irt" {
		t.Errorf("DephealthGroup = %q, ожидается irt", cfg.DephealthGroup)
	}
	if cfg.CACertPath != "" {
		t.Errorf("CACertPath = %q, ожидается пустой", cfg.CACertPath)
	}
	if len(cfg.BootstrapAdmins) != 0 {
		t.Errorf("BootstrapAdmins = %v, ожидается пустой", cfg.BootstrapAdmins)
	}
}

func TestLoad_JWTAutoDerive(t *testing.T) {
	envs := minimalEnvs()
	envs["IRT_KEYCLOAK_URL"] = "https://sso.irt.local/"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.KeycloakURL != "https://sso.irt.local" {
		t.Errorf("KeycloakURL = %q, trailing slash не убран", cfg.KeycloakURL)
	}
	if cfg.JWTIssuer != "https://sso.irt.local/realms/irt" {
		t.Errorf("JWTIssuer = %q", cfg.JWTIssuer)
	}
	if !strings.HasSuffix(cfg.JWTJWKSURL, "/realms/irt/protocol/openid-connect/certs") {
		t.Errorf("JWTJWKSURL = %q", cfg.JWTJWKSURL)
	}
}

func TestLoad_BootstrapAdmins(t *testing.T) {
	envs := minimalEnvs()
	envs["IRT_BOOTSTRAP_ADMINS"] = " Boss@IRT.fr , ,chef@irt.fr"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if len(cfg.BootstrapAdmins) != 2 || cfg.BootstrapAdmins[0] != "boss@irt.fr" {
		t.Errorf("BootstrapAdmins = %v, ожидается [boss@irt.fr chef@irt.fr]", cfg.BootstrapAdmins)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for missing := range minimalEnvs() {
		t.Run(missing, func(t *testing.T) {
			setEnvs(t, minimalEnvs())
			t.Setenv(missing, "")

			if _, err := Load(); err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"порт вне диапазона", "IRT_PORT", "70000"},
		{"порт не число", "IRT_PORT", "abc"},
		{"уровень логов", "IRT_LOG_LEVEL", "verbose"},
		{"формат логов", "IRT_LOG_FORMAT", "xml"},
		{"режим SSL", "IRT_DB_SSL_MODE", "prefer"},
		{"размер кэша", "IRT_PROFILE_CACHE_SIZE", "0"},
		{"TTL кэша", "IRT_PROFILE_CACHE_TTL", "минута"},
		{"интервал синхронизации", "IRT_PROFILE_SYNC_INTERVAL", "15"},
		{"leeway JWT", "IRT_JWT_LEEWAY", "5 секунд"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.value
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() не вернул ошибку при %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5433, DBName: "irt",
		DBUser: "u", DBPassword: "p", DBSSLMode: "require",
	}
	want := "host=db port=5433 dbname=irt user=u password=p sslmode=require"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", got, want)
	}
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"a, b ,c", 3},
		{",,", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseCSV(tt.input); len(got) != tt.want {
				t.Errorf("parseCSV(%q) = %v, ожидается %d элементов", tt.input, got, tt.want)
			}
		})
	}
}
