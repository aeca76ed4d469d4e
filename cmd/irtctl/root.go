package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bigkaa/irt/internal/config"
)

// Ключи конфигурации irtctl (файл irtctl.yaml, env IRTCTL_*, флаги).
const (
	keyAPIURL      = "api_url"
	keyKeycloakURL = "keycloak_url"
	keyRealm       = "realm"
	keyClientID    = "client_id"
	keySessionFile = "session_file"
	keySessionKey  = "session_key"
	keyDraftFile   = "draft_file"
	keyInitTimeout = "init_timeout"
	keyLang        = "lang"
	keyCACert      = "ca_cert"
	keyLogLevel    = "log_level"
)

// settings — итоговая конфигурация CLI.
type settings struct {
	APIURL      string
	KeycloakURL string
	Realm       string
	ClientID    string
	SessionFile string
	SessionKey  string
	DraftFile   string
	InitTimeout time.Duration
	Lang        string
	CACert      string
	LogLevel    string
}

// configDir — ~/.config/irt (или аналог ОС).
func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "irt")
}

// newViper создаёт viper с умолчаниями и окружением IRTCTL_*.
func newViper() *viper.Viper {
	v := viper.New()
	dir := configDir()

	v.SetDefault(keyAPIURL, "http://localhost:8080")
	v.SetDefault(keyKeycloakURL, "http://localhost:8180")
	v.SetDefault(keyRealm, "irt")
	v.SetDefault(keyClientID, "irtctl")
	v.SetDefault(keySessionFile, filepath.Join(dir, "session.enc"))
	v.SetDefault(keySessionKey, "")
	v.SetDefault(keyDraftFile, filepath.Join(dir, "draft.json"))
	v.SetDefault(keyInitTimeout, 10*time.Second)
	v.SetDefault(keyLang, "fr")
	v.SetDefault(keyCACert, "")
	v.SetDefault(keyLogLevel, "warn")

	v.SetConfigName("irtctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("IRTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// loadSettings читает файл конфигурации (если есть) и собирает settings.
func loadSettings(v *viper.Viper, configFile string) (*settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("чтение конфигурации irtctl: %w", err)
		}
	}

	s := &settings{
		APIURL:      strings.TrimRight(v.GetString(keyAPIURL), "/"),
		KeycloakURL: strings.TrimRight(v.GetString(keyKeycloakURL), "/"),
		Realm:       v.GetString(keyRealm),
		ClientID:    v.GetString(keyClientID),
		SessionFile: v.GetString(keySessionFile),
		SessionKey:  v.GetString(keySessionKey),
		DraftFile:   v.GetString(keyDraftFile),
		InitTimeout: v.GetDuration(keyInitTimeout),
		Lang:        v.GetString(keyLang),
		CACert:      v.GetString(keyCACert),
		LogLevel:    v.GetString(keyLogLevel),
	}
	if s.APIURL == "" || s.KeycloakURL == "" {
		return nil, fmt.Errorf("%s и %s обязательны", keyAPIURL, keyKeycloakURL)
	}
	if s.Lang != "fr" && s.Lang != "en" {
		return nil, fmt.Errorf("%s: недопустимое значение %q, допустимые: fr, en", keyLang, s.Lang)
	}
	if _, err := config.ParseLogLevel(s.LogLevel); err != nil {
		return nil, fmt.Errorf("%s: %w", keyLogLevel, err)
	}
	return s, nil
}

// newRootCMD собирает дерево команд.
func newRootCMD() *cobra.Command {
	v := newViper()
	var configFile string

	root := &cobra.Command{
		Use:           "irtctl",
		Short:         "CLI техника IRT",
		Long:          "Учёт вмешательств IRT: вход, создание записей, статистика и экспорт отчётов.",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "путь к файлу конфигурации (по умолчанию "+filepath.Join(configDir(), "irtctl.yaml")+")")
	flags.String("api-url", "", "адрес API irt-server")
	flags.String("keycloak-url", "", "адрес Keycloak")
	flags.String("lang", "", "язык вывода: fr | en")
	flags.String("log-level", "", "уровень логирования: debug | info | warn | error")
	_ = v.BindPFlag(keyAPIURL, flags.Lookup("api-url"))
	_ = v.BindPFlag(keyKeycloakURL, flags.Lookup("keycloak-url"))
	_ = v.BindPFlag(keyLang, flags.Lookup("lang"))
	_ = v.BindPFlag(keyLogLevel, flags.Lookup("log-level"))

	loader := func() (*settings, error) { return loadSettings(v, configFile) }

	root.AddCommand(
		newLoginCMD(loader),
		newLogoutCMD(loader),
		newWhoamiCMD(loader),
		newInterventionCMD(loader),
		newStatsCMD(loader),
		newExportCMD(loader),
		newPricingCMD(loader),
		newProfilesCMD(loader),
	)
	return root
}
