package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/irt/internal/apiclient"
	"github.com/bigkaa/irt/internal/config"
	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/i18n"
	"github.com/bigkaa/irt/internal/identity"
	"github.com/bigkaa/irt/internal/reconcile"
)

// errNotSignedIn — команда требует согласованный профиль.
var errNotSignedIn = errors.New("требуется вход: irtctl login")

type settingsLoader func() (*settings, error)

// app — зависимости одной команды CLI.
type app struct {
	cfg    *settings
	ctx    context.Context
	out    io.Writer
	logger *slog.Logger
	store  *identity.Store
	api    *apiclient.Client
	engine *reconcile.Engine
}

// newApp создаёт identity-хранилище, API-клиент и движок согласования.
func newApp(cmd *cobra.Command, load settingsLoader) (*app, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if err := os.MkdirAll(filepath.Dir(cfg.SessionFile), 0o700); err != nil {
		return nil, fmt.Errorf("создание каталога сессии: %w", err)
	}

	var httpClient *http.Client
	if cfg.CACert != "" {
		if httpClient, err = httpClientWithCA(cfg.CACert); err != nil {
			return nil, err
		}
	}

	oidc := identity.NewOIDCClient(identity.OIDCConfig{
		KeycloakURL: cfg.KeycloakURL,
		Realm:       cfg.Realm,
		ClientID:    cfg.ClientID,
		HTTPClient:  httpClient,
	})
	file, err := identity.NewSessionFile(cfg.SessionFile, cfg.SessionKey)
	if err != nil {
		return nil, err
	}
	store := identity.NewStore(oidc, file, logger)

	api, err := apiclient.New(cfg.APIURL, cfg.CACert, store.AccessToken, logger)
	if err != nil {
		return nil, err
	}

	ctx := i18n.WithLang(cmd.Context(), cfg.Lang)
	return &app{
		cfg:    cfg,
		ctx:    ctx,
		out:    cmd.OutOrStdout(),
		logger: logger,
		store:  store,
		api:    api,
		engine: reconcile.New(store, api, reconcile.Options{InitTimeout: cfg.InitTimeout}, logger),
	}, nil
}

// start запускает движок и ждёт результата начальной загрузки.
func (a *app) start() (reconcile.State, error) {
	if err := a.engine.Start(a.ctx); err != nil {
		return reconcile.State{}, err
	}
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.InitTimeout+time.Second)
	defer cancel()
	return a.engine.WaitReady(ctx)
}

func (a *app) close() {
	a.engine.Close()
}

// requireUser возвращает согласованный профиль или объясняет, почему его нет.
func (a *app) requireUser() (*model.User, error) {
	st, err := a.start()
	if err != nil {
		return nil, err
	}
	if st.Phase == reconcile.PhaseAuthenticated && st.User != nil {
		return st.User, nil
	}
	if session, _ := a.store.CurrentSession(a.ctx); session != nil {
		return nil, errors.New(i18n.T(a.ctx, "cli.degraded"))
	}
	return nil, errNotSignedIn
}

// withUser — обёртка RunE для команд, которым нужен профиль.
func withUser(load settingsLoader, run func(a *app, u *model.User, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, load)
		if err != nil {
			return err
		}
		defer a.close()

		u, err := a.requireUser()
		if err != nil {
			return err
		}
		return explain(a, run(a, u, cmd, args))
	}
}

// explain переводит ошибки API в сообщения для пользователя.
func explain(a *app, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "FORBIDDEN":
			return fmt.Errorf("%s: %s", i18n.T(a.ctx, "cli.forbidden"), apiErr.Message)
		case "UNAUTHORIZED":
			return errNotSignedIn
		}
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	return err
}

func httpClientWithCA(path string) (*http.Client, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM(pem)
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		},
	}, nil
}
