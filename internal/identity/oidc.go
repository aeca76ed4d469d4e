// Пакет identity — хранилище сессий identity-провайдера (Keycloak) для CLI:
// вход по паролю (Resource Owner Password Grant), обновление токенов,
// выход и хранение сессии в зашифрованном файле.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/irt/internal/reconcile"
)

// ErrSessionMissing — сессии нет или Keycloak её уже не знает.
var ErrSessionMissing = reconcile.ErrSessionMissing

// OIDCClient — клиент token/logout endpoints Keycloak для public client.
type OIDCClient struct {
	clientID   string
	tokenURL   string
	logoutURL  string
	jwksURL    string
	issuer     string
	httpClient *http.Client
}

// OIDCConfig — конфигурация OIDC-клиента.
type OIDCConfig struct {
	KeycloakURL string
	Realm       string
	// ClientID — public client с включённым Direct Access Grants
	ClientID string
	// HTTPClient — nil, создаётся клиент с Timeout
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewOIDCClient создаёт OIDC-клиент.
func NewOIDCClient(cfg OIDCConfig) *OIDCClient {
	realmURL := fmt.Sprintf("%s/realms/%s", strings.TrimRight(cfg.KeycloakURL, "/"), cfg.Realm)
	base := realmURL + "/protocol/openid-connect"

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &OIDCClient{
		clientID:   cfg.ClientID,
		tokenURL:   base + "/token",
		logoutURL:  base + "/logout",
		jwksURL:    base + "/certs",
		issuer:     realmURL,
		httpClient: httpClient,
	}
}

// JWKSURL — адрес набора ключей realm.
func (c *OIDCClient) JWKSURL() string { return c.jwksURL }

// Issuer — issuer токенов realm.
func (c *OIDCClient) Issuer() string { return c.issuer }

// TokenResponse — ответ token endpoint.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`  //nolint:gosec // структура токена OAuth2
	RefreshToken     string `json:"refresh_token"` //nolint:gosec // структура токена OAuth2
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	IDToken          string `json:"id_token"`
}

// TokenError — ошибка OAuth2 от Keycloak.
type TokenError struct {
	Status      int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("Keycloak вернул статус %d", e.Status)
	}
	return fmt.Sprintf("Keycloak: %s (%s)", e.Code, e.Description)
}

// IsInvalidGrant — неверные учётные данные или недействительный refresh token.
func IsInvalidGrant(err error) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Code == "invalid_grant"
}

// PasswordGrant получает токены по email и паролю.
func (c *OIDCClient) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	return c.doTokenRequest(ctx, url.Values{
		"grant_type": {"password"},
		"client_id":  {c.clientID},
		"username":   {username},
		"password":   {password},
		"scope":      {"openid profile email"},
	})
}

// RefreshTokens обновляет пару токенов.
func (c *OIDCClient) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.doTokenRequest(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
	})
}

// Logout завершает сессию в Keycloak по refresh token.
// Для уже недействительной сессии возвращает ошибку с ErrSessionMissing.
func (c *OIDCClient) Logout(ctx context.Context, refreshToken string) error {
	data := url.Values{
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
	}
	resp, err := c.post(ctx, c.logoutURL, data)
	if err != nil {
		return fmt.Errorf("ошибка запроса к logout endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	tokenErr := readTokenError(resp)
	if tokenErr.Code == "invalid_grant" || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrSessionMissing, tokenErr)
	}
	return tokenErr
}

func (c *OIDCClient) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, err := c.post(ctx, c.tokenURL, data)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readTokenError(resp)
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("ошибка парсинга token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("token response без access_token")
	}
	return &tokenResp, nil
}

func (c *OIDCClient) post(ctx context.Context, endpoint string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
}

func readTokenError(resp *http.Response) *TokenError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	te := &TokenError{Status: resp.StatusCode}
	var payload struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if json.Unmarshal(body, &payload) == nil {
		te.Code = payload.Error
		te.Description = payload.Description
	}
	return te
}
