// Пакет apiclient — HTTP-клиент CLI к серверу IRT.
// Поддерживает TLS с кастомным CA (IRT_CA_CERT_PATH у irtctl).
// Реализует reconcile.ProfileStore поверх /api/v1/me.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/reconcile"
	"github.com/bigkaa/irt/internal/report"
)

// ErrUnauthorized — сервер отклонил токен.
var ErrUnauthorized = errors.New("требуется вход")

// TokenProvider — функция, возвращающая access token пользователя.
// В CLI это identity.Store.AccessToken.
type TokenProvider func(ctx context.Context) (string, error)

// APIError — ошибка API в формате {"error":{"code","message"}}.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap сопоставляет коды API с ошибками согласования профиля.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == "PROFILE_NOT_FOUND":
		return reconcile.ErrProfileNotFound
	case e.Status == http.StatusConflict:
		return reconcile.ErrProfileConflict
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Code == "PERSISTENCE_ERROR":
		return reconcile.ErrPersistence
	}
	return nil
}

// Client — HTTP-клиент API IRT.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider TokenProvider
	logger        *slog.Logger
}

// New создаёт клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, tokenProvider TokenProvider, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Debug("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "api_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// do выполняет запрос с авторизацией. Статус вне 2xx возвращается как *APIError.
// Вызывающий закрывает тело ответа.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("кодирование тела %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokenProvider != nil {
		token, err := c.tokenProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("получение токена: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// doJSON выполняет запрос и декодирует JSON-ответ в out (может быть nil).
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s %s: %w", method, path, err)
	}
	return nil
}

// --- reconcile.ProfileStore ---

// GetProfile — GET /api/v1/me. Сервер определяет профиль по токену,
// поэтому id только сверяется с ответом.
func (c *Client) GetProfile(ctx context.Context, id string) (*model.User, error) {
	u, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	if u.ID != id {
		c.logger.Warn("Профиль не соответствует subject сессии",
			slog.String("subject", id),
			slog.String("profile_id", u.ID),
		)
	}
	return u, nil
}

// CreateProfile — POST /api/v1/me. Профиль строит сервер по claims токена,
// поля u не передаются.
func (c *Client) CreateProfile(ctx context.Context, u *model.User) error {
	var p Profile
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/me", nil, nil, &p); err != nil {
		return err
	}
	c.logger.Debug("Профиль создан", slog.String("user_id", p.ID), slog.String("subject", u.ID))
	return nil
}

// Me возвращает профиль вызывающего.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var p Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/me", nil, nil, &p); err != nil {
		return nil, err
	}
	return p.User(), nil
}

// --- Вмешательства ---

// Filter — общие параметры выборки.
type Filter struct {
	UserID   string
	From, To *time.Time
}

func (f Filter) values() url.Values {
	q := url.Values{}
	if f.UserID != "" {
		q.Set("user_id", f.UserID)
	}
	if f.From != nil {
		q.Set("from", f.From.Format(time.DateOnly))
	}
	if f.To != nil {
		q.Set("to", f.To.Format(time.DateOnly))
	}
	return q
}

// ListInterventions — GET /api/v1/interventions.
func (c *Client) ListInterventions(ctx context.Context, f Filter) ([]model.Intervention, error) {
	var resp struct {
		Items []Intervention `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/interventions", f.values(), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Intervention, 0, len(resp.Items))
	for _, i := range resp.Items {
		out = append(out, i.Model())
	}
	return out, nil
}

// CreateIntervention — POST /api/v1/interventions.
func (c *Client) CreateIntervention(ctx context.Context, in model.NewIntervention) (*model.Intervention, error) {
	var created Intervention
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/interventions", nil, newInterventionOf(in), &created); err != nil {
		return nil, err
	}
	i := created.Model()
	return &i, nil
}

// Statistics — GET /api/v1/statistics.
func (c *Client) Statistics(ctx context.Context, kind report.PeriodKind, f Filter) (*report.Stats, error) {
	q := f.values()
	if kind != "" {
		q.Set("period", string(kind))
	}
	var st report.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/statistics", q, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Export — GET /api/v1/interventions/export. Файл пишется в w,
// возвращается имя файла из Content-Disposition.
func (c *Client) Export(ctx context.Context, format report.Format, lang string, f Filter, w io.Writer) (string, error) {
	q := f.values()
	q.Set("format", string(format))
	if lang != "" {
		q.Set("lang", lang)
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/interventions/export", q, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("получение отчёта: %w", err)
	}

	filename := fmt.Sprintf("interventions.%s", format)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return filename, nil
}

// --- Тарифы ---

// Pricing — GET /api/v1/pricing. Цены заполнены только для роли с правом viewInvoices.
func (c *Client) Pricing(ctx context.Context) ([]PriceEntry, error) {
	var resp struct {
		Items []PriceEntry `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/pricing", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Services — GET /api/v1/pricing/services?provider=.
func (c *Client) Services(ctx context.Context, provider model.Provider) ([]ServiceOption, error) {
	var resp struct {
		Items []ServiceOption `json:"items"`
	}
	q := url.Values{"provider": {string(provider)}}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/pricing/services", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// --- Администрирование ---

// ListProfiles — GET /api/v1/profiles.
func (c *Client) ListProfiles(ctx context.Context) ([]*model.User, error) {
	var resp struct {
		Items []Profile `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/profiles", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*model.User, 0, len(resp.Items))
	for _, p := range resp.Items {
		out = append(out, p.User())
	}
	return out, nil
}

// CreateTechnician — POST /api/v1/profiles.
func (c *Client) CreateTechnician(ctx context.Context, in NewTechnician) (*model.User, error) {
	var p Profile
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/profiles", nil, in, &p); err != nil {
		return nil, err
	}
	return p.User(), nil
}

// DeleteProfile — DELETE /api/v1/profiles/{id}.
// Возвращает true, если учётная запись Keycloak осталась без профиля.
func (c *Client) DeleteProfile(ctx context.Context, id string) (bool, error) {
	var resp struct {
		IdentityOrphaned bool `json:"identity_orphaned"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/profiles/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.IdentityOrphaned, nil
}

var _ reconcile.ProfileStore = (*Client)(nil)
