// client.go — HTTP-клиент к Keycloak Admin REST API.
// Service account token получается через Client Credentials flow и
// кэшируется (обновление за 30s до expiration).
// Операции над пользователями realm: ListUsers, GetUser,
// CreateUser, UpdateUserAttributes, DeleteUser, RealmInfo.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUserExists — пользователь с таким username или email уже есть.
	ErrUserExists = errors.New("пользователь Keycloak уже существует")
	// ErrNotFound — пользователь или realm не найден.
	ErrNotFound = errors.New("ресурс Keycloak не найден")
)

// Client — HTTP-клиент к Keycloak Admin REST API.
type Client struct {
	baseURL      string // Базовый URL Keycloak (без trailing slash)
	realm        string // Имя realm
	clientID     string // Client ID для Client Credentials flow
	clientSecret string // Client Secret

	httpClient *http.Client
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент к Keycloak Admin REST API.
// baseURL — базовый URL Keycloak (например, https://sso.irt.local).
// realm — имя realm (например, irt).
// clientID, clientSecret — credentials для Client Credentials flow.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
	}
}

// --- Аутентификация ---

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// adminBaseURL возвращает базовый URL Admin REST API для realm.
func (c *Client) adminBaseURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, c.realm)
}

// getToken возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Проверяем кэш: если токен валиден ещё 30 секунд — используем его
	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	// Запрашиваем новый токен через Client Credentials flow
	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Keycloak токен обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Keycloak вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}

	return &token, nil
}

// --- HTTP helpers ---

// doAuthorized выполняет HTTP-запрос к Admin REST API с авторизацией.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	reqURL := c.adminBaseURL() + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Keycloak API вернул статус %d: %s", resp.StatusCode, string(body))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Keycloak: %w", err)
		}
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(resp *http.Response, expectedStatus int) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != expectedStatus {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Keycloak API вернул статус %d (ожидался %d): %s",
			resp.StatusCode, expectedStatus, string(body))
	}

	return nil
}

// --- Users API ---

// ListUsers возвращает страницу пользователей realm вместе с атрибутами.
func (c *Client) ListUsers(ctx context.Context, first, max int) ([]KeycloakUser, error) {
	path := fmt.Sprintf("/users?first=%d&max=%d&briefRepresentation=false", first, max)

	resp, err := c.doAuthorized(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var users []KeycloakUser
	if err := decodeResponse(resp, &users); err != nil {
		return nil, fmt.Errorf("ListUsers: %w", err)
	}

	return users, nil
}

// ListAllUsers обходит всех пользователей realm страницами по pageSize.
func (c *Client) ListAllUsers(ctx context.Context, pageSize int) ([]KeycloakUser, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var all []KeycloakUser
	for first := 0; ; first += pageSize {
		page, err := c.ListUsers(ctx, first, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// GetUser возвращает пользователя по Keycloak ID.
func (c *Client) GetUser(ctx context.Context, id string) (*KeycloakUser, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var user KeycloakUser
	if err := decodeResponse(resp, &user); err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}

	return &user, nil
}

// CreateUser создаёт пользователя с постоянным паролем.
// Email служит и username. Возвращает Keycloak ID созданного пользователя.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (string, error) {
	createReq := userCreateRequest{
		Username:      strings.ToLower(u.Email),
		Email:         strings.ToLower(u.Email),
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Enabled:       true,
		EmailVerified: true,
		Attributes:    toMultiValued(u.Attributes),
	}
	if u.Password != "" {
		createReq.Credentials = []credentialRequest{{Type: "password", Value: u.Password}}
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/users", createReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		return "", fmt.Errorf("CreateUser: %w", ErrUserExists)
	default:
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("CreateUser: Keycloak вернул статус %d: %s", resp.StatusCode, string(body))
	}

	// Keycloak возвращает Location header с ID созданного ресурса
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("CreateUser: отсутствует Location header в ответе")
	}

	// Извлекаем ID из Location: .../users/{id}
	id := location[strings.LastIndex(location, "/")+1:]
	if id == "" {
		return "", fmt.Errorf("CreateUser: не удалось извлечь ID из Location: %s", location)
	}

	c.logger.Info("Пользователь Keycloak создан", slog.String("user_id", id))
	return id, nil
}

// UpdateUserAttributes заменяет перечисленные атрибуты пользователя.
// Пустое значение удаляет атрибут. Остальные атрибуты сохраняются.
func (c *Client) UpdateUserAttributes(ctx context.Context, id string, attrs map[string]string) error {
	user, err := c.GetUser(ctx, id)
	if err != nil {
		return err
	}

	if user.Attributes == nil {
		user.Attributes = make(map[string][]string)
	}
	for k, v := range attrs {
		if v == "" {
			delete(user.Attributes, k)
			continue
		}
		user.Attributes[k] = []string{v}
	}

	resp, err := c.doAuthorized(ctx, http.MethodPut, "/users/"+url.PathEscape(id), user)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("UpdateUserAttributes: %w", err)
	}
	return nil
}

// DeleteUser удаляет пользователя.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("DeleteUser: %w", err)
	}
	return nil
}

func toMultiValued(attrs map[string]string) map[string][]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		if v != "" {
			out[k] = []string{v}
		}
	}
	return out
}

// --- Realm API ---

// RealmInfo возвращает информацию о realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}

	var realm RealmRepresentation
	if err := decodeResponse(resp, &realm); err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}

	return &realm, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Keycloak через realm info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}

	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
