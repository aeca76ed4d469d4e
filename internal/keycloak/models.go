// Пакет keycloak — HTTP-клиент к Keycloak Admin REST API.
// models.go — модели данных Keycloak.
package keycloak

import "time"

// Атрибуты пользователя Keycloak, которые protocol mapper'ы realm
// выводят в access token.
const (
	AttrRole    = "irt_role"
	AttrSIREN   = "siren"
	AttrAddress = "address"
)

// TokenResponse — ответ на запрос токена через Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// KeycloakUser — пользователь в Keycloak.
type KeycloakUser struct { //nolint:revive // stuttering допустим — внешний API Keycloak
	ID            string              `json:"id"`
	Username      string              `json:"username"`
	Email         string              `json:"email"`
	FirstName     string              `json:"firstName"`
	LastName      string              `json:"lastName"`
	Enabled       bool                `json:"enabled"`
	CreatedAt     int64               `json:"createdTimestamp"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

// CreatedAtTime возвращает CreatedAt как time.Time.
// Keycloak хранит timestamp в миллисекундах.
func (u *KeycloakUser) CreatedAtTime() time.Time {
	return time.UnixMilli(u.CreatedAt)
}

// Attribute возвращает первое значение атрибута или пустую строку.
func (u *KeycloakUser) Attribute(name string) string {
	if v := u.Attributes[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// DisplayName — «Имя Фамилия», при их отсутствии username.
func (u *KeycloakUser) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}

// RealmRepresentation — краткая информация о realm.
type RealmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// NewUser — параметры создания пользователя.
type NewUser struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	// Attributes — irt_role, siren, address
	Attributes map[string]string
}

// userCreateRequest — запрос на создание пользователя в Keycloak.
// Поля соответствуют Keycloak Admin REST API.
type userCreateRequest struct {
	Username      string              `json:"username"`
	Email         string              `json:"email"`
	FirstName     string              `json:"firstName,omitempty"`
	LastName      string              `json:"lastName,omitempty"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
	Credentials   []credentialRequest `json:"credentials,omitempty"`
}

type credentialRequest struct {
	Type      string `json:"type"`
	Value     string `json:"value"` //nolint:gosec // пароль передаётся в Keycloak
	Temporary bool   `json:"temporary"`
}
