// Пакет model — доменные модели IRT.
package model

import (
	"fmt"
	"time"
)

// Role — роль пользователя, определяет видимость данных и тарификацию.
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleAutoEntrepreneur Role = "auto-entrepreneur"
	RoleEmployee         Role = "employee"
)

// Roles возвращает все допустимые роли.
func Roles() []Role {
	return []Role{RoleAdmin, RoleAutoEntrepreneur, RoleEmployee}
}

// Valid проверяет, что роль известна.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAutoEntrepreneur, RoleEmployee:
		return true
	}
	return false
}

// ParseRole преобразует строку в Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("недопустимая роль %q", s)
	}
	return r, nil
}

// User — профиль пользователя приложения.
// Хранится в таблице users, ID совпадает с subject identity-провайдера.
type User struct {
	// ID — subject из Keycloak (sub)
	ID string
	// Email — уникален среди профилей
	Email string
	Name  string
	Role  Role
	// SIREN — 9 цифр, имеет смысл только для auto-entrepreneur
	SIREN   *string
	Address *string
	// CreatedAt — время создания профиля
	CreatedAt time.Time
}

// ProfileUpdate — изменяемые администратором поля профиля.
// nil означает «не менять»; пустая строка в SIREN/Address очищает поле.
type ProfileUpdate struct {
	Name    *string
	Role    *Role
	SIREN   *string
	Address *string
}
