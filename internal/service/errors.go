// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт: ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden — у роли нет нужного права.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrPersistence — ошибка хранилища при записи.
	ErrPersistence = errors.New("ошибка сохранения данных")
	// ErrIDPUnavailable — Identity Provider (Keycloak) недоступен.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
)
