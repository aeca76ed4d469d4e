package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/irt/internal/domain/model"
)

// ProfileStore — хранилище профилей, которое использует согласование.
//
// GetProfile возвращает ошибку, оборачивающую ErrProfileNotFound, если профиля нет.
// CreateProfile возвращает ошибку, оборачивающую ErrProfileConflict, если строка
// с таким ID уже существует.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*model.User, error)
	CreateProfile(ctx context.Context, u *model.User) error
}

// ProfileFromSession строит новый профиль по сессии:
// имя по умолчанию — локальная часть email, роль по умолчанию — employee.
// Неизвестная роль из metadata заменяется на employee.
func ProfileFromSession(s model.Session) *model.User {
	u := &model.User{
		ID:    s.SubjectID,
		Email: s.Email,
		Name:  s.Metadata.Name,
		Role:  model.RoleEmployee,
	}
	if u.Name == "" {
		u.Name = localPart(s.Email)
	}
	if r := model.Role(s.Metadata.Role); r.Valid() {
		u.Role = r
	}
	if s.Metadata.SIREN != "" {
		siren := s.Metadata.SIREN
		u.SIREN = &siren
	}
	if s.Metadata.Address != "" {
		addr := s.Metadata.Address
		u.Address = &addr
	}
	return u
}

// Reconcile гарантирует наличие профиля для сессии и возвращает его
// каноническую версию из хранилища:
//  1. поиск по subject;
//  2. при отсутствии — создание, конфликт вставки считается успехом;
//  3. повторное чтение строки по ID.
func Reconcile(ctx context.Context, store ProfileStore, s model.Session) (*model.User, error) {
	if s.SubjectID == "" {
		return nil, fmt.Errorf("%w: пустой subject сессии", ErrProfileNotFound)
	}

	_, err := store.GetProfile(ctx, s.SubjectID)
	switch {
	case err == nil:
	case errors.Is(err, ErrProfileNotFound):
		if err := store.CreateProfile(ctx, ProfileFromSession(s)); err != nil && !errors.Is(err, ErrProfileConflict) {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	default:
		return nil, fmt.Errorf("%w: %w", ErrProfileNotFound, err)
	}

	u, err := store.GetProfile(ctx, s.SubjectID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProfileNotFound, err)
	}
	if err := validateProfile(u, s.SubjectID); err != nil {
		return nil, err
	}
	return u, nil
}

// validateProfile отбрасывает повреждённые строки.
func validateProfile(u *model.User, subject string) error {
	switch {
	case u == nil:
		return fmt.Errorf("%w: пустой ответ хранилища", ErrProfileNotFound)
	case u.ID != subject:
		return fmt.Errorf("%w: ID профиля %q не совпадает с subject %q", ErrProfileNotFound, u.ID, subject)
	case !u.Role.Valid():
		return fmt.Errorf("%w: недопустимая роль %q", ErrProfileNotFound, u.Role)
	}
	return nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
