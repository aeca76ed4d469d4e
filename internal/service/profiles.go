// Пакет service — бизнес-логика сервера IRT.
// profiles.go — профили пользователей: самосоздание по токену, чтение
// с кэшем и администрирование (Keycloak + таблица users).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/keycloak"
	"github.com/bigkaa/irt/internal/reconcile"
	"github.com/bigkaa/irt/internal/repository"
)

// IdentityAdmin — операции Keycloak Admin API, нужные сервису профилей.
// Реализуется *keycloak.Client.
type IdentityAdmin interface {
	GetUser(ctx context.Context, id string) (*keycloak.KeycloakUser, error)
	CreateUser(ctx context.Context, u keycloak.NewUser) (string, error)
	UpdateUserAttributes(ctx context.Context, id string, attrs map[string]string) error
	DeleteUser(ctx context.Context, id string) error
}

// NewProfile — данные создания техника администратором.
type NewProfile struct {
	Email    string `validate:"required,email"`
	Name     string `validate:"required,max=200"`
	Password string `validate:"required,min=8"`
	Role     model.Role
	SIREN    string
	Address  string
}

// DeleteResult — итог удаления профиля.
type DeleteResult struct {
	// IdentityOrphaned — учётная запись Keycloak осталась без профиля
	IdentityOrphaned bool
}

// ProfileService — сервис профилей.
type ProfileService struct {
	repo            repository.ProfileRepository
	idp             IdentityAdmin
	cache           *ProfileCache
	bootstrapAdmins map[string]struct{}
	validate        *validator.Validate
	logger          *slog.Logger
}

// NewProfileService создаёт сервис профилей.
// bootstrapAdmins — email (в нижнем регистре), чей самосозданный профиль получает роль admin.
func NewProfileService(
	repo repository.ProfileRepository,
	idp IdentityAdmin,
	cache *ProfileCache,
	bootstrapAdmins []string,
	logger *slog.Logger,
) *ProfileService {
	admins := make(map[string]struct{}, len(bootstrapAdmins))
	for _, e := range bootstrapAdmins {
		admins[strings.ToLower(e)] = struct{}{}
	}
	return &ProfileService{
		repo:            repo,
		idp:             idp,
		cache:           cache,
		bootstrapAdmins: admins,
		validate:        validator.New(),
		logger:          logger.With(slog.String("component", "profile_service")),
	}
}

// Get возвращает профиль по subject, сначала из кэша.
func (s *ProfileService) Get(ctx context.Context, id string) (*model.User, error) {
	if s.cache != nil {
		if u, ok := s.cache.Get(id); ok {
			return u, nil
		}
	}

	u, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение профиля: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(u)
	}
	return u, nil
}

// CreateSelf создаёт профиль вызывающего по проверенным claims токена.
// Существующий профиль — ErrConflict.
func (s *ProfileService) CreateSelf(ctx context.Context, session model.Session) (*model.User, error) {
	u := reconcile.ProfileFromSession(session)
	if _, ok := s.bootstrapAdmins[strings.ToLower(u.Email)]; ok {
		u.Role = model.RoleAdmin
	}
	if u.SIREN != nil {
		if err := policy.ValidateSIREN(*u.SIREN); err != nil {
			s.logger.Warn("SIREN из токена отклонён",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
			u.SIREN = nil
		}
	}

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.logger.Info("Профиль создан при первом входе",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
	)
	return s.Get(ctx, u.ID)
}

// List возвращает все профили.
func (s *ProfileService) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка профилей: %w", err)
	}
	return users, nil
}

// Create создаёт пользователя в Keycloak и его профиль.
// Если профиль создать не удалось, пользователь Keycloak удаляется.
func (s *ProfileService) Create(ctx context.Context, in NewProfile) (*model.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Role == "" {
		in.Role = model.RoleEmployee
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: недопустимая роль %q", ErrValidation, in.Role)
	}
	if err := policy.ValidateSIREN(in.SIREN); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	firstName, lastName := splitName(in.Name)
	id, err := s.idp.CreateUser(ctx, keycloak.NewUser{
		Email:     in.Email,
		FirstName: firstName,
		LastName:  lastName,
		Password:  in.Password,
		Attributes: map[string]string{
			keycloak.AttrRole:    string(in.Role),
			keycloak.AttrSIREN:   in.SIREN,
			keycloak.AttrAddress: in.Address,
		},
	})
	if err != nil {
		if errors.Is(err, keycloak.ErrUserExists) {
			return nil, fmt.Errorf("%w: пользователь %s уже есть в Keycloak", ErrConflict, in.Email)
		}
		return nil, fmt.Errorf("%w: %w", ErrIDPUnavailable, err)
	}

	session := model.Session{
		SubjectID: id,
		Email:     in.Email,
		Metadata: model.SessionMetadata{
			Name:    in.Name,
			Role:    string(in.Role),
			SIREN:   in.SIREN,
			Address: in.Address,
		},
	}
	u, err := reconcile.Reconcile(ctx, ProfileStoreOf(s.repo), session)
	if err != nil {
		if delErr := s.idp.DeleteUser(ctx, id); delErr != nil {
			s.logger.Error("Не удалось откатить создание пользователя Keycloak",
				slog.String("user_id", id),
				slog.String("error", delErr.Error()),
			)
		}
		// Вставка конфликтовала, а строки с новым ID нет: email или SIREN занят другим профилем
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: email или SIREN уже используется", ErrConflict)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.logger.Info("Техник создан",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
	)
	return u, nil
}

// Update изменяет профиль. SIREN и роль проверяются до обращения к хранилищу.
// Роль, SIREN и адрес синхронизируются в атрибуты Keycloak.
func (s *ProfileService) Update(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	if upd.Role != nil && !upd.Role.Valid() {
		return nil, fmt.Errorf("%w: недопустимая роль %q", ErrValidation, *upd.Role)
	}
	if upd.SIREN != nil {
		if err := policy.ValidateSIREN(*upd.SIREN); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: имя не может быть пустым", ErrValidation)
	}

	u, err := s.repo.Update(ctx, id, upd)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, fmt.Errorf("%w: SIREN уже используется", ErrConflict)
		default:
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}
	if s.cache != nil {
		s.cache.Delete(id)
	}

	if attrs := attributesOf(upd); len(attrs) > 0 {
		if err := s.idp.UpdateUserAttributes(ctx, id, attrs); err != nil {
			// Профиль уже изменён, атрибуты подтянутся при следующей правке
			s.logger.Warn("Атрибуты Keycloak не обновлены",
				slog.String("user_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Профиль обновлён", slog.String("user_id", id))
	return u, nil
}

// Delete удаляет только профиль. Учётная запись Keycloak сохраняется.
func (s *ProfileService) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if s.cache != nil {
		s.cache.Delete(id)
	}

	res := &DeleteResult{IdentityOrphaned: true}
	if _, err := s.idp.GetUser(ctx, id); errors.Is(err, keycloak.ErrNotFound) {
		res.IdentityOrphaned = false
	}

	if res.IdentityOrphaned {
		s.logger.Warn("Профиль удалён, учётная запись Keycloak осталась без профиля",
			slog.String("user_id", id),
		)
	} else {
		s.logger.Info("Профиль удалён", slog.String("user_id", id))
	}
	return res, nil
}

func attributesOf(upd model.ProfileUpdate) map[string]string {
	attrs := make(map[string]string, 3)
	if upd.Role != nil {
		attrs[keycloak.AttrRole] = string(*upd.Role)
	}
	if upd.SIREN != nil {
		attrs[keycloak.AttrSIREN] = *upd.SIREN
	}
	if upd.Address != nil {
		attrs[keycloak.AttrAddress] = *upd.Address
	}
	return attrs
}

func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i], strings.TrimSpace(name[i+1:])
	}
	return name, ""
}

// --- Адаптер хранилища для согласования ---

type repoProfileStore struct {
	repo repository.ProfileRepository
}

// ProfileStoreOf адаптирует репозиторий профилей к reconcile.ProfileStore.
func ProfileStoreOf(repo repository.ProfileRepository) reconcile.ProfileStore {
	return repoProfileStore{repo: repo}
}

func (s repoProfileStore) GetProfile(ctx context.Context, id string) (*model.User, error) {
	u, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", reconcile.ErrProfileNotFound, err)
	}
	return u, err
}

func (s repoProfileStore) CreateProfile(ctx context.Context, u *model.User) error {
	err := s.repo.Create(ctx, u)
	if errors.Is(err, repository.ErrConflict) {
		// Email или SIREN другого профиля тоже дают конфликт, повторное чтение по ID его отличит
		return fmt.Errorf("%w: %w", reconcile.ErrProfileConflict, err)
	}
	return err
}
