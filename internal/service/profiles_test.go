package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/keycloak"
)

func newTestProfileService(repo *fakeProfileRepo, idp *fakeIdentityAdmin, admins ...string) *ProfileService {
	return NewProfileService(repo, idp, NewProfileCache(100, time.Minute), admins, slog.Default())
}

func TestProfileService_GetUsesCache(t *testing.T) {
	repo := newFakeProfileRepo(model.User{ID: "u1", Email: "alice@irt.fr", Name: "Alice", Role: model.RoleEmployee})
	svc := newTestProfileService(repo, newFakeIdentityAdmin())
	ctx := context.Background()

	for range 3 {
		u, err := svc.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("Get() вернул ошибку: %v", err)
		}
		if u.Email != "alice@irt.fr" {
			t.Errorf("Email = %q, ожидается alice@irt.fr", u.Email)
		}
	}
	if repo.gets != 1 {
		t.Errorf("обращений к репозиторию = %d, ожидается 1", repo.gets)
	}
}

func TestProfileService_GetNotFound(t *testing.T) {
	svc := newTestProfileService(newFakeProfileRepo(), newFakeIdentityAdmin())

	if _, err := svc.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() = %v, ожидается ErrNotFound", err)
	}
}

func TestProfileService_CreateSelf(t *testing.T) {
	tests := []struct {
		name      string
		session   model.Session
		admins    []string
		wantRole  model.Role
		wantSIREN bool
	}{
		{
			name:     "роль по умолчанию",
			session:  model.Session{SubjectID: "s1", Email: "bob@irt.fr"},
			wantRole: model.RoleEmployee,
		},
		{
			name: "роль и SIREN из claims",
			session: model.Session{SubjectID: "s2", Email: "ae@irt.fr", Metadata: model.SessionMetadata{
				Role: "auto-entrepreneur", SIREN: "123456789",
			}},
			wantRole:  model.RoleAutoEntrepreneur,
			wantSIREN: true,
		},
		{
			name: "некорректный SIREN отброшен",
			session: model.Session{SubjectID: "s3", Email: "x@irt.fr", Metadata: model.SessionMetadata{
				Role: "auto-entrepreneur", SIREN: "12AB",
			}},
			wantRole: model.RoleAutoEntrepreneur,
		},
		{
			name:     "bootstrap admin",
			session:  model.Session{SubjectID: "s4", Email: "Boss@IRT.fr"},
			admins:   []string{"boss@irt.fr"},
			wantRole: model.RoleAdmin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestProfileService(newFakeProfileRepo(), newFakeIdentityAdmin(), tt.admins...)

			u, err := svc.CreateSelf(context.Background(), tt.session)
			if err != nil {
				t.Fatalf("CreateSelf() вернул ошибку: %v", err)
			}
			if u.ID != tt.session.SubjectID {
				t.Errorf("ID = %q, ожидается %q", u.ID, tt.session.SubjectID)
			}
			if u.Role != tt.wantRole {
				t.Errorf("Role = %q, ожидается %q", u.Role, tt.wantRole)
			}
			if (u.SIREN != nil) != tt.wantSIREN {
				t.Errorf("SIREN = %v, ожидается наличие: %v", u.SIREN, tt.wantSIREN)
			}
		})
	}
}

func TestProfileService_CreateSelfConflict(t *testing.T) {
	repo := newFakeProfileRepo(model.User{ID: "s1", Email: "bob@irt.fr", Name: "Bob", Role: model.RoleEmployee})
	svc := newTestProfileService(repo, newFakeIdentityAdmin())

	_, err := svc.CreateSelf(context.Background(), model.Session{SubjectID: "s1", Email: "bob@irt.fr"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("CreateSelf() = %v, ожидается ErrConflict", err)
	}
}

func TestProfileService_Create(t *testing.T) {
	repo := newFakeProfileRepo()
	idp := newFakeIdentityAdmin()
	svc := newTestProfileService(repo, idp)

	u, err := svc.Create(context.Background(), NewProfile{
		Email:    " Tech@IRT.fr ",
		Name:     "Jean Dupont",
		Password: "motdepasse",
		Role:     model.RoleAutoEntrepreneur,
		SIREN:    "123456789",
		Address:  "1 rue de Paris",
	})
	if err != nil {
		t.Fatalf("Create() вернул ошибку: %v", err)
	}
	if u.Email != "tech@irt.fr" {
		t.Errorf("Email = %q, ожидается tech@irt.fr", u.Email)
	}
	if u.Role != model.RoleAutoEntrepreneur {
		t.Errorf("Role = %q", u.Role)
	}
	if u.SIREN == nil || *u.SIREN != "123456789" {
		t.Errorf("SIREN = %v", u.SIREN)
	}

	kcUser, err := idp.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("пользователь Keycloak не создан: %v", err)
	}
	if kcUser.FirstName != "Jean" || kcUser.LastName != "Dupont" {
		t.Errorf("имя в Keycloak = %q %q", kcUser.FirstName, kcUser.LastName)
	}
	if kcUser.Attribute(keycloak.AttrRole) != "auto-entrepreneur" {
		t.Errorf("атрибут роли = %q", kcUser.Attribute(keycloak.AttrRole))
	}
}

func TestProfileService_CreateValidation(t *testing.T) {
	valid := NewProfile{Email: "t@irt.fr", Name: "T", Password: "longenough"}

	tests := []struct {
		name   string
		modify func(p *NewProfile)
	}{
		{"некорректный email", func(p *NewProfile) { p.Email = "not-an-email" }},
		{"пустое имя", func(p *NewProfile) { p.Name = "" }},
		{"короткий пароль", func(p *NewProfile) { p.Password = "short" }},
		{"неизвестная роль", func(p *NewProfile) { p.Role = "boss" }},
		{"SIREN не из 9 цифр", func(p *NewProfile) { p.SIREN = "12345" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := newFakeIdentityAdmin()
			svc := newTestProfileService(newFakeProfileRepo(), idp)
			in := valid
			tt.modify(&in)

			if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrValidation) {
				t.Errorf("Create() = %v, ожидается ErrValidation", err)
			}
			if len(idp.users) != 0 {
				t.Error("пользователь Keycloak создан несмотря на ошибку валидации")
			}
		})
	}
}

func TestProfileService_CreateIdentityExists(t *testing.T) {
	idp := newFakeIdentityAdmin()
	idp.users["kc-x"] = keycloak.KeycloakUser{ID: "kc-x", Email: "t@irt.fr"}
	svc := newTestProfileService(newFakeProfileRepo(), idp)

	_, err := svc.Create(context.Background(), NewProfile{Email: "t@irt.fr", Name: "T", Password: "longenough"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Create() = %v, ожидается ErrConflict", err)
	}
}

func TestProfileService_CreateIdentityUnavailable(t *testing.T) {
	idp := newFakeIdentityAdmin()
	idp.createErr = errors.New("connection refused")
	svc := newTestProfileService(newFakeProfileRepo(), idp)

	_, err := svc.Create(context.Background(), NewProfile{Email: "t@irt.fr", Name: "T", Password: "longenough"})
	if !errors.Is(err, ErrIDPUnavailable) {
		t.Errorf("Create() = %v, ожидается ErrIDPUnavailable", err)
	}
}

func TestProfileService_CreateSIRENTakenRollsBack(t *testing.T) {
	repo := newFakeProfileRepo(model.User{
		ID: "other", Email: "other@irt.fr", Name: "Other",
		Role: model.RoleAutoEntrepreneur, SIREN: strPtr("123456789"),
	})
	idp := newFakeIdentityAdmin()
	svc := newTestProfileService(repo, idp)

	_, err := svc.Create(context.Background(), NewProfile{
		Email: "new@irt.fr", Name: "New", Password: "longenough",
		Role: model.RoleAutoEntrepreneur, SIREN: "123456789",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Create() = %v, ожидается ErrConflict", err)
	}
	if len(idp.deleted) != 1 {
		t.Errorf("удалено пользователей Keycloak = %d, ожидается 1", len(idp.deleted))
	}
	if len(idp.users) != 0 {
		t.Error("пользователь Keycloak не откачен")
	}
}

func TestProfileService_Update(t *testing.T) {
	repo := newFakeProfileRepo(model.User{ID: "u1", Email: "a@irt.fr", Name: "A", Role: model.RoleEmployee})
	idp := newFakeIdentityAdmin()
	svc := newTestProfileService(repo, idp)
	ctx := context.Background()

	// Прогреваем кэш
	if _, err := svc.Get(ctx, "u1"); err != nil {
		t.Fatalf("Get() вернул ошибку: %v", err)
	}

	role := model.RoleAutoEntrepreneur
	u, err := svc.Update(ctx, "u1", model.ProfileUpdate{Role: &role, SIREN: strPtr("987654321")})
	if err != nil {
		t.Fatalf("Update() вернул ошибку: %v", err)
	}
	if u.Role != model.RoleAutoEntrepreneur || u.SIREN == nil {
		t.Errorf("профиль не обновлён: %+v", u)
	}

	got, err := svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() вернул ошибку: %v", err)
	}
	if got.Role != model.RoleAutoEntrepreneur {
		t.Errorf("кэш не инвалидирован: Role = %q", got.Role)
	}

	if len(idp.attrCalls) != 1 {
		t.Fatalf("вызовов UpdateUserAttributes = %d, ожидается 1", len(idp.attrCalls))
	}
	if idp.attrCalls[0][keycloak.AttrSIREN] != "987654321" {
		t.Errorf("атрибуты = %v", idp.attrCalls[0])
	}
}

func TestProfileService_UpdateAttributesFailureIsNotFatal(t *testing.T) {
	repo := newFakeProfileRepo(model.User{ID: "u1", Email: "a@irt.fr", Name: "A", Role: model.RoleEmployee})
	idp := newFakeIdentityAdmin()
	idp.attrErr = errors.New("keycloak недоступен")
	svc := newTestProfileService(repo, idp)

	if _, err := svc.Update(context.Background(), "u1", model.ProfileUpdate{Address: strPtr("2 rue de Lyon")}); err != nil {
		t.Errorf("Update() вернул ошибку: %v", err)
	}
}

func TestProfileService_UpdateErrors(t *testing.T) {
	bad := model.Role("boss")

	tests := []struct {
		name        string
		id          string
		upd         model.ProfileUpdate
		wantErr     error
		wantUpdates int
	}{
		{"SIREN из 5 цифр", "u1", model.ProfileUpdate{SIREN: strPtr("12345")}, ErrValidation, 0},
		{"некорректный SIREN", "u1", model.ProfileUpdate{SIREN: strPtr("abc")}, ErrValidation, 0},
		{"неизвестная роль", "u1", model.ProfileUpdate{Role: &bad}, ErrValidation, 0},
		{"пустое имя", "u1", model.ProfileUpdate{Name: strPtr("  ")}, ErrValidation, 0},
		{"занятый SIREN", "u1", model.ProfileUpdate{SIREN: strPtr("111111111")}, ErrConflict, 1},
		{"нет профиля", "ghost", model.ProfileUpdate{Name: strPtr("X")}, ErrNotFound, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeProfileRepo(
				model.User{ID: "u1", Email: "a@irt.fr", Name: "A", Role: model.RoleEmployee},
				model.User{ID: "u2", Email: "b@irt.fr", Name: "B", Role: model.RoleAutoEntrepreneur, SIREN: strPtr("111111111")},
			)
			svc := newTestProfileService(repo, newFakeIdentityAdmin())
			if _, err := svc.Update(context.Background(), tt.id, tt.upd); !errors.Is(err, tt.wantErr) {
				t.Errorf("Update() = %v, ожидается %v", err, tt.wantErr)
			}
			if repo.updates != tt.wantUpdates {
				t.Errorf("repo.Update вызван %d раз, ожидается %d", repo.updates, tt.wantUpdates)
			}
			if u, _ := repo.Get(context.Background(), "u1"); u != nil && u.SIREN != nil {
				t.Errorf("SIREN профиля u1 изменён: %q", *u.SIREN)
			}
		})
	}
}

func TestProfileService_Delete(t *testing.T) {
	tests := []struct {
		name         string
		keepIdentity bool
		wantOrphaned bool
	}{
		{"учётная запись осталась", true, true},
		{"учётной записи нет", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeProfileRepo(model.User{ID: "u1", Email: "a@irt.fr", Name: "A", Role: model.RoleEmployee})
			idp := newFakeIdentityAdmin()
			if tt.keepIdentity {
				idp.users["u1"] = keycloak.KeycloakUser{ID: "u1", Email: "a@irt.fr"}
			}
			svc := newTestProfileService(repo, idp)

			res, err := svc.Delete(context.Background(), "u1")
			if err != nil {
				t.Fatalf("Delete() вернул ошибку: %v", err)
			}
			if res.IdentityOrphaned != tt.wantOrphaned {
				t.Errorf("IdentityOrphaned = %v, ожидается %v", res.IdentityOrphaned, tt.wantOrphaned)
			}
			if _, err := svc.Get(context.Background(), "u1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("профиль не удалён: %v", err)
			}
		})
	}
}

func TestProfileService_DeleteNotFound(t *testing.T) {
	svc := newTestProfileService(newFakeProfileRepo(), newFakeIdentityAdmin())

	if _, err := svc.Delete(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() = %v, ожидается ErrNotFound", err)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		input       string
		first, last string
	}{
		{"Jean Dupont", "Jean", "Dupont"},
		{"Jean  Pierre Martin", "Jean", "Pierre Martin"},
		{"Mononyme", "Mononyme", ""},
		{"  ", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			first, last := splitName(tt.input)
			if first != tt.first || last != tt.last {
				t.Errorf("splitName(%q) = %q, %q, ожидается %q, %q", tt.input, first, last, tt.first, tt.last)
			}
		})
	}
}
