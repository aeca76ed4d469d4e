package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/keycloak"
	"github.com/bigkaa/irt/internal/repository"
)

// --- fakeProfileRepo ---

// fakeProfileRepo — in-memory репозиторий профилей с уникальностью email и SIREN.
type fakeProfileRepo struct {
	mu      sync.Mutex
	users   map[string]model.User
	deleted map[string]struct{}
	gets    int
	updates int
	failErr error
}

func newFakeProfileRepo(users ...model.User) *fakeProfileRepo {
	r := &fakeProfileRepo{users: make(map[string]model.User), deleted: make(map[string]struct{})}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeProfileRepo) Get(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.failErr != nil {
		return nil, r.failErr
	}
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *fakeProfileRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	for _, existing := range r.users {
		if existing.ID == u.ID || existing.Email == u.Email || sameSIREN(existing.SIREN, u.SIREN) {
			return repository.ErrConflict
		}
	}
	cp := *u
	cp.CreatedAt = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	r.users[u.ID] = cp
	delete(r.deleted, u.ID)
	return nil
}

func (r *fakeProfileRepo) Update(_ context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.SIREN != nil {
		u.SIREN = nilIfEmpty(*upd.SIREN)
		for otherID, other := range r.users {
			if otherID != id && sameSIREN(other.SIREN, u.SIREN) {
				return nil, repository.ErrConflict
			}
		}
	}
	if upd.Address != nil {
		u.Address = nilIfEmpty(*upd.Address)
	}
	r.users[id] = u
	return &u, nil
}

func (r *fakeProfileRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	r.deleted[id] = struct{}{}
	return nil
}

func (r *fakeProfileRepo) DeletedIDs(_ context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]struct{}, len(r.deleted))
	for id := range r.deleted {
		result[id] = struct{}{}
	}
	return result, nil
}

func (r *fakeProfileRepo) List(_ context.Context) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	result := make([]*model.User, 0, len(r.users))
	for _, u := range r.users {
		cp := u
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func sameSIREN(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- fakeInterventionRepo ---

// fakeInterventionRepo повторяет поведение RLS: без ViewAll видны только
// записи Scope.UserID, вставка чужой записи запрещена.
type fakeInterventionRepo struct {
	mu     sync.Mutex
	items     []model.Intervention
	scopes    []repository.Scope
	createErr error
}

var errRLSViolation = errors.New("new row violates row-level security policy")

func (r *fakeInterventionRepo) Create(_ context.Context, scope repository.Scope, i *model.Intervention) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scope)
	if r.createErr != nil {
		return r.createErr
	}
	if i.UserID != scope.UserID {
		return errRLSViolation
	}
	if i.ID == "" {
		i.ID = "iv-" + string(rune('a'+len(r.items)))
	}
	i.CreatedAt = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	r.items = append(r.items, *i)
	return nil
}

func (r *fakeInterventionRepo) ListAll(ctx context.Context, scope repository.Scope) ([]*model.Intervention, error) {
	return r.List(ctx, scope, repository.InterventionFilter{})
}

func (r *fakeInterventionRepo) List(_ context.Context, scope repository.Scope, f repository.InterventionFilter) ([]*model.Intervention, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scope)

	var result []*model.Intervention
	for i := len(r.items) - 1; i >= 0; i-- {
		it := r.items[i]
		if !scope.ViewAll && it.UserID != scope.UserID {
			continue
		}
		if f.UserID != "" && it.UserID != f.UserID {
			continue
		}
		if f.From != nil && it.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && it.Date.After(*f.To) {
			continue
		}
		cp := it
		result = append(result, &cp)
	}
	return result, nil
}

// --- fakeIdentityAdmin ---

type fakeIdentityAdmin struct {
	mu        sync.Mutex
	users     map[string]keycloak.KeycloakUser
	nextID    int
	createErr error
	attrErr   error
	deleted   []string
	attrCalls []map[string]string
}

func newFakeIdentityAdmin() *fakeIdentityAdmin {
	return &fakeIdentityAdmin{users: make(map[string]keycloak.KeycloakUser)}
}

func (f *fakeIdentityAdmin) GetUser(_ context.Context, id string) (*keycloak.KeycloakUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, keycloak.ErrNotFound
	}
	return &u, nil
}

func (f *fakeIdentityAdmin) CreateUser(_ context.Context, nu keycloak.NewUser) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	for _, u := range f.users {
		if u.Email == nu.Email {
			return "", keycloak.ErrUserExists
		}
	}
	f.nextID++
	id := "kc-" + string(rune('0'+f.nextID))
	attrs := make(map[string][]string, len(nu.Attributes))
	for k, v := range nu.Attributes {
		if v != "" {
			attrs[k] = []string{v}
		}
	}
	f.users[id] = keycloak.KeycloakUser{
		ID: id, Username: nu.Email, Email: nu.Email,
		FirstName: nu.FirstName, LastName: nu.LastName,
		Enabled: true, Attributes: attrs,
	}
	return id, nil
}

func (f *fakeIdentityAdmin) UpdateUserAttributes(_ context.Context, _ string, attrs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrCalls = append(f.attrCalls, attrs)
	return f.attrErr
}

func (f *fakeIdentityAdmin) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.users, id)
	return nil
}

// ListAllUsers — реализация UserLister для синхронизации.
func (f *fakeIdentityAdmin) ListAllUsers(_ context.Context, _ int) ([]keycloak.KeycloakUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]keycloak.KeycloakUser, 0, len(f.users))
	for _, u := range f.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// --- fakeSyncState ---

type fakeSyncState struct {
	mu     sync.Mutex
	syncAt *time.Time
}

func (f *fakeSyncState) Get(_ context.Context) (*model.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.SyncState{ID: 1, LastProfileSyncAt: f.syncAt}, nil
}

func (f *fakeSyncState) UpdateProfileSyncAt(_ context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncAt = &t
	return nil
}

func strPtr(s string) *string { return &s }
