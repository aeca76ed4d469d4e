package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/irt/internal/config"
	"github.com/bigkaa/irt/internal/database"
	"github.com/bigkaa/irt/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool, очистка регистрируется через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("irt_test"),
		postgres.WithUsername("irt"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	t.Setenv("IRT_DB_HOST", host)
	t.Setenv("IRT_DB_PORT", port.Port())
	t.Setenv("IRT_DB_NAME", "irt_test")
	t.Setenv("IRT_DB_USER", "irt")
	t.Setenv("IRT_DB_PASSWORD", "test-password")
	t.Setenv("IRT_DB_SSL_MODE", "disable")
	t.Setenv("IRT_KEYCLOAK_URL", "http://localhost:8081")
	t.Setenv("IRT_KEYCLOAK_CLIENT_ID", "test")
	t.Setenv("IRT_KEYCLOAK_CLIENT_SECRET", "test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func strPtr(s string) *string { return &s }

func newProfile(email string, role model.Role) *model.User {
	return &model.User{ID: uuid.NewString(), Email: email, Name: "Tech", Role: role}
}

// --- Тесты ProfileRepository ---

func TestProfileCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewProfileRepository(pool)

	u := newProfile("jean@irt.fr", model.RoleEmployee)
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	got, err := repo.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.Email != u.Email || got.Role != model.RoleEmployee || got.SIREN != nil {
		t.Errorf("Get() = %+v, ожидали %+v", got, u)
	}

	role := model.RoleAutoEntrepreneur
	updated, err := repo.Update(ctx, u.ID, model.ProfileUpdate{
		Role:    &role,
		SIREN:   strPtr("123456789"),
		Address: strPtr("1 rue de Paris"),
	})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if updated.Role != role || updated.SIREN == nil || *updated.SIREN != "123456789" {
		t.Errorf("Update() = %+v", updated)
	}

	// Пустая строка очищает поле
	cleared, err := repo.Update(ctx, u.ID, model.ProfileUpdate{SIREN: strPtr("")})
	if err != nil {
		t.Fatalf("Update() очистка ошибка: %v", err)
	}
	if cleared.SIREN != nil {
		t.Errorf("SIREN = %v, ожидали nil", *cleared.SIREN)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() вернул %d профилей, ожидали 1", len(list))
	}

	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.Get(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() после Delete: %v, ожидали ErrNotFound", err)
	}
	if err := repo.Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete(): %v, ожидали ErrNotFound", err)
	}

	deleted, err := repo.DeletedIDs(ctx)
	if err != nil {
		t.Fatalf("DeletedIDs() ошибка: %v", err)
	}
	if _, ok := deleted[u.ID]; !ok || len(deleted) != 1 {
		t.Errorf("DeletedIDs() = %v, ожидали только %s", deleted, u.ID)
	}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() после Delete ошибка: %v", err)
	}
	if deleted, _ := repo.DeletedIDs(ctx); len(deleted) != 0 {
		t.Errorf("DeletedIDs() после повторного Create = %v, ожидали пусто", deleted)
	}
	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() после повторного Create ошибка: %v", err)
	}
	if _, err := repo.Update(ctx, u.ID, model.ProfileUpdate{Name: strPtr("x")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() отсутствующего: %v, ожидали ErrNotFound", err)
	}
}

func TestProfileUniqueness(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewProfileRepository(pool)

	a := newProfile("a@irt.fr", model.RoleAutoEntrepreneur)
	a.SIREN = strPtr("111111111")
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	tests := []struct {
		name string
		u    *model.User
	}{
		{"тот же ID", &model.User{ID: a.ID, Email: "other@irt.fr", Name: "x", Role: model.RoleEmployee}},
		{"тот же email в другом регистре", newProfile("A@IRT.fr", model.RoleEmployee)},
		{"тот же SIREN", func() *model.User {
			u := newProfile("b@irt.fr", model.RoleAutoEntrepreneur)
			u.SIREN = strPtr("111111111")
			return u
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(ctx, tt.u); !errors.Is(err, ErrConflict) {
				t.Errorf("Create() = %v, ожидали ErrConflict", err)
			}
		})
	}

	// Неверный SIREN отклоняется ограничением CHECK
	bad := newProfile("c@irt.fr", model.RoleAutoEntrepreneur)
	bad.SIREN = strPtr("12345")
	if err := repo.Create(ctx, bad); err == nil {
		t.Error("Create() с SIREN из 5 цифр не вернул ошибку")
	}
}

// Одновременное создание одного профиля даёт ровно одну строку.
func TestProfileConcurrentCreate(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewProfileRepository(pool)

	id := uuid.NewString()
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Create(ctx, &model.User{ID: id, Email: "race@irt.fr", Name: "race", Role: model.RoleEmployee})
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrConflict):
		default:
			t.Errorf("неожиданная ошибка: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("успешных вставок %d, ожидали 1", created)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE id = $1`, id).Scan(&count); err != nil {
		t.Fatalf("ошибка подсчёта: %v", err)
	}
	if count != 1 {
		t.Errorf("строк в users = %d, ожидали 1", count)
	}
}

// --- Тесты InterventionRepository ---

func newIntervention(userID string, price int64) *model.Intervention {
	return &model.Intervention{
		UserID:      userID,
		Date:        time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Time:        "09:30",
		NDNumber:    "0123456789",
		Provider:    model.ProviderOrange,
		ServiceType: model.ServiceAerial,
		Price:       decimal.NewFromInt(price),
		Status:      model.StatusSuccess,
	}
}

func TestInterventionRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	profiles := NewProfileRepository(pool)
	repo := NewInterventionRepository(NewTxRunner(pool))

	owner := newProfile("owner@irt.fr", model.RoleAutoEntrepreneur)
	if err := profiles.Create(ctx, owner); err != nil {
		t.Fatalf("Create profile: %v", err)
	}
	scope := Scope{UserID: owner.ID}

	in := newIntervention(owner.ID, 160)
	in.Price = decimal.RequireFromString("160.50")
	if err := repo.Create(ctx, scope, in); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if in.ID == "" || in.CreatedAt.IsZero() {
		t.Fatalf("ID/CreatedAt не установлены: %+v", in)
	}

	list, err := repo.ListAll(ctx, scope)
	if err != nil {
		t.Fatalf("ListAll() ошибка: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListAll() вернул %d записей, ожидали 1", len(list))
	}
	got := list[0]
	if got.ID != in.ID || got.UserID != in.UserID || got.Time != in.Time ||
		got.NDNumber != in.NDNumber || got.Provider != in.Provider ||
		got.ServiceType != in.ServiceType || got.Status != in.Status {
		t.Errorf("запись отличается от исходной: %+v vs %+v", got, in)
	}
	if !got.Date.Equal(in.Date) {
		t.Errorf("Date = %v, ожидали %v", got.Date, in.Date)
	}
	if !got.Price.Equal(in.Price) {
		t.Errorf("Price = %s, ожидали %s", got.Price, in.Price)
	}

	// Цена — снимок: UPDATE для irt_app запрещён
	err = NewTxRunner(pool).RunScoped(ctx, scope, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE interventions SET price = 0 WHERE id = $1`, in.ID)
		return err
	})
	if err == nil {
		t.Error("UPDATE под irt_app должен быть запрещён")
	}
}

func TestInterventionOrderingAndFilter(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	profiles := NewProfileRepository(pool)
	repo := NewInterventionRepository(NewTxRunner(pool))

	owner := newProfile("order@irt.fr", model.RoleAdmin)
	if err := profiles.Create(ctx, owner); err != nil {
		t.Fatalf("Create profile: %v", err)
	}
	scope := Scope{UserID: owner.ID}

	var ids []string
	for d := 1; d <= 3; d++ {
		in := newIntervention(owner.ID, 30)
		in.Date = time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
		if err := repo.Create(ctx, scope, in); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
		ids = append(ids, in.ID)
	}

	list, err := repo.ListAll(ctx, scope)
	if err != nil {
		t.Fatalf("ListAll() ошибка: %v", err)
	}
	if len(list) != 3 || list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Errorf("ListAll() не упорядочен по created_at DESC")
	}

	from := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	filtered, err := repo.List(ctx, scope, InterventionFilter{From: &from})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("List(From=2024-03-02) вернул %d записей, ожидали 2", len(filtered))
	}
}

// RLS: без view_all пользователь видит только свои строки и не может писать чужие.
func TestInterventionRowLevelSecurity(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	profiles := NewProfileRepository(pool)
	repo := NewInterventionRepository(NewTxRunner(pool))

	a := newProfile("a@irt.fr", model.RoleAutoEntrepreneur)
	b := newProfile("b@irt.fr", model.RoleEmployee)
	for _, u := range []*model.User{a, b} {
		if err := profiles.Create(ctx, u); err != nil {
			t.Fatalf("Create profile: %v", err)
		}
	}

	if err := repo.Create(ctx, Scope{UserID: a.ID}, newIntervention(a.ID, 160)); err != nil {
		t.Fatalf("Create A: %v", err)
	}
	if err := repo.Create(ctx, Scope{UserID: b.ID}, newIntervention(b.ID, 0)); err != nil {
		t.Fatalf("Create B: %v", err)
	}

	// Вставка от имени другого пользователя нарушает WITH CHECK
	if err := repo.Create(ctx, Scope{UserID: a.ID}, newIntervention(b.ID, 0)); err == nil {
		t.Error("вставка чужой записи должна быть отклонена RLS")
	}

	tests := []struct {
		name   string
		scope  Scope
		filter InterventionFilter
		want   int
	}{
		{"A видит только свои", Scope{UserID: a.ID}, InterventionFilter{}, 1},
		{"B видит только свои", Scope{UserID: b.ID}, InterventionFilter{}, 1},
		{"A с фильтром по B ничего не видит", Scope{UserID: a.ID}, InterventionFilter{UserID: b.ID}, 0},
		{"view_all видит все", Scope{UserID: a.ID, ViewAll: true}, InterventionFilter{}, 2},
		{"view_all с фильтром по B", Scope{ViewAll: true}, InterventionFilter{UserID: b.ID}, 1},
		{"пустой scope ничего не видит", Scope{}, InterventionFilter{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := repo.List(ctx, tt.scope, tt.filter)
			if err != nil {
				t.Fatalf("List() ошибка: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("List() вернул %d записей, ожидали %d", len(list), tt.want)
			}
		})
	}
}

// --- Тесты SyncStateRepository ---

func TestSyncState(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewSyncStateRepository(pool)

	s, err := repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if s.LastProfileSyncAt != nil {
		t.Errorf("LastProfileSyncAt = %v, ожидали nil", s.LastProfileSyncAt)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.UpdateProfileSyncAt(ctx, now); err != nil {
		t.Fatalf("UpdateProfileSyncAt() ошибка: %v", err)
	}
	s, err = repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if s.LastProfileSyncAt == nil || !s.LastProfileSyncAt.Equal(now) {
		t.Errorf("LastProfileSyncAt = %v, ожидали %v", s.LastProfileSyncAt, now)
	}
}
