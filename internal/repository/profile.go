package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/irt/internal/domain/model"
)

// ProfileRepository — CRUD для таблицы users.
type ProfileRepository interface {
	// Get возвращает профиль по ID (subject identity-провайдера).
	Get(ctx context.Context, id string) (*model.User, error)
	// Create создаёт профиль. При существующем ID, email или SIREN — ErrConflict.
	Create(ctx context.Context, u *model.User) error
	// Update применяет частичное изменение и возвращает обновлённый профиль.
	Update(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error)
	// Delete удаляет профиль вместе с его вмешательствами и помечает ID
	// как удалённый администратором.
	Delete(ctx context.Context, id string) error
	// List возвращает профили, новые первыми.
	List(ctx context.Context) ([]*model.User, error)
	// DeletedIDs возвращает ID удалённых профилей, которые ещё не созданы заново.
	DeletedIDs(ctx context.Context) (map[string]struct{}, error)
}

type profileRepo struct {
	db DBTX
}

// NewProfileRepository создаёт репозиторий профилей.
func NewProfileRepository(db DBTX) ProfileRepository {
	return &profileRepo{db: db}
}

const profileColumns = `id, email, name, role, siren, address, created_at`

func scanProfile(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.SIREN, &u.Address, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return u, nil
}

func (r *profileRepo) Get(ctx context.Context, id string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, profileColumns)

	u, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля: %w", err)
	}
	return u, nil
}

// Create снимает отметку об удалении в том же запросе.
func (r *profileRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		WITH ins AS (
			INSERT INTO users (id, email, name, role, siren, address)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		), undeleted AS (
			DELETE FROM deleted_profiles WHERE id IN (SELECT id FROM ins)
		)
		SELECT created_at FROM ins`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Email, u.Name, string(u.Role), u.SIREN, u.Address,
	).Scan(&u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания профиля: %w", err)
	}
	return nil
}

func (r *profileRepo) Update(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Role != nil {
		add("role", string(*upd.Role))
	}
	if upd.SIREN != nil {
		add("siren", nullIfEmpty(*upd.SIREN))
	}
	if upd.Address != nil {
		add("address", nullIfEmpty(*upd.Address))
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), profileColumns)

	u, err := scanProfile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("ошибка обновления профиля: %w", err)
	}
	return u, nil
}

func (r *profileRepo) Delete(ctx context.Context, id string) error {
	query := `
		WITH del AS (
			DELETE FROM users WHERE id = $1 RETURNING id
		)
		INSERT INTO deleted_profiles (id)
		SELECT id FROM del
		ON CONFLICT (id) DO UPDATE SET deleted_at = now()
		RETURNING id`

	var deleted string
	if err := r.db.QueryRow(ctx, query, id).Scan(&deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления профиля: %w", err)
	}
	return nil
}

func (r *profileRepo) DeletedIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM deleted_profiles`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения удалённых профилей: %w", err)
	}
	defer rows.Close()

	result := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования удалённого профиля: %w", err)
		}
		result[id] = struct{}{}
	}
	return result, rows.Err()
}

func (r *profileRepo) List(ctx context.Context) ([]*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users ORDER BY created_at DESC`, profileColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка профилей: %w", err)
	}
	defer rows.Close()

	var result []*model.User
	for rows.Next() {
		u, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования профиля: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// nullIfEmpty превращает пустую строку в NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
