package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/irt/internal/domain/model"
)

// InterventionFilter — условия выборки вмешательств.
// Видимость по владельцу определяется Scope и RLS, фильтр лишь сужает её.
type InterventionFilter struct {
	// UserID — только записи этого пользователя
	UserID string
	// From, To — диапазон по полю date, обе границы включительно
	From *time.Time
	To   *time.Time
}

// InterventionRepository — хранилище вмешательств, только добавление и чтение.
// Каждый вызов выполняется в отдельной транзакции с параметрами RLS из Scope.
type InterventionRepository interface {
	// Create присваивает ID, сохраняет запись и заполняет CreatedAt.
	Create(ctx context.Context, scope Scope, i *model.Intervention) error
	// ListAll возвращает все видимые записи, новые первыми.
	ListAll(ctx context.Context, scope Scope) ([]*model.Intervention, error)
	// List возвращает видимые записи с фильтром, новые первыми.
	List(ctx context.Context, scope Scope, f InterventionFilter) ([]*model.Intervention, error)
}

type interventionRepo struct {
	tx *TxRunner
}

// NewInterventionRepository создаёт репозиторий вмешательств.
func NewInterventionRepository(tx *TxRunner) InterventionRepository {
	return &interventionRepo{tx: tx}
}

const interventionColumns = `id, user_id, date, time, nd_number, provider, service_type, price, status, created_at`

func (r *interventionRepo) Create(ctx context.Context, scope Scope, i *model.Intervention) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}

	query := `
		INSERT INTO interventions (id, user_id, date, time, nd_number, provider, service_type, price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.tx.RunScoped(ctx, scope, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query,
			i.ID, i.UserID, i.Date, i.Time, i.NDNumber,
			string(i.Provider), string(i.ServiceType), i.Price, string(i.Status),
		).Scan(&i.CreatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания вмешательства: %w", err)
	}
	return nil
}

func (r *interventionRepo) ListAll(ctx context.Context, scope Scope) ([]*model.Intervention, error) {
	return r.List(ctx, scope, InterventionFilter{})
}

func (r *interventionRepo) List(ctx context.Context, scope Scope, f InterventionFilter) ([]*model.Intervention, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("date <= $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM interventions`, interventionColumns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	var result []*model.Intervention
	err := r.tx.RunScoped(ctx, scope, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			i := &model.Intervention{}
			var provider, serviceType, status string
			if err := rows.Scan(
				&i.ID, &i.UserID, &i.Date, &i.Time, &i.NDNumber,
				&provider, &serviceType, &i.Price, &status, &i.CreatedAt,
			); err != nil {
				return fmt.Errorf("ошибка сканирования вмешательства: %w", err)
			}
			i.Provider = model.Provider(provider)
			i.ServiceType = model.ServiceType(serviceType)
			i.Status = model.Status(status)
			result = append(result, i)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка вмешательств: %w", err)
	}
	return result, nil
}
