package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/irt/internal/domain/model"
)

// SyncStateRepository — таблица sync_state (одна строка).
type SyncStateRepository interface {
	Get(ctx context.Context) (*model.SyncState, error)
	// UpdateProfileSyncAt обновляет время последней синхронизации профилей.
	UpdateProfileSyncAt(ctx context.Context, t time.Time) error
}

type syncStateRepo struct {
	db DBTX
}

// NewSyncStateRepository создаёт репозиторий состояния синхронизации.
func NewSyncStateRepository(db DBTX) SyncStateRepository {
	return &syncStateRepo{db: db}
}

func (r *syncStateRepo) Get(ctx context.Context) (*model.SyncState, error) {
	query := `
		SELECT id, last_profile_sync_at, created_at, updated_at
		FROM sync_state
		WHERE id = 1`

	s := &model.SyncState{}
	err := r.db.QueryRow(ctx, query).Scan(&s.ID, &s.LastProfileSyncAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sync_state: %w", err)
	}
	return s, nil
}

func (r *syncStateRepo) UpdateProfileSyncAt(ctx context.Context, t time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE sync_state SET last_profile_sync_at = $1 WHERE id = 1`, t)
	if err != nil {
		return fmt.Errorf("ошибка обновления last_profile_sync_at: %w", err)
	}
	return nil
}
