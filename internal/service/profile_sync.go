// profile_sync.go — периодическая синхронизация профилей с пользователями Keycloak.
//
// Reconciliation:
//  1. Получить пользователей realm из Keycloak
//  2. Получить профили из локальной БД
//  3. В Keycloak, но без профиля → создать профиль по атрибутам пользователя,
//     кроме профилей, удалённых администратором
//  4. Профиль без пользователя Keycloak → только предупреждение
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/keycloak"
	"github.com/bigkaa/irt/internal/reconcile"
	"github.com/bigkaa/irt/internal/repository"
)

var profileSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "irt_profile_sync_duration_seconds",
	Help:    "Длительность синхронизации профилей с Keycloak",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s … ~51s
})

// UserLister — постраничный обход пользователей Keycloak.
type UserLister interface {
	ListAllUsers(ctx context.Context, pageSize int) ([]keycloak.KeycloakUser, error)
}

// ProfileSyncService — фоновая синхронизация профилей с Keycloak.
type ProfileSyncService struct {
	users         UserLister
	profiles      repository.ProfileRepository
	syncStateRepo repository.SyncStateRepository
	interval      time.Duration
	logger        *slog.Logger

	// mu — одновременно выполняется один цикл
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProfileSyncService создаёт сервис синхронизации профилей.
func NewProfileSyncService(
	users UserLister,
	profiles repository.ProfileRepository,
	syncStateRepo repository.SyncStateRepository,
	interval time.Duration,
	logger *slog.Logger,
) *ProfileSyncService {
	return &ProfileSyncService{
		users:         users,
		profiles:      profiles,
		syncStateRepo: syncStateRepo,
		interval:      interval,
		logger:        logger.With(slog.String("component", "profile_sync")),
	}
}

// Start запускает фоновую горутину с периодической синхронизацией.
func (s *ProfileSyncService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая синхронизация профилей запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая синхронизация профилей остановлена")
				return
			case <-ticker.C:
				result, err := s.SyncNow(ctx)
				if err != nil {
					s.logger.Error("Ошибка периодической синхронизации профилей",
						slog.String("error", err.Error()),
					)
					continue
				}
				s.logger.Info("Периодическая синхронизация профилей завершена",
					slog.Int("total_keycloak", result.TotalKeycloak),
					slog.Int("total_local", result.TotalLocal),
					slog.Int("created", result.Created),
					slog.Int("deleted", result.Deleted),
					slog.Int("orphaned", result.Orphaned),
				)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *ProfileSyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// SyncNow выполняет один цикл синхронизации.
func (s *ProfileSyncService) SyncNow(ctx context.Context) (*model.ProfileSyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startedAt := time.Now()

	kcUsers, err := s.users.ListAllUsers(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("%w: получение пользователей: %w", ErrIDPUnavailable, err)
	}
	local, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение локальных профилей: %w", err)
	}

	deleted, err := s.profiles.DeletedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение удалённых профилей: %w", err)
	}

	localIDs := make(map[string]struct{}, len(local))
	for _, u := range local {
		localIDs[u.ID] = struct{}{}
	}
	kcIDs := make(map[string]struct{}, len(kcUsers))

	store := ProfileStoreOf(s.profiles)
	result := &model.ProfileSyncResult{TotalKeycloak: len(kcUsers)}

	for _, ku := range kcUsers {
		kcIDs[ku.ID] = struct{}{}
		if _, ok := localIDs[ku.ID]; ok || !ku.Enabled || ku.Email == "" {
			continue
		}
		if _, ok := deleted[ku.ID]; ok {
			result.Deleted++
			s.logger.Debug("Профиль удалён администратором, не восстанавливается",
				slog.String("user_id", ku.ID),
			)
			continue
		}

		_, err := reconcile.Reconcile(ctx, store, s.sessionOfKeycloakUser(ku))
		if err != nil {
			s.logger.Warn("Ошибка создания профиля из Keycloak",
				slog.String("user_id", ku.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Created++
		s.logger.Info("Профиль создан из Keycloak", slog.String("user_id", ku.ID))
	}

	for _, u := range local {
		if _, ok := kcIDs[u.ID]; !ok {
			result.Orphaned++
			s.logger.Warn("Профиль без пользователя Keycloak", slog.String("user_id", u.ID))
		}
	}

	result.TotalLocal = len(local) + result.Created
	result.SyncedAt = time.Now().UTC()

	if err := s.syncStateRepo.UpdateProfileSyncAt(ctx, result.SyncedAt); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Ошибка обновления last_profile_sync_at", slog.String("error", err.Error()))
	}

	profileSyncDuration.Observe(time.Since(startedAt).Seconds())
	return result, nil
}

// sessionOfKeycloakUser строит сессию по учётной записи Keycloak
// так же, как её строят claims токена. Некорректный SIREN отбрасывается.
func (s *ProfileSyncService) sessionOfKeycloakUser(ku keycloak.KeycloakUser) model.Session {
	name := ku.DisplayName()
	if name == ku.Username {
		name = ""
	}
	siren := ku.Attribute(keycloak.AttrSIREN)
	if err := policy.ValidateSIREN(siren); err != nil {
		s.logger.Warn("SIREN из Keycloak отклонён",
			slog.String("user_id", ku.ID),
			slog.String("error", err.Error()),
		)
		siren = ""
	}
	return model.Session{
		SubjectID: ku.ID,
		Email:     ku.Email,
		Metadata: model.SessionMetadata{
			Name:    name,
			Role:    ku.Attribute(keycloak.AttrRole),
			SIREN:   siren,
			Address: ku.Attribute(keycloak.AttrAddress),
		},
	}
}
