// Пакет handlers — HTTP-обработчики API IRT.
// handler.go — основной обработчик API: зависимости, ответы и разбор параметров.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/irt/internal/api/errors"
	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/report"
	"github.com/bigkaa/irt/internal/service"
)

// ProfileAPI — операции над профилями. Реализуется *service.ProfileService.
type ProfileAPI interface {
	Get(ctx context.Context, id string) (*model.User, error)
	CreateSelf(ctx context.Context, session model.Session) (*model.User, error)
	List(ctx context.Context) ([]*model.User, error)
	Create(ctx context.Context, in service.NewProfile) (*model.User, error)
	Update(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error)
	Delete(ctx context.Context, id string) (*service.DeleteResult, error)
}

// InterventionAPI — операции над вмешательствами. Реализуется *service.InterventionService.
type InterventionAPI interface {
	Create(ctx context.Context, caller *model.User, in model.NewIntervention) (*model.Intervention, error)
	List(ctx context.Context, caller *model.User, q service.ListQuery) ([]model.Intervention, error)
	Period(kind report.PeriodKind, from, to *time.Time) (report.Period, error)
	Statistics(ctx context.Context, caller *model.User, p report.Period, targetUserID string) (report.Stats, error)
}

// APIHandler — основной обработчик API IRT.
type APIHandler struct {
	health        *HealthHandler
	profiles      ProfileAPI
	interventions InterventionAPI
	spec          []byte
	now           func() time.Time
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// spec — YAML OpenAPI контракта, отдаётся на /api/v1/openapi.yaml.
func NewAPIHandler(
	health *HealthHandler,
	profiles ProfileAPI,
	interventions InterventionAPI,
	spec []byte,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		profiles:      profiles,
		interventions: interventions,
		spec:          spec,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetOpenAPI — GET /api/v1/openapi.yaml.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.spec)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrIDPUnavailable):
		h.logger.Error(action, slog.String("error", err.Error()))
		apierrors.IDPUnavailable(w, "Keycloak недоступен")
	case errors.Is(err, service.ErrPersistence):
		h.logger.Error(action, slog.String("error", err.Error()))
		apierrors.PersistenceError(w, action)
	default:
		h.logger.Error(action, slog.String("error", err.Error()))
		apierrors.InternalError(w, action)
	}
}

// decodeJSON разбирает тело запроса. Ошибка уже записана в ответ, если ok == false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %v", err))
		return false
	}
	return true
}

// queryString — необязательный строковый query-параметр.
func queryString(r *http.Request, name string) (string, error) {
	var v *string
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// queryDate — необязательный query-параметр в формате YYYY-MM-DD.
func queryDate(r *http.Request, name string) (*time.Time, error) {
	var d *openapi_types.Date
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &d); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	t := d.Time
	return &t, nil
}

// rangeParams — общие параметры выборки user_id, from, to.
type rangeParams struct {
	UserID   string
	From, To *time.Time
}

func bindRange(r *http.Request) (rangeParams, error) {
	var p rangeParams
	var err error
	if p.UserID, err = queryString(r, "user_id"); err != nil {
		return p, err
	}
	if p.From, err = queryDate(r, "from"); err != nil {
		return p, err
	}
	if p.To, err = queryDate(r, "to"); err != nil {
		return p, err
	}
	return p, nil
}
