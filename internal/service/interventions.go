// interventions.go — создание и выборка вмешательств, статистика.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/domain/pricing"
	"github.com/bigkaa/irt/internal/report"
	"github.com/bigkaa/irt/internal/repository"
)

var (
	interventionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irt_interventions_created_total",
		Help: "Количество созданных вмешательств по оператору и статусу.",
	}, []string{"provider", "status"})

	pricingUnknownPairTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irt_pricing_unknown_pair_total",
		Help: "Вмешательства с парой оператор/тип работ вне тарифной сетки (цена 0).",
	}, []string{"provider", "service_type"})
)

// timeOfDayTag — HH:MM с ведущим нулём, как требует CHECK в таблице interventions.
const timeOfDayTag = "len=5,datetime=15:04"

var fieldValidator = validator.New()

// InterventionService — сервис вмешательств.
type InterventionService struct {
	repo   repository.InterventionRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewInterventionService создаёт сервис вмешательств.
func NewInterventionService(repo repository.InterventionRepository, logger *slog.Logger) *InterventionService {
	return &InterventionService{
		repo:   repo,
		now:    time.Now,
		logger: logger.With(slog.String("component", "intervention_service")),
	}
}

// ScopeOf — параметры RLS для пользователя.
func ScopeOf(u *model.User) repository.Scope {
	return repository.Scope{
		UserID:  u.ID,
		ViewAll: policy.CapabilitiesOf(u.Role).ViewAllData,
	}
}

// Create сохраняет вмешательство от имени caller.
// Цена вычисляется по роли профиля и фиксируется в записи.
func (s *InterventionService) Create(ctx context.Context, caller *model.User, in model.NewIntervention) (*model.Intervention, error) {
	if err := validateIntervention(in); err != nil {
		return nil, err
	}

	if _, ok := pricing.Lookup(in.Provider, in.ServiceType); !ok {
		pricingUnknownPairTotal.WithLabelValues(string(in.Provider), string(in.ServiceType)).Inc()
		s.logger.Debug("Пара вне тарифной сетки, цена 0",
			slog.String("provider", string(in.Provider)),
			slog.String("service_type", string(in.ServiceType)),
		)
	}

	i := &model.Intervention{
		UserID:      caller.ID,
		Date:        in.Date,
		Time:        in.Time,
		NDNumber:    strings.TrimSpace(in.NDNumber),
		Provider:    in.Provider,
		ServiceType: in.ServiceType,
		Price:       policy.PriceOf(in.Provider, in.ServiceType, caller.Role),
		Status:      in.Status,
	}

	if err := s.repo.Create(ctx, ScopeOf(caller), i); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	interventionsCreatedTotal.WithLabelValues(string(i.Provider), string(i.Status)).Inc()
	s.logger.Info("Вмешательство создано",
		slog.String("id", i.ID),
		slog.String("user_id", i.UserID),
		slog.String("provider", string(i.Provider)),
		slog.String("service_type", string(i.ServiceType)),
	)
	return i, nil
}

// ListQuery — параметры выборки.
type ListQuery struct {
	// TargetUserID — только записи пользователя; учитывается при ViewAllData
	TargetUserID string
	From, To     *time.Time
}

// List возвращает видимые caller записи, новые первыми.
// Видимость ограничивает и RLS, и политика доступа.
func (s *InterventionService) List(ctx context.Context, caller *model.User, q ListQuery) ([]model.Intervention, error) {
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, fmt.Errorf("%w: from позже to", ErrValidation)
	}

	scope := ScopeOf(caller)
	filter := repository.InterventionFilter{From: q.From, To: q.To}
	if scope.ViewAll {
		filter.UserID = q.TargetUserID
	}

	rows, err := s.repo.List(ctx, scope, filter)
	if err != nil {
		return nil, fmt.Errorf("получение вмешательств: %w", err)
	}

	all := make([]model.Intervention, 0, len(rows))
	for _, r := range rows {
		all = append(all, *r)
	}
	return policy.VisibleInterventions(all, *caller, q.TargetUserID), nil
}

// Period строит период статистики относительно текущего времени.
func (s *InterventionService) Period(kind report.PeriodKind, from, to *time.Time) (report.Period, error) {
	p, err := report.NewPeriod(kind, from, to, s.now())
	if err != nil {
		return report.Period{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return p, nil
}

// Statistics считает статистику видимых caller записей за период.
func (s *InterventionService) Statistics(ctx context.Context, caller *model.User, p report.Period, targetUserID string) (report.Stats, error) {
	items, err := s.List(ctx, caller, ListQuery{TargetUserID: targetUserID, From: &p.From, To: &p.To})
	if err != nil {
		return report.Stats{}, err
	}
	return report.Compute(items, p), nil
}

func validateIntervention(in model.NewIntervention) error {
	var problems []string
	if in.Date.IsZero() {
		problems = append(problems, "не указана дата")
	}
	if err := fieldValidator.Var(in.Time, timeOfDayTag); err != nil {
		problems = append(problems, fmt.Sprintf("время %q не в формате HH:MM", in.Time))
	}
	if strings.TrimSpace(in.NDNumber) == "" {
		problems = append(problems, "не указан номер ND")
	}
	if _, err := model.ParseProvider(string(in.Provider)); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := model.ParseServiceType(string(in.ServiceType)); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := model.ParseStatus(string(in.Status)); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) == 0 && !pricing.IsServiceAllowed(in.Provider, in.ServiceType) {
		problems = append(problems, fmt.Sprintf("тип работ %s недоступен для оператора %s", in.ServiceType, in.Provider))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}
