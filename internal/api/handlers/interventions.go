// interventions.go — обработчики /api/v1/interventions и /api/v1/statistics.
package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/irt/internal/api/errors"
	"github.com/bigkaa/irt/internal/api/middleware"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/i18n"
	"github.com/bigkaa/irt/internal/report"
	"github.com/bigkaa/irt/internal/service"
)

// ListInterventions — GET /api/v1/interventions.
// user_id учитывается только при праве viewAllData.
func (h *APIHandler) ListInterventions(w http.ResponseWriter, r *http.Request) {
	caller := middleware.ProfileFromContext(r.Context())
	if caller == nil {
		apierrors.Unauthorized(w, "Отсутствует профиль в контексте")
		return
	}
	params, err := bindRange(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items, err := h.interventions.List(r.Context(), caller, service.ListQuery{
		TargetUserID: params.UserID,
		From:         params.From,
		To:           params.To,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения вмешательств")
		return
	}

	resp := interventionListResponse{Items: make([]interventionDTO, 0, len(items)), Total: len(items)}
	for i := range items {
		resp.Items = append(resp.Items, mapIntervention(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateIntervention — POST /api/v1/interventions.
// Владелец и цена задаются сервером по профилю вызывающего.
func (h *APIHandler) CreateIntervention(w http.ResponseWriter, r *http.Request) {
	caller := middleware.ProfileFromContext(r.Context())
	if caller == nil {
		apierrors.Unauthorized(w, "Отсутствует профиль в контексте")
		return
	}

	var req newInterventionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	i, err := h.interventions.Create(r.Context(), caller, req.toModel())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка сохранения вмешательства")
		return
	}

	writeJSON(w, http.StatusCreated, mapIntervention(i))
}

// ExportInterventions — GET /api/v1/interventions/export?format=csv|xlsx|html.
// Экспортируются записи, видимые вызывающему.
func (h *APIHandler) ExportInterventions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.ProfileFromContext(ctx)
	if caller == nil {
		apierrors.Unauthorized(w, "Отсутствует профиль в контексте")
		return
	}

	rawFormat, err := queryString(r, "format")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	format, err := report.ParseFormat(rawFormat)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	params, err := bindRange(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items, err := h.interventions.List(ctx, caller, service.ListQuery{
		TargetUserID: params.UserID,
		From:         params.From,
		To:           params.To,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения вмешательств")
		return
	}

	now := h.now()
	opts := report.Options{Lang: i18n.LangFromContext(ctx), GeneratedAt: now}

	if policy.CapabilitiesOf(caller.Role).ViewAllData {
		if params.UserID != "" {
			selected, err := h.profiles.Get(ctx, params.UserID)
			if err != nil {
				h.writeServiceError(w, err, "Ошибка получения профиля")
				return
			}
			opts.SelectedUser = selected
		} else {
			names, err := h.userNames(r)
			if err != nil {
				h.writeServiceError(w, err, "Ошибка получения профилей")
				return
			}
			opts.UserNames = names
		}
	} else {
		opts.SelectedUser = caller
	}

	var kind report.PeriodKind
	if params.From != nil && params.To != nil {
		p, err := h.interventions.Period(report.PeriodRange, params.From, params.To)
		if err != nil {
			h.writeServiceError(w, err, "Некорректный период")
			return
		}
		opts.Period = &p
		kind = p.Kind
	}

	var buf bytes.Buffer
	if err := report.Export(ctx, &buf, format, items, opts); err != nil {
		h.logger.Error("Ошибка формирования отчёта",
			slog.String("format", string(format)),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка формирования отчёта")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(kind, now)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// userNames — имена всех профилей для колонки «Utilisateur».
func (h *APIHandler) userNames(r *http.Request) (map[string]string, error) {
	users, err := h.profiles.List(r.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

// GetStatistics — GET /api/v1/statistics?period=day|week|month|range.
func (h *APIHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	caller := middleware.ProfileFromContext(r.Context())
	if caller == nil {
		apierrors.Unauthorized(w, "Отсутствует профиль в контексте")
		return
	}

	kind, err := queryString(r, "period")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	params, err := bindRange(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	p, err := h.interventions.Period(report.PeriodKind(kind), params.From, params.To)
	if err != nil {
		h.writeServiceError(w, err, "Некорректный период")
		return
	}

	st, err := h.interventions.Statistics(r.Context(), caller, p, params.UserID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка расчёта статистики")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

