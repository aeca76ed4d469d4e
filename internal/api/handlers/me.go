// me.go — обработчики /api/v1/me: профиль вызывающего.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/irt/internal/api/errors"
	"github.com/bigkaa/irt/internal/api/middleware"
	"github.com/bigkaa/irt/internal/service"
)

// GetMe — GET /api/v1/me.
// Нет профиля — 404 PROFILE_NOT_FOUND.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	u, err := h.profiles.Get(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.ProfileNotFound(w, "Профиль не найден")
			return
		}
		h.logger.Error("Ошибка получения профиля",
			slog.String("user_id", claims.Subject),
			slog.String("error", err.Error()),
		)
		apierrors.PersistenceError(w, "Ошибка получения профиля")
		return
	}

	writeJSON(w, http.StatusOK, mapProfile(u))
}

// CreateMe — POST /api/v1/me.
// Создаёт профиль по проверенным claims токена. Существующий профиль — 409.
func (h *APIHandler) CreateMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	u, err := h.profiles.CreateSelf(r.Context(), claims.Session)
	if err != nil {
		if errors.Is(err, service.ErrConflict) {
			apierrors.Conflict(w, "Профиль уже существует")
			return
		}
		h.writeServiceError(w, err, "Ошибка создания профиля")
		return
	}

	writeJSON(w, http.StatusCreated, mapProfile(u))
}
