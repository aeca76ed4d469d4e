// profiles.go — обработчики /api/v1/profiles: администрирование техников.
// Доступ: право manageUsers (проверяется middleware на уровне маршрутов).
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/service"
)

// ListProfiles — GET /api/v1/profiles.
func (h *APIHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	users, err := h.profiles.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения профилей")
		return
	}

	items := make([]profileDTO, 0, len(users))
	for _, u := range users {
		items = append(items, mapProfile(u))
	}
	writeJSON(w, http.StatusOK, listResponse[profileDTO]{Items: items})
}

// CreateProfile — POST /api/v1/profiles.
// Создаёт пользователя Keycloak с паролем и его профиль.
func (h *APIHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req newProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.profiles.Create(r.Context(), service.NewProfile{
		Email:    string(req.Email),
		Name:     req.Name,
		Password: req.Password,
		Role:     req.Role,
		SIREN:    req.SIREN,
		Address:  req.Address,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания техника")
		return
	}

	writeJSON(w, http.StatusCreated, mapProfile(u))
}

// UpdateProfile — PATCH /api/v1/profiles/{id}.
func (h *APIHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req profileUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.profiles.Update(r.Context(), id, model.ProfileUpdate{
		Name:    req.Name,
		Role:    req.Role,
		SIREN:   req.SIREN,
		Address: req.Address,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка обновления профиля")
		return
	}

	writeJSON(w, http.StatusOK, mapProfile(u))
}

// DeleteProfile — DELETE /api/v1/profiles/{id}.
// Учётная запись Keycloak сохраняется, identity_orphaned сообщает об этом.
func (h *APIHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.profiles.Delete(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка удаления профиля")
		return
	}

	writeJSON(w, http.StatusOK, deleteProfileResponse{ID: id, IdentityOrphaned: res.IdentityOrphaned})
}
