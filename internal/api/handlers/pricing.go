// pricing.go — обработчики /api/v1/pricing: тарифная сетка и типы работ оператора.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/irt/internal/api/errors"
	"github.com/bigkaa/irt/internal/api/middleware"
	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/domain/pricing"
)

// ListPricing — GET /api/v1/pricing.
// Цены видны только роли с правом viewInvoices.
func (h *APIHandler) ListPricing(w http.ResponseWriter, r *http.Request) {
	u := middleware.ProfileFromContext(r.Context())
	if u == nil {
		apierrors.Unauthorized(w, "Отсутствует профиль в контексте")
		return
	}
	showPrices := policy.CapabilitiesOf(u.Role).ViewInvoices

	entries := pricing.Entries()
	items := make([]priceEntryDTO, 0, len(entries))
	for _, e := range entries {
		item := priceEntryDTO{
			Provider:      e.Provider,
			ProviderLabel: pricing.ProviderLabel(e.Provider),
			ServiceType:   e.ServiceType,
			ServiceLabel:  pricing.ServiceLabel(e.ServiceType),
		}
		if showPrices {
			price := e.Price
			item.Price = &price
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, listResponse[priceEntryDTO]{Items: items})
}

// ListServices — GET /api/v1/pricing/services?provider=.
func (h *APIHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	raw, err := queryString(r, "provider")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	provider, err := model.ParseProvider(raw)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	services := pricing.AvailableServices(provider)
	items := make([]serviceOptionDTO, 0, len(services))
	for _, st := range services {
		items = append(items, serviceOptionDTO{ServiceType: st, Label: pricing.ServiceLabel(st)})
	}

	writeJSON(w, http.StatusOK, listResponse[serviceOptionDTO]{Items: items})
}
