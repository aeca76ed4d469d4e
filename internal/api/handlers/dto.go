// dto.go — JSON-представления ресурсов API и преобразование из доменных моделей.
package handlers

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
)

type capabilitiesDTO struct {
	ViewAllData  bool `json:"view_all_data"`
	ViewInvoices bool `json:"view_invoices"`
	ManageUsers  bool `json:"manage_users"`
}

type profileDTO struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Name         string          `json:"name"`
	Role         model.Role      `json:"role"`
	SIREN        *string         `json:"siren"`
	Address      *string         `json:"address"`
	CreatedAt    time.Time       `json:"created_at"`
	Capabilities capabilitiesDTO `json:"capabilities"`
}

func mapProfile(u *model.User) profileDTO {
	caps := policy.CapabilitiesOf(u.Role)
	return profileDTO{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		SIREN:     u.SIREN,
		Address:   u.Address,
		CreatedAt: u.CreatedAt,
		Capabilities: capabilitiesDTO{
			ViewAllData:  caps.ViewAllData,
			ViewInvoices: caps.ViewInvoices,
			ManageUsers:  caps.ManageUsers,
		},
	}
}

type newProfileRequest struct {
	Email    openapi_types.Email `json:"email"`
	Name     string              `json:"name"`
	Password string              `json:"password"` //nolint:gosec // пароль передаётся в Keycloak
	Role     model.Role          `json:"role,omitempty"`
	SIREN    string              `json:"siren,omitempty"`
	Address  string              `json:"address,omitempty"`
}

type profileUpdateRequest struct {
	Name    *string     `json:"name,omitempty"`
	Role    *model.Role `json:"role,omitempty"`
	SIREN   *string     `json:"siren,omitempty"`
	Address *string     `json:"address,omitempty"`
}

type deleteProfileResponse struct {
	ID               string `json:"id"`
	IdentityOrphaned bool   `json:"identity_orphaned"`
}

type interventionDTO struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Date        openapi_types.Date `json:"date"`
	Time        string             `json:"time"`
	NDNumber    string             `json:"nd_number"`
	Provider    model.Provider     `json:"provider"`
	ServiceType model.ServiceType  `json:"service_type"`
	Price       decimal.Decimal    `json:"price"`
	Status      model.Status       `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

func mapIntervention(i *model.Intervention) interventionDTO {
	return interventionDTO{
		ID:          i.ID,
		UserID:      i.UserID,
		Date:        openapi_types.Date{Time: i.Date},
		Time:        i.Time,
		NDNumber:    i.NDNumber,
		Provider:    i.Provider,
		ServiceType: i.ServiceType,
		Price:       i.Price,
		Status:      i.Status,
		CreatedAt:   i.CreatedAt,
	}
}

type newInterventionRequest struct {
	Date        openapi_types.Date `json:"date"`
	Time        string             `json:"time"`
	NDNumber    string             `json:"nd_number"`
	Provider    model.Provider     `json:"provider"`
	ServiceType model.ServiceType  `json:"service_type"`
	Status      model.Status       `json:"status"`
}

func (req newInterventionRequest) toModel() model.NewIntervention {
	return model.NewIntervention{
		Date:        req.Date.Time,
		Time:        req.Time,
		NDNumber:    req.NDNumber,
		Provider:    req.Provider,
		ServiceType: req.ServiceType,
		Status:      req.Status,
	}
}

type priceEntryDTO struct {
	Provider      model.Provider    `json:"provider"`
	ProviderLabel string            `json:"provider_label"`
	ServiceType   model.ServiceType `json:"service_type"`
	ServiceLabel  string            `json:"service_label"`
	// Price — nil без права viewInvoices
	Price *decimal.Decimal `json:"price"`
}

type serviceOptionDTO struct {
	ServiceType model.ServiceType `json:"service_type"`
	Label       string            `json:"label"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type interventionListResponse struct {
	Items []interventionDTO `json:"items"`
	Total int               `json:"total"`
}
