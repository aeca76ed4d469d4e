package apiclient

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigkaa/irt/internal/domain/model"
)

// Profile — профиль в ответах API.
type Profile struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	Role         model.Role   `json:"role"`
	SIREN        *string      `json:"siren"`
	Address      *string      `json:"address"`
	CreatedAt    time.Time    `json:"created_at"`
	Capabilities Capabilities `json:"capabilities"`
}

// Capabilities — права роли, вычисленные сервером.
type Capabilities struct {
	ViewAllData  bool `json:"view_all_data"`
	ViewInvoices bool `json:"view_invoices"`
	ManageUsers  bool `json:"manage_users"`
}

// User преобразует ответ в доменную модель.
func (p Profile) User() *model.User {
	return &model.User{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.Name,
		Role:      p.Role,
		SIREN:     p.SIREN,
		Address:   p.Address,
		CreatedAt: p.CreatedAt,
	}
}

// Intervention — вмешательство в ответах API. Дата в формате YYYY-MM-DD.
type Intervention struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	NDNumber    string            `json:"nd_number"`
	Provider    model.Provider    `json:"provider"`
	ServiceType model.ServiceType `json:"service_type"`
	Price       decimal.Decimal   `json:"price"`
	Status      model.Status      `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Model преобразует ответ в доменную модель. Некорректная дата даёт нулевое время.
func (i Intervention) Model() model.Intervention {
	date, _ := time.Parse(time.DateOnly, i.Date)
	return model.Intervention{
		ID:          i.ID,
		UserID:      i.UserID,
		Date:        date,
		Time:        i.Time,
		NDNumber:    i.NDNumber,
		Provider:    i.Provider,
		ServiceType: i.ServiceType,
		Price:       i.Price,
		Status:      i.Status,
		CreatedAt:   i.CreatedAt,
	}
}

type newIntervention struct {
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	NDNumber    string            `json:"nd_number"`
	Provider    model.Provider    `json:"provider"`
	ServiceType model.ServiceType `json:"service_type"`
	Status      model.Status      `json:"status"`
}

func newInterventionOf(in model.NewIntervention) newIntervention {
	return newIntervention{
		Date:        in.Date.Format(time.DateOnly),
		Time:        in.Time,
		NDNumber:    in.NDNumber,
		Provider:    in.Provider,
		ServiceType: in.ServiceType,
		Status:      in.Status,
	}
}

// PriceEntry — строка тарифной сетки. Price == nil без права viewInvoices.
type PriceEntry struct {
	Provider      model.Provider    `json:"provider"`
	ProviderLabel string            `json:"provider_label"`
	ServiceType   model.ServiceType `json:"service_type"`
	ServiceLabel  string            `json:"service_label"`
	Price         *decimal.Decimal  `json:"price"`
}

// ServiceOption — тип работ, доступный оператору.
type ServiceOption struct {
	ServiceType model.ServiceType `json:"service_type"`
	Label       string            `json:"label"`
}

// NewTechnician — данные создания техника администратором.
type NewTechnician struct {
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Password string     `json:"password"` //nolint:gosec // передаётся серверу по TLS
	Role     model.Role `json:"role,omitempty"`
	SIREN    string     `json:"siren,omitempty"`
	Address  string     `json:"address,omitempty"`
}
