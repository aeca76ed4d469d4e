package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Provider — оператор связи, для которого выполнено вмешательство.
type Provider string

const (
	ProviderFree      Provider = "FREE"
	ProviderSFR       Provider = "SFR"
	ProviderOrange    Provider = "ORANGE"
	ProviderOrangePro Provider = "ORANGE_PRO"
)

// Providers возвращает операторов в порядке отображения.
func Providers() []Provider {
	return []Provider{ProviderFree, ProviderSFR, ProviderOrange, ProviderOrangePro}
}

// ParseProvider преобразует строку в Provider.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("недопустимый оператор %q", s)
}

// ServiceType — тип выполненной работы.
type ServiceType string

const (
	ServiceSAV         ServiceType = "SAV"
	ServicePLP         ServiceType = "PLP"
	ServiceAerial      ServiceType = "AERIAL"
	ServiceFacade      ServiceType = "FACADE"
	ServiceBuilding    ServiceType = "BUILDING"
	ServiceUnderground ServiceType = "UNDERGROUND"
	ServicePSER1       ServiceType = "PSER1"
	ServicePreVisit    ServiceType = "PRE_VISIT"
)

// ServiceTypes возвращает типы работ в порядке отображения.
func ServiceTypes() []ServiceType {
	return []ServiceType{
		ServiceSAV, ServicePLP, ServiceAerial, ServiceFacade,
		ServiceBuilding, ServiceUnderground, ServicePSER1, ServicePreVisit,
	}
}

// ParseServiceType преобразует строку в ServiceType.
func ParseServiceType(s string) (ServiceType, error) {
	for _, st := range ServiceTypes() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("недопустимый тип работ %q", s)
}

// Status — итог вмешательства.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ParseStatus преобразует строку в Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusSuccess, StatusFailure:
		return Status(s), nil
	}
	return "", fmt.Errorf("недопустимый статус %q", s)
}

// Intervention — запись о выезде техника.
// Цена фиксируется при создании и больше не пересчитывается.
type Intervention struct {
	ID     string
	UserID string
	// Date — дата выезда (без времени, UTC)
	Date time.Time
	// Time — время выезда в формате HH:MM
	Time        string
	NDNumber    string
	Provider    Provider
	ServiceType ServiceType
	Price       decimal.Decimal
	Status      Status
	CreatedAt   time.Time
}

// NewIntervention — данные для создания вмешательства.
// Цена и владелец задаются сервером.
type NewIntervention struct {
	Date        time.Time
	Time        string
	NDNumber    string
	Provider    Provider
	ServiceType ServiceType
	Status      Status
}
