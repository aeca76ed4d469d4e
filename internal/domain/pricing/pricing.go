// Пакет pricing — статическая тарифная сетка: оператор × тип работ → цена,
// а также допустимые типы работ для каждого оператора.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/bigkaa/irt/internal/domain/model"
)

// Entry — строка тарифной сетки.
type Entry struct {
	Provider    model.Provider
	ServiceType model.ServiceType
	Price       decimal.Decimal
}

// table — цены в евро. Отсутствующая пара означает цену 0.
var table = map[model.Provider]map[model.ServiceType]decimal.Decimal{
	model.ProviderFree: {
		model.ServiceSAV: decimal.NewFromInt(30),
	},
	model.ProviderOrange: {
		model.ServicePLP:         decimal.NewFromInt(30),
		model.ServiceAerial:      decimal.NewFromInt(160),
		model.ServiceFacade:      decimal.NewFromInt(160),
		model.ServiceBuilding:    decimal.NewFromInt(45),
		model.ServiceUnderground: decimal.NewFromInt(88),
		model.ServicePSER1:       decimal.NewFromInt(11),
	},
	model.ProviderOrangePro: {
		model.ServicePLP:         decimal.NewFromInt(35),
		model.ServiceAerial:      decimal.NewFromInt(176),
		model.ServiceFacade:      decimal.NewFromInt(176),
		model.ServiceBuilding:    decimal.NewFromInt(50),
		model.ServiceUnderground: decimal.NewFromInt(95),
		model.ServicePSER1:       decimal.NewFromInt(15),
		model.ServicePreVisit:    decimal.NewFromInt(25),
	},
	model.ProviderSFR: {
		model.ServiceSAV:         decimal.Zero,
		model.ServicePLP:         decimal.NewFromInt(30),
		model.ServiceBuilding:    decimal.NewFromInt(55),
		model.ServiceUnderground: decimal.NewFromInt(110),
		model.ServiceFacade:      decimal.NewFromInt(110),
		model.ServiceAerial:      decimal.NewFromInt(110),
	},
}

// allowed — какие операторы предлагают тип работ.
var allowed = map[model.ServiceType][]model.Provider{
	model.ServiceSAV:         {model.ProviderFree, model.ProviderSFR},
	model.ServicePLP:         {model.ProviderOrange, model.ProviderOrangePro, model.ProviderSFR},
	model.ServiceAerial:      {model.ProviderOrange, model.ProviderOrangePro, model.ProviderSFR},
	model.ServiceFacade:      {model.ProviderOrange, model.ProviderOrangePro, model.ProviderSFR},
	model.ServiceBuilding:    {model.ProviderOrange, model.ProviderOrangePro, model.ProviderSFR},
	model.ServiceUnderground: {model.ProviderOrange, model.ProviderOrangePro, model.ProviderSFR},
	model.ServicePSER1:       {model.ProviderOrange, model.ProviderOrangePro},
	model.ServicePreVisit:    {model.ProviderOrangePro},
}

var providerLabels = map[model.Provider]string{
	model.ProviderFree:      "Free",
	model.ProviderSFR:       "SFR",
	model.ProviderOrange:    "Orange",
	model.ProviderOrangePro: "Orange Pro",
}

var serviceLabels = map[model.ServiceType]string{
	model.ServiceSAV:         "SAV",
	model.ServicePLP:         "PLP",
	model.ServiceAerial:      "Aérien",
	model.ServiceFacade:      "Façade",
	model.ServiceBuilding:    "Immeuble",
	model.ServiceUnderground: "Souterrain",
	model.ServicePSER1:       "PSER1",
	model.ServicePreVisit:    "Pré-visite",
}

// Lookup возвращает цену пары и признак её наличия в сетке.
// Для отсутствующей пары возвращается ноль.
func Lookup(p model.Provider, st model.ServiceType) (decimal.Decimal, bool) {
	price, ok := table[p][st]
	if !ok {
		return decimal.Zero, false
	}
	return price, true
}

// IsServiceAllowed сообщает, предлагает ли оператор данный тип работ.
func IsServiceAllowed(p model.Provider, st model.ServiceType) bool {
	for _, ap := range allowed[st] {
		if ap == p {
			return true
		}
	}
	return false
}

// AvailableServices возвращает типы работ оператора в порядке отображения.
func AvailableServices(p model.Provider) []model.ServiceType {
	var result []model.ServiceType
	for _, st := range model.ServiceTypes() {
		if IsServiceAllowed(p, st) {
			result = append(result, st)
		}
	}
	return result
}

// Entries возвращает все допустимые пары с ценами, включая явные нули.
func Entries() []Entry {
	var result []Entry
	for _, p := range model.Providers() {
		for _, st := range AvailableServices(p) {
			price, _ := Lookup(p, st)
			result = append(result, Entry{Provider: p, ServiceType: st, Price: price})
		}
	}
	return result
}

// ProviderLabel — отображаемое имя оператора.
func ProviderLabel(p model.Provider) string {
	if l, ok := providerLabels[p]; ok {
		return l
	}
	return string(p)
}

// ServiceLabel — отображаемое имя типа работ.
func ServiceLabel(st model.ServiceType) string {
	if l, ok := serviceLabels[st]; ok {
		return l
	}
	return string(st)
}
