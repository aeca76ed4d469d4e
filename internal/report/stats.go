package report

import (
	"github.com/shopspring/decimal"

	"github.com/bigkaa/irt/internal/domain/model"
)

// ProviderStats — показатели одного оператора.
type ProviderStats struct {
	Provider    model.Provider  `json:"provider"`
	Count       int             `json:"count"`
	Success     int             `json:"success"`
	Amount      decimal.Decimal `json:"amount"`
	SuccessRate decimal.Decimal `json:"success_rate"`
}

// Stats — сводка по вмешательствам периода.
type Stats struct {
	Period      Period          `json:"period"`
	Total       int             `json:"total"`
	Success     int             `json:"success"`
	Failure     int             `json:"failure"`
	SuccessRate decimal.Decimal `json:"success_rate"`
	Amount      decimal.Decimal `json:"amount"`
	// ByProvider — все операторы в порядке справочника, в том числе без записей
	ByProvider []ProviderStats `json:"by_provider"`
}

// Compute считает статистику по записям, попадающим в период.
// Доля успешных — в процентах с одним знаком после запятой.
func Compute(items []model.Intervention, p Period) Stats {
	st := Stats{Period: p, Amount: decimal.Zero}

	byProvider := make(map[model.Provider]*ProviderStats, len(model.Providers()))
	for _, prov := range model.Providers() {
		byProvider[prov] = &ProviderStats{Provider: prov, Amount: decimal.Zero}
	}

	for _, i := range Filter(items, p) {
		st.Total++
		st.Amount = st.Amount.Add(i.Price)
		success := i.Status == model.StatusSuccess
		if success {
			st.Success++
		} else {
			st.Failure++
		}

		ps, ok := byProvider[i.Provider]
		if !ok {
			continue
		}
		ps.Count++
		ps.Amount = ps.Amount.Add(i.Price)
		if success {
			ps.Success++
		}
	}

	st.SuccessRate = rate(st.Success, st.Total)
	for _, prov := range model.Providers() {
		ps := byProvider[prov]
		ps.SuccessRate = rate(ps.Success, ps.Count)
		st.ByProvider = append(st.ByProvider, *ps)
	}
	return st
}

// Filter возвращает записи, попадающие в период, с сохранением порядка.
func Filter(items []model.Intervention, p Period) []model.Intervention {
	out := make([]model.Intervention, 0, len(items))
	for _, i := range items {
		if p.Contains(i.Date) {
			out = append(out, i)
		}
	}
	return out
}

func rate(part, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part) * 100).
		Div(decimal.NewFromInt(int64(total))).
		Round(1)
}
