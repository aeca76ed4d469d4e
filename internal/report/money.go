package report

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/bigkaa/irt/internal/i18n"
)

// FormatMoney форматирует сумму в евро по правилам языка:
// «1 234,5 €» для fr, «1,234.5 €» для en. Нулевые дробные знаки не выводятся.
func FormatMoney(amount decimal.Decimal, lang string) string {
	p := message.NewPrinter(i18n.Tag(lang))
	return p.Sprint(number.Decimal(amount.Round(2).InexactFloat64(), number.MaxFractionDigits(2))) + " €"
}

// FormatPercent форматирует долю в процентах с одним знаком.
func FormatPercent(rate decimal.Decimal, lang string) string {
	p := message.NewPrinter(i18n.Tag(lang))
	return p.Sprint(number.Decimal(rate.InexactFloat64(), number.Scale(1))) + " %"
}
