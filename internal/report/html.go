package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/pricing"
	"github.com/bigkaa/irt/internal/i18n"
)

// HTMLReport возвращает печатный отчёт: заголовок, таблица записей и сводка.
func HTMLReport(items []model.Intervention, opts Options) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		b := i18n.Default()
		lang := opts.Lang
		t := BuildTable(items, opts)
		st := summaryStats(items, opts)

		var sb strings.Builder
		sb.WriteString("<!DOCTYPE html>\n<html lang=\"" + templ.EscapeString(lang) + "\"><head><meta charset=\"utf-8\">")
		sb.WriteString("<title>" + templ.EscapeString(b.Translate(lang, "report.title")) + "</title>")
		sb.WriteString("<style>body{font-family:sans-serif;font-size:12px}table{border-collapse:collapse;width:100%}" +
			"th,td{border:1px solid #999;padding:4px}th{background:#4f46e5;color:#fff}@media print{th{-webkit-print-color-adjust:exact}}</style>")
		sb.WriteString("</head><body>")

		sb.WriteString("<h1>" + templ.EscapeString(b.Translate(lang, "report.title")) + "</h1>")
		sb.WriteString("<p>" + templ.EscapeString(b.Translatef(lang, "report.generated_at",
			opts.GeneratedAt.Format("02/01/2006 15:04"))) + "</p>")
		if opts.SelectedUser != nil {
			sb.WriteString("<p>" + templ.EscapeString(b.Translatef(lang, "report.user", opts.SelectedUser.Name)) + "</p>")
		}
		if opts.Period != nil {
			sb.WriteString("<p>" + templ.EscapeString(b.Translatef(lang, "report.period",
				opts.Period.From.Format("02/01/2006"), opts.Period.To.Format("02/01/2006"))) + "</p>")
		}

		sb.WriteString("<table><thead><tr>")
		for _, h := range t.Headers {
			sb.WriteString("<th>" + templ.EscapeString(h) + "</th>")
		}
		sb.WriteString("</tr></thead><tbody>")
		for _, row := range t.Rows {
			sb.WriteString("<tr>")
			for _, c := range row {
				sb.WriteString("<td>" + templ.EscapeString(c) + "</td>")
			}
			sb.WriteString("</tr>")
		}
		sb.WriteString("</tbody></table>")

		sb.WriteString("<h2>" + templ.EscapeString(b.Translate(lang, "summary.title")) + "</h2><ul>")
		fmt.Fprintf(&sb, "<li>%s : %s</li>", templ.EscapeString(b.Translate(lang, "summary.total_amount")),
			templ.EscapeString(FormatMoney(st.Amount, lang)))
		fmt.Fprintf(&sb, "<li>%s : %s</li>", templ.EscapeString(b.Translate(lang, "summary.success_rate")),
			templ.EscapeString(FormatPercent(st.SuccessRate, lang)))
		fmt.Fprintf(&sb, "<li>%s : %d</li>", templ.EscapeString(b.Translate(lang, "summary.count")), st.Total)
		sb.WriteString("</ul>")

		sb.WriteString("<h3>" + templ.EscapeString(b.Translate(lang, "summary.by_provider")) + "</h3><table><tbody>")
		for _, ps := range st.ByProvider {
			fmt.Fprintf(&sb, "<tr><td>%s</td><td>%d</td><td>%s</td><td>%s</td></tr>",
				templ.EscapeString(pricing.ProviderLabel(ps.Provider)), ps.Count,
				templ.EscapeString(FormatMoney(ps.Amount, lang)),
				templ.EscapeString(FormatPercent(ps.SuccessRate, lang)))
		}
		sb.WriteString("</tbody></table></body></html>\n")

		_, err := io.WriteString(w, sb.String())
		return err
	})
}
