package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/pricing"
	"github.com/bigkaa/irt/internal/i18n"
)

// Format — формат экспорта.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatHTML Format = "html"
)

// ParseFormat преобразует строку в Format. Пустая строка — csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatHTML:
		return FormatHTML, nil
	}
	return "", fmt.Errorf("недопустимый формат экспорта %q, допустимые: csv, xlsx, html", s)
}

// ContentType — MIME-тип файла экспорта.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Filename — имя файла вида interventions_month_2026-10-14.csv.
func (f Format) Filename(kind PeriodKind, now time.Time) string {
	if kind == "" {
		kind = "all"
	}
	return fmt.Sprintf("interventions_%s_%s.%s", kind, now.Format("2006-01-02"), f)
}

// Options — параметры экспорта.
type Options struct {
	// Lang — язык подписей (fr, en)
	Lang string
	// SelectedUser — отчёт по одному пользователю: колонка «Utilisateur» не выводится
	SelectedUser *model.User
	// UserNames — имена владельцев записей по ID
	UserNames map[string]string
	// Period — период отчёта, nil — без ограничения
	Period *Period
	// GeneratedAt — время формирования (по умолчанию time.Now)
	GeneratedAt time.Time
}

// Table — логическое содержимое отчёта: заголовки и строки.
type Table struct {
	Headers []string
	Rows    [][]string
}

// BuildTable формирует строки отчёта.
func BuildTable(items []model.Intervention, opts Options) Table {
	b := i18n.Default()
	lang := opts.Lang

	headers := []string{
		b.Translate(lang, "col.date"),
		b.Translate(lang, "col.time"),
		b.Translate(lang, "col.nd"),
		b.Translate(lang, "col.provider"),
		b.Translate(lang, "col.service"),
		b.Translate(lang, "col.price"),
		b.Translate(lang, "col.status"),
	}
	withUser := opts.SelectedUser == nil
	if withUser {
		headers = append(headers, b.Translate(lang, "col.user"))
	}

	rows := make([][]string, 0, len(items))
	for _, i := range items {
		row := []string{
			i.Date.Format("02/01/2006"),
			i.Time,
			i.NDNumber,
			pricing.ProviderLabel(i.Provider),
			pricing.ServiceLabel(i.ServiceType),
			FormatMoney(i.Price, lang),
			statusLabel(i.Status, lang),
		}
		if withUser {
			name := opts.UserNames[i.UserID]
			if name == "" {
				name = i.UserID
			}
			row = append(row, name)
		}
		rows = append(rows, row)
	}
	return Table{Headers: headers, Rows: rows}
}

// Export записывает отчёт в w в указанном формате.
func Export(ctx context.Context, w io.Writer, f Format, items []model.Intervention, opts Options) error {
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now()
	}
	if opts.Lang == "" {
		opts.Lang = i18n.DefaultLang
	}

	switch f {
	case FormatCSV:
		return WriteCSV(w, BuildTable(items, opts))
	case FormatXLSX:
		return WriteXLSX(w, items, opts)
	case FormatHTML:
		return HTMLReport(items, opts).Render(ctx, w)
	default:
		return fmt.Errorf("недопустимый формат экспорта %q", f)
	}
}

func statusLabel(s model.Status, lang string) string {
	if s == model.StatusSuccess {
		return i18n.Default().Translate(lang, "status.success")
	}
	return i18n.Default().Translate(lang, "status.failure")
}

// summaryStats — статистика для блока «Résumé»: по периоду, если он задан.
func summaryStats(items []model.Intervention, opts Options) Stats {
	if opts.Period != nil {
		return Compute(items, *opts.Period)
	}
	all := Period{From: time.Time{}, To: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)}
	return Compute(items, all)
}
