package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/pricing"
	"github.com/bigkaa/irt/internal/i18n"
)

// WriteXLSX записывает книгу из двух листов: записи и сводка.
func WriteXLSX(w io.Writer, items []model.Intervention, opts Options) error {
	b := i18n.Default()
	t := BuildTable(items, opts)

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // файл только в памяти

	dataSheet := b.Translate(opts.Lang, "sheet.interventions")
	if err := f.SetSheetName("Sheet1", dataSheet); err != nil {
		return fmt.Errorf("ошибка создания листа: %w", err)
	}
	if err := setRow(f, dataSheet, 1, t.Headers); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := setRow(f, dataSheet, i+2, row); err != nil {
			return err
		}
	}

	summarySheet := b.Translate(opts.Lang, "sheet.summary")
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("ошибка создания листа: %w", err)
	}
	st := summaryStats(items, opts)
	summary := [][]string{
		{b.Translate(opts.Lang, "summary.count"), fmt.Sprint(st.Total)},
		{b.Translate(opts.Lang, "summary.success"), fmt.Sprint(st.Success)},
		{b.Translate(opts.Lang, "summary.failure"), fmt.Sprint(st.Failure)},
		{b.Translate(opts.Lang, "summary.success_rate"), FormatPercent(st.SuccessRate, opts.Lang)},
		{b.Translate(opts.Lang, "summary.total_amount"), FormatMoney(st.Amount, opts.Lang)},
		{},
		{b.Translate(opts.Lang, "col.provider"), b.Translate(opts.Lang, "summary.count"),
			b.Translate(opts.Lang, "summary.total_amount"), b.Translate(opts.Lang, "summary.success_rate")},
	}
	for _, ps := range st.ByProvider {
		summary = append(summary, []string{
			pricing.ProviderLabel(ps.Provider),
			fmt.Sprint(ps.Count),
			FormatMoney(ps.Amount, opts.Lang),
			FormatPercent(ps.SuccessRate, opts.Lang),
		})
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("ошибка записи XLSX: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	if len(values) == 0 {
		return nil
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("ошибка адреса ячейки: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("ошибка записи строки %d листа %s: %w", row, sheet, err)
	}
	return nil
}
