package report

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV записывает таблицу в CSV с разделителем «,».
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}
	return nil
}
