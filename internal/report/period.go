// Пакет report — статистика по вмешательствам и экспорт отчётов
// (CSV, XLSX, печатный HTML).
package report

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod — некорректный период статистики.
var ErrInvalidPeriod = errors.New("некорректный период")

// PeriodKind — тип периода.
type PeriodKind string

const (
	// PeriodDay — сегодняшний день.
	PeriodDay PeriodKind = "day"
	// PeriodWeek — последние 7 дней, включая сегодня.
	PeriodWeek PeriodKind = "week"
	// PeriodMonth — текущий календарный месяц.
	PeriodMonth PeriodKind = "month"
	// PeriodRange — произвольный диапазон дат.
	PeriodRange PeriodKind = "range"
)

// Period — диапазон дат, обе границы включительно.
type Period struct {
	Kind PeriodKind `json:"kind"`
	From time.Time  `json:"from"`
	To   time.Time  `json:"to"`
}

// NewPeriod строит период относительно now. from и to нужны только для range.
// Пустой kind означает month.
func NewPeriod(kind PeriodKind, from, to *time.Time, now time.Time) (Period, error) {
	today := dateOf(now)

	switch kind {
	case PeriodDay:
		return Period{Kind: kind, From: today, To: today}, nil
	case PeriodWeek:
		return Period{Kind: kind, From: today.AddDate(0, 0, -6), To: today}, nil
	case PeriodMonth, "":
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Kind: PeriodMonth, From: first, To: first.AddDate(0, 1, -1)}, nil
	case PeriodRange:
		if from == nil || to == nil {
			return Period{}, fmt.Errorf("%w: для range нужны from и to", ErrInvalidPeriod)
		}
		f, t := dateOf(*from), dateOf(*to)
		if t.Before(f) {
			return Period{}, fmt.Errorf("%w: from позже to", ErrInvalidPeriod)
		}
		return Period{Kind: kind, From: f, To: t}, nil
	default:
		return Period{}, fmt.Errorf("%w: %q, допустимые: day, week, month, range", ErrInvalidPeriod, kind)
	}
}

// Contains — дата d попадает в период.
func (p Period) Contains(d time.Time) bool {
	day := dateOf(d)
	return !day.Before(p.From) && !day.After(p.To)
}

// dateOf отбрасывает время, сохраняя календарную дату.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
