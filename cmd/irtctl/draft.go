package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/irt/internal/domain/model"
)

// draft — введённые значения вмешательства, не сохранённые на сервере.
type draft struct {
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	NDNumber    string            `json:"nd_number"`
	Provider    model.Provider    `json:"provider"`
	ServiceType model.ServiceType `json:"service_type"`
	Status      model.Status      `json:"status"`
	SavedAt     time.Time         `json:"saved_at"`
}

func draftOf(in model.NewIntervention, now time.Time) draft {
	return draft{
		Date:        in.Date.Format(time.DateOnly),
		Time:        in.Time,
		NDNumber:    in.NDNumber,
		Provider:    in.Provider,
		ServiceType: in.ServiceType,
		Status:      in.Status,
		SavedAt:     now,
	}
}

func (d draft) intervention() (model.NewIntervention, error) {
	date, err := time.Parse(time.DateOnly, d.Date)
	if err != nil {
		return model.NewIntervention{}, fmt.Errorf("повреждён черновик: дата %q", d.Date)
	}
	return model.NewIntervention{
		Date:        date,
		Time:        d.Time,
		NDNumber:    d.NDNumber,
		Provider:    d.Provider,
		ServiceType: d.ServiceType,
		Status:      d.Status,
	}, nil
}

// saveDraft атомарно записывает черновик с правами 0600.
func saveDraft(path string, d draft) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("кодирование черновика: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("создание каталога черновика: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("запись черновика: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("запись черновика: %w", err)
	}
	return nil
}

// loadDraft читает черновик. (nil, nil) — черновика нет.
func loadDraft(path string) (*draft, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение черновика: %w", err)
	}
	var d draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("повреждён черновик %s: %w", path, err)
	}
	return &d, nil
}

func clearDraft(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("удаление черновика: %w", err)
	}
	return nil
}
