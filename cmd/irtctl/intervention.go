package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/irt/internal/apiclient"
	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/domain/pricing"
	"github.com/bigkaa/irt/internal/i18n"
	"github.com/bigkaa/irt/internal/report"
)

func newInterventionCMD(load settingsLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "intervention",
		Aliases: []string{"i"},
		Short:   "Вмешательства: создание и просмотр",
	}
	cmd.AddCommand(newInterventionAddCMD(load), newInterventionListCMD(load))
	return cmd
}

// addFlags — значения флагов intervention add.
type addFlags struct {
	date, time, nd, provider, service, status string
	resume                                    bool
}

// toModel разбирает флаги. Пустые дата и время — текущие.
func (f addFlags) toModel(now time.Time) (model.NewIntervention, error) {
	var in model.NewIntervention
	var err error

	in.Date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if f.date != "" {
		if in.Date, err = time.Parse(time.DateOnly, f.date); err != nil {
			return in, fmt.Errorf("--date: ожидается YYYY-MM-DD, получено %q", f.date)
		}
	}
	in.Time = f.time
	if in.Time == "" {
		in.Time = now.Format("15:04")
	}
	in.NDNumber = strings.TrimSpace(f.nd)
	if in.NDNumber == "" {
		return in, errors.New("--nd: обязательный номер ND")
	}
	if in.Provider, err = model.ParseProvider(strings.ToUpper(f.provider)); err != nil {
		return in, fmt.Errorf("--provider: %w", err)
	}
	if in.ServiceType, err = model.ParseServiceType(strings.ToUpper(f.service)); err != nil {
		return in, fmt.Errorf("--service: %w", err)
	}
	if !pricing.IsServiceAllowed(in.Provider, in.ServiceType) {
		return in, fmt.Errorf("--service: %s недоступен для %s", in.ServiceType, in.Provider)
	}
	if in.Status, err = model.ParseStatus(strings.ToLower(f.status)); err != nil {
		return in, fmt.Errorf("--status: %w", err)
	}
	return in, nil
}

func newInterventionAddCMD(load settingsLoader) *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Новое вмешательство",
		Long: `Сохраняет вмешательство. Цена вычисляется сервером по роли профиля.
При ошибке сохранения введённые значения остаются в черновике,
повторить попытку можно через --resume.`,
		RunE: withUser(load, func(a *app, _ *model.User, _ *cobra.Command, _ []string) error {
			var in model.NewIntervention
			if f.resume {
				d, err := loadDraft(a.cfg.DraftFile)
				if err != nil {
					return err
				}
				if d == nil {
					return errors.New(i18n.T(a.ctx, "cli.intervention.no_draft"))
				}
				if in, err = d.intervention(); err != nil {
					return err
				}
			} else {
				var err error
				if in, err = f.toModel(time.Now()); err != nil {
					return err
				}
			}

			created, err := a.api.CreateIntervention(a.ctx, in)
			if err != nil {
				if saveErr := saveDraft(a.cfg.DraftFile, draftOf(in, time.Now())); saveErr != nil {
					a.logger.Error("Черновик не сохранён", slog.String("error", saveErr.Error()))
					return explain(a, err)
				}
				return fmt.Errorf("%s: %w", i18n.Tf(a.ctx, "cli.intervention.draft_saved", a.cfg.DraftFile), explain(a, err))
			}
			if f.resume {
				if err := clearDraft(a.cfg.DraftFile); err != nil {
					a.logger.Warn("Черновик не удалён", slog.String("error", err.Error()))
				}
			}

			fmt.Fprintln(a.out, i18n.Tf(a.ctx, "cli.intervention.created", created.NDNumber, report.FormatMoney(created.Price, a.cfg.Lang)))
			return nil
		}),
	}
	flags := cmd.Flags()
	flags.StringVar(&f.date, "date", "", "дата YYYY-MM-DD (по умолчанию сегодня)")
	flags.StringVar(&f.time, "time", "", "время HH:MM (по умолчанию сейчас)")
	flags.StringVar(&f.nd, "nd", "", "номер ND")
	flags.StringVarP(&f.provider, "provider", "p", "", "оператор: FREE | SFR | ORANGE | ORANGE_PRO")
	flags.StringVarP(&f.service, "service", "s", "", "тип работ (irtctl pricing --provider P)")
	flags.StringVar(&f.status, "status", string(model.StatusSuccess), "итог: success | failure")
	flags.BoolVar(&f.resume, "resume", false, "повторить сохранение из черновика")
	return cmd
}

// filterFlags — общие флаги выборки.
type filterFlags struct {
	from, to, user string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "начало периода YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "конец периода YYYY-MM-DD")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "ID техника (только при праве viewAllData)")
}

func (f filterFlags) filter() (apiclient.Filter, error) {
	out := apiclient.Filter{UserID: f.user}
	for _, p := range []struct {
		name, value string
		dst         **time.Time
	}{{"--from", f.from, &out.From}, {"--to", f.to, &out.To}} {
		if p.value == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, p.value)
		if err != nil {
			return out, fmt.Errorf("%s: ожидается YYYY-MM-DD, получено %q", p.name, p.value)
		}
		*p.dst = &t
	}
	return out, nil
}

func newInterventionListCMD(load settingsLoader) *cobra.Command {
	var f filterFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Список вмешательств, новые первыми",
		RunE: withUser(load, func(a *app, u *model.User, _ *cobra.Command, _ []string) error {
			filter, err := f.filter()
			if err != nil {
				return err
			}
			items, err := a.api.ListInterventions(a.ctx, filter)
			if err != nil {
				return err
			}
			printInterventions(a, u, items)
			return nil
		}),
	}
	f.register(cmd)
	return cmd
}

// printInterventions печатает таблицу. Цены — только при праве viewInvoices,
// владелец — только при праве viewAllData.
func printInterventions(a *app, u *model.User, items []model.Intervention) {
	caps := policy.CapabilitiesOf(u.Role)
	b := i18n.Default()
	lang := a.cfg.Lang

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	headers := []string{
		b.Translate(lang, "col.date"), b.Translate(lang, "col.time"), b.Translate(lang, "col.nd"),
		b.Translate(lang, "col.provider"), b.Translate(lang, "col.service"), b.Translate(lang, "col.status"),
	}
	if caps.ViewInvoices {
		headers = append(headers, b.Translate(lang, "col.price"))
	}
	if caps.ViewAllData {
		headers = append(headers, b.Translate(lang, "col.user"))
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for _, i := range items {
		row := []string{
			i.Date.Format("02/01/2006"), i.Time, i.NDNumber,
			pricing.ProviderLabel(i.Provider), pricing.ServiceLabel(i.ServiceType),
			b.Translate(lang, "status."+string(i.Status)),
		}
		if caps.ViewInvoices {
			row = append(row, report.FormatMoney(i.Price, lang))
		}
		if caps.ViewAllData {
			row = append(row, i.UserID)
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}
