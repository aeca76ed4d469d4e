package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/domain/pricing"
	"github.com/bigkaa/irt/internal/i18n"
	"github.com/bigkaa/irt/internal/report"
)

func newStatsCMD(load settingsLoader) *cobra.Command {
	var (
		f      filterFlags
		period string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Статистика за период",
		Long: `Периоды: day (сегодня), week (последние 7 дней), month (текущий месяц),
range (--from и --to обязательны). По умолчанию month.`,
		RunE: withUser(load, func(a *app, u *model.User, _ *cobra.Command, _ []string) error {
			filter, err := f.filter()
			if err != nil {
				return err
			}
			st, err := a.api.Statistics(a.ctx, report.PeriodKind(period), filter)
			if err != nil {
				return err
			}
			printStats(a, u, st)
			return nil
		}),
	}
	cmd.Flags().StringVar(&period, "period", string(report.PeriodMonth), "day | week | month | range")
	f.register(cmd)
	return cmd
}

// printStats печатает сводку. Суммы скрыты без права viewInvoices.
func printStats(a *app, u *model.User, st *report.Stats) {
	b := i18n.Default()
	lang := a.cfg.Lang
	money := policy.CapabilitiesOf(u.Role).ViewInvoices

	fmt.Fprintf(a.out, "%s: %s – %s\n", b.Translate(lang, "period."+string(st.Period.Kind)),
		st.Period.From.Format("02/01/2006"), st.Period.To.Format("02/01/2006"))

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%d\n", b.Translate(lang, "summary.count"), st.Total)
	fmt.Fprintf(w, "%s\t%d\n", b.Translate(lang, "summary.success"), st.Success)
	fmt.Fprintf(w, "%s\t%d\n", b.Translate(lang, "summary.failure"), st.Failure)
	fmt.Fprintf(w, "%s\t%s\n", b.Translate(lang, "summary.success_rate"), report.FormatPercent(st.SuccessRate, lang))
	if money {
		fmt.Fprintf(w, "%s\t%s\n", b.Translate(lang, "summary.total_amount"), report.FormatMoney(st.Amount, lang))
	}
	_ = w.Flush()

	fmt.Fprintf(a.out, "\n%s\n", b.Translate(lang, "summary.by_provider"))
	w = tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, ps := range st.ByProvider {
		fmt.Fprintf(w, "%s\t%d\t%s", pricing.ProviderLabel(ps.Provider), ps.Count, report.FormatPercent(ps.SuccessRate, lang))
		if money {
			fmt.Fprintf(w, "\t%s", report.FormatMoney(ps.Amount, lang))
		}
		fmt.Fprintln(w)
	}
	_ = w.Flush()
}

func newExportCMD(load settingsLoader) *cobra.Command {
	var (
		f      filterFlags
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Экспорт отчёта (csv, xlsx, html)",
		Long: `Сохраняет отчёт по вмешательствам. Без --output файл создаётся
в текущем каталоге под именем, предложенным сервером. "-" пишет в stdout.`,
		RunE: withUser(load, func(a *app, _ *model.User, _ *cobra.Command, _ []string) error {
			fmtv, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			filter, err := f.filter()
			if err != nil {
				return err
			}

			if output == "-" {
				_, err := a.api.Export(a.ctx, fmtv, a.cfg.Lang, filter, a.out)
				return err
			}

			tmp, err := os.CreateTemp(filepath.Dir(outputOrCwd(output)), ".irt-export-*")
			if err != nil {
				return fmt.Errorf("создание файла отчёта: %w", err)
			}
			defer os.Remove(tmp.Name())

			name, err := a.api.Export(a.ctx, fmtv, a.cfg.Lang, filter, tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			dst := output
			if dst == "" {
				dst = filepath.Base(name)
			}
			if err := os.Rename(tmp.Name(), dst); err != nil {
				return fmt.Errorf("сохранение отчёта: %w", err)
			}
			fmt.Fprintln(a.out, dst)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(report.FormatCSV), "csv | xlsx | html")
	cmd.Flags().StringVarP(&output, "output", "o", "", "файл назначения или - для stdout")
	f.register(cmd)
	return cmd
}

// outputOrCwd — путь, в каталоге которого создаётся временный файл.
func outputOrCwd(output string) string {
	if output == "" {
		return "./report"
	}
	return output
}
