package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/irt/internal/apiclient"
	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/i18n"
	"github.com/bigkaa/irt/internal/report"
)

func newPricingCMD(load settingsLoader) *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Тарифная сетка или типы работ оператора",
		RunE: withUser(load, func(a *app, _ *model.User, _ *cobra.Command, _ []string) error {
			if provider != "" {
				p, err := model.ParseProvider(strings.ToUpper(provider))
				if err != nil {
					return fmt.Errorf("--provider: %w", err)
				}
				services, err := a.api.Services(a.ctx, p)
				if err != nil {
					return err
				}
				for _, s := range services {
					fmt.Fprintf(a.out, "%s\t%s\n", s.ServiceType, s.Label)
				}
				return nil
			}

			entries, err := a.api.Pricing(a.ctx)
			if err != nil {
				return err
			}
			printPricing(a, entries)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "показать типы работ оператора")
	return cmd
}

// printPricing печатает сетку. Колонка цены есть, только если сервер её вернул.
func printPricing(a *app, entries []apiclient.PriceEntry) {
	b := i18n.Default()
	lang := a.cfg.Lang

	withPrice := false
	for _, e := range entries {
		if e.Price != nil {
			withPrice = true
			break
		}
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	header := b.Translate(lang, "col.provider") + "\t" + b.Translate(lang, "col.service")
	if withPrice {
		header += "\t" + b.Translate(lang, "col.price")
	}
	fmt.Fprintln(w, header)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s", e.ProviderLabel, e.ServiceLabel)
		if withPrice {
			price := "-"
			if e.Price != nil {
				price = report.FormatMoney(*e.Price, lang)
			}
			fmt.Fprintf(w, "\t%s", price)
		}
		fmt.Fprintln(w)
	}
	_ = w.Flush()
}
