package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/i18n"
	"github.com/bigkaa/irt/internal/reconcile"
)

func newLoginCMD(load settingsLoader) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Вход по email и паролю Keycloak",
		Long: `Выполняет вход и согласует профиль техника.
Пароль читается из --password или первой строки stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("не указан --email")
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("чтение пароля: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			a, err := newApp(cmd, load)
			if err != nil {
				return err
			}
			defer a.close()

			before, err := a.start()
			if err != nil {
				return err
			}
			if err := a.engine.Login(a.ctx, email, password); err != nil {
				return errors.New(i18n.T(a.ctx, "cli.login.failed"))
			}

			st, err := a.engine.WaitSettled(a.ctx, before.Seq)
			if err != nil {
				return err
			}
			if st.Phase != reconcile.PhaseAuthenticated || st.User == nil {
				return errors.New(i18n.T(a.ctx, "cli.degraded"))
			}
			fmt.Fprintln(a.out, i18n.Tf(a.ctx, "cli.login.ok", st.User.Name, st.User.Role))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email техника")
	cmd.Flags().StringVar(&password, "password", "", "пароль (по умолчанию читается из stdin)")
	return cmd
}

func newLogoutCMD(load settingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Завершение сессии",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, load)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.start(); err != nil {
				return err
			}
			if err := a.engine.Logout(a.ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.out, i18n.T(a.ctx, "cli.logout.ok"))
			return nil
		},
	}
}

func newWhoamiCMD(load settingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Текущий профиль и его права",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, load)
			if err != nil {
				return err
			}
			defer a.close()

			u, err := a.requireUser()
			if err != nil {
				if errors.Is(err, errNotSignedIn) {
					fmt.Fprintln(a.out, i18n.T(a.ctx, "cli.anonymous"))
					return nil
				}
				return err
			}
			printProfile(a, u)
			return nil
		},
	}
}

func printProfile(a *app, u *model.User) {
	caps := policy.CapabilitiesOf(u.Role)
	fmt.Fprintf(a.out, "%s <%s>\n", u.Name, u.Email)
	fmt.Fprintf(a.out, "id:    %s\nrole:  %s\n", u.ID, u.Role)
	if u.SIREN != nil {
		fmt.Fprintf(a.out, "siren: %s\n", *u.SIREN)
	}
	fmt.Fprintf(a.out, "view_all_data=%t view_invoices=%t manage_users=%t\n",
		caps.ViewAllData, caps.ViewInvoices, caps.ManageUsers)
}
