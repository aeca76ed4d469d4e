package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/irt/internal/apiclient"
	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/i18n"
)

func newProfilesCMD(load settingsLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Управление профилями техников (admin)",
	}
	cmd.AddCommand(newProfilesListCMD(load), newProfilesAddCMD(load), newProfilesDeleteCMD(load))
	return cmd
}

// withManager — withUser с проверкой права manageUsers до обращения к API.
func withManager(load settingsLoader, run func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return withUser(load, func(a *app, u *model.User, cmd *cobra.Command, args []string) error {
		if !policy.CapabilitiesOf(u.Role).ManageUsers {
			return errors.New(i18n.T(a.ctx, "cli.forbidden"))
		}
		return run(a, cmd, args)
	})
}

func newProfilesListCMD(load settingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Список профилей",
		RunE: withManager(load, func(a *app, _ *cobra.Command, _ []string) error {
			users, err := a.api.ListProfiles(a.ctx)
			if err != nil {
				return err
			}
			printProfiles(a, users)
			return nil
		}),
	}
}

func printProfiles(a *app, users []*model.User) {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tSIREN")
	for _, u := range users {
		siren := "-"
		if u.SIREN != nil {
			siren = *u.SIREN
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, u.Role, siren)
	}
	_ = w.Flush()
}

func newProfilesAddCMD(load settingsLoader) *cobra.Command {
	var (
		in   apiclient.NewTechnician
		role string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Создать техника (учётная запись Keycloak и профиль)",
		RunE: withManager(load, func(a *app, _ *cobra.Command, _ []string) error {
			if role != "" {
				r, err := model.ParseRole(role)
				if err != nil {
					return fmt.Errorf("--role: %w", err)
				}
				in.Role = r
			}
			if in.Role == model.RoleAutoEntrepreneur {
				if err := policy.ValidateSIREN(in.SIREN); err != nil {
					return fmt.Errorf("--siren: %w", err)
				}
			}
			u, err := a.api.CreateTechnician(a.ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s\t%s\t%s\n", u.ID, u.Email, u.Role)
			return nil
		}),
	}
	flags := cmd.Flags()
	flags.StringVarP(&in.Email, "email", "e", "", "email техника")
	flags.StringVar(&in.Name, "name", "", "имя")
	flags.StringVar(&in.Password, "password", "", "начальный пароль")
	flags.StringVar(&role, "role", string(model.RoleEmployee), "employee | auto-entrepreneur | admin")
	flags.StringVar(&in.SIREN, "siren", "", "SIREN (для auto-entrepreneur)")
	flags.StringVar(&in.Address, "address", "", "адрес")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newProfilesDeleteCMD(load settingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Удалить профиль",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(load, func(a *app, _ *cobra.Command, args []string) error {
			orphaned, err := a.api.DeleteProfile(a.ctx, args[0])
			if err != nil {
				return err
			}
			if orphaned {
				a.logger.Warn("Учётная запись Keycloak осталась без профиля", slog.String("user_id", args[0]))
			}
			fmt.Fprintln(a.out, args[0])
			return nil
		}),
	}
}
