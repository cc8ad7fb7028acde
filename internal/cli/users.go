// users.go — реестр пользователей (администратор).
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/session"
)

func (a *App) usersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Реестр пользователей (администратор)",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Список пользователей и ролей",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.run(cmd, allowedTo(rbac.ActionListUsers), func(ctx context.Context, e *env, _ session.Session) error {
					users, err := e.backend.ListUsers(ctx)
					if err != nil {
						return fmt.Errorf("список пользователей: %w", err)
					}
					renderUsers(a.out, users)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set-role <email> <user|admin>",
			Short: "Назначить роль",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !rbac.IsValidRole(args[1]) {
					return fmt.Errorf("недопустимая роль %q: user, admin", args[1])
				}
				return a.run(cmd, allowedTo(rbac.ActionAssignRole), func(ctx context.Context, e *env, _ session.Session) error {
					if err := e.backend.SetUserRole(ctx, args[0], args[1]); err != nil {
						return fmt.Errorf("смена роли: %w", err)
					}
					printSuccess(a.out, fmt.Sprintf("Роль %s назначена: %s", args[1], args[0]))
					return nil
				})
			},
		},
	)
	return cmd
}
