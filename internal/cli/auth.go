// auth.go — вход, регистрация, выход, текущая сессия.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Pullock4981/diu-transport-client/internal/session"
)

func (a *App) loginCommand() *cobra.Command {
	var (
		email    string
		password string
		google   bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Вход по email и паролю или через Google",
		Example: `  portalctl login --email rahim@diu.edu.bd
  portalctl login --google`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !google && email == "" {
				return errors.New("укажите --email или --google")
			}
			if !google && password == "" {
				var err error
				if password, err = promptPassword(cmd); err != nil {
					return err
				}
			}
			return a.run(cmd, anyone, func(ctx context.Context, e *env, _ session.Session) error {
				var err error
				if google {
					_, err = e.resolver.SignInFederated(ctx)
				} else {
					_, err = e.resolver.SignIn(ctx, email, password)
				}
				if err != nil {
					return fmt.Errorf("вход не выполнен: %w", err)
				}
				return a.reportSignedIn(ctx, e, "Вход выполнен")
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email учётной записи")
	cmd.Flags().StringVar(&password, "password", "", "пароль (без флага запрашивается из stdin)")
	cmd.Flags().BoolVar(&google, "google", false, "вход через Google (браузер)")
	cmd.MarkFlagsMutuallyExclusive("email", "google")
	return cmd
}

func (a *App) registerCommand() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Регистрация учётной записи и вход",
		Example: `  portalctl register --name "Rahim Uddin" --email rahim@diu.edu.bd`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				var err error
				if password, err = promptPassword(cmd); err != nil {
					return err
				}
			}
			a.signUpName = strings.TrimSpace(name)
			return a.run(cmd, anyone, func(ctx context.Context, e *env, _ session.Session) error {
				if _, err := e.resolver.SignUp(ctx, email, password); err != nil {
					return fmt.Errorf("регистрация не выполнена: %w", err)
				}
				return a.reportSignedIn(ctx, e, "Учётная запись создана")
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "отображаемое имя")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "пароль (без флага запрашивается из stdin)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// reportSignedIn дожидается роли нового identity и печатает итог.
func (a *App) reportSignedIn(ctx context.Context, e *env, prefix string) error {
	s, err := e.ready(ctx)
	if err != nil {
		return err
	}
	if !s.SignedIn() {
		return errNotSignedIn
	}
	printSuccess(a.out, fmt.Sprintf("%s: %s (%s)", prefix, s.Identity.Email, s.Role))
	return nil
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Выход и удаление сохранённой сессии",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, anyone, func(ctx context.Context, e *env, s session.Session) error {
				e.resolver.SignOut(ctx)
				if !s.SignedIn() {
					printEmpty(a.out, "Вход не был выполнен")
					return nil
				}
				printSuccess(a.out, "Выход выполнен: "+s.Identity.Email)
				return nil
			})
		},
	}
}

func (a *App) whoamiCommand() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Текущий пользователь и роль",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, anyone, func(ctx context.Context, e *env, s session.Session) error {
				renderSession(a.out, s)
				if !remote || !s.SignedIn() {
					return nil
				}
				me, err := e.backend.Me(ctx)
				if err != nil {
					return fmt.Errorf("запрос /auth/me: %w", err)
				}
				_, _ = fmt.Fprintln(a.out, keyStyle.Render("Сервер")+me.Email+" ("+me.Role+")")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "дополнительно показать роль, которую видит Portal API")
	return cmd
}

// watchCommand печатает каждый снимок сессии до прерывания.
func (a *App) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Следить за изменениями сессии (обновление токенов, выход)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, anyone, func(ctx context.Context, e *env, _ session.Session) error {
				snapshots, stop := e.resolver.Observe()
				defer stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case s, ok := <-snapshots:
						if !ok {
							return nil
						}
						_, _ = fmt.Fprintln(a.out, sessionLine(s))
					}
				}
			})
		},
	}
}

// promptPassword читает пароль одной строкой из stdin команды.
func promptPassword(cmd *cobra.Command) (string, error) {
	_, _ = fmt.Fprint(cmd.OutOrStdout(), "Пароль: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("чтение пароля: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("пароль не задан")
	}
	return password, nil
}
