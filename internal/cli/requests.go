// requests.go — заявки на аренду автобуса.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/session"
)

// requestForm — поля формы заявки. После успешной отправки сбрасывается.
type requestForm struct {
	StudentID   string
	Name        string
	Reason      string
	Date        string
	Time        string
	Destination string
}

func (f *requestForm) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.StudentID, "student-id", "", "ID студента")
	fl.StringVar(&f.Name, "name", "", "имя")
	fl.StringVar(&f.Reason, "reason", "", "причина поездки")
	fl.StringVar(&f.Date, "date", "", "дата поездки (YYYY-MM-DD)")
	fl.StringVar(&f.Time, "time", "", "время отправления (HH:MM)")
	fl.StringVar(&f.Destination, "destination", "", "пункт назначения")
}

func (f *requestForm) input() model.TransportRequestInput {
	return model.TransportRequestInput{
		StudentID:   strings.TrimSpace(f.StudentID),
		Name:        strings.TrimSpace(f.Name),
		Reason:      strings.TrimSpace(f.Reason),
		Date:        strings.TrimSpace(f.Date),
		Time:        strings.TrimSpace(f.Time),
		Destination: strings.TrimSpace(f.Destination),
	}
}

// missing возвращает имена незаполненных флагов.
func (f *requestForm) missing() []string {
	in := f.input()
	var out []string
	for _, fld := range []struct{ flag, value string }{
		{"--student-id", in.StudentID},
		{"--name", in.Name},
		{"--reason", in.Reason},
		{"--date", in.Date},
		{"--time", in.Time},
		{"--destination", in.Destination},
	} {
		if fld.value == "" {
			out = append(out, fld.flag)
		}
	}
	return out
}

func (f *requestForm) reset() {
	*f = requestForm{}
}

// submit отправляет заявку; при успехе форма сбрасывается.
func (f *requestForm) submit(ctx context.Context, b Backend) (string, error) {
	if missing := f.missing(); len(missing) > 0 {
		return "", fmt.Errorf("не заполнены поля: %s", strings.Join(missing, ", "))
	}
	id, err := b.SubmitRequest(ctx, f.input())
	if err != nil {
		return "", err
	}
	f.reset()
	return id, nil
}

func (a *App) requestsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "requests",
		Aliases: []string{"req"},
		Short:   "Заявки на аренду автобуса",
	}
	cmd.AddCommand(
		a.requestsSubmitCommand(),
		a.requestsListCommand(),
		a.requestsStatusCommand("approve", "Одобрить заявку", model.StatusApproved),
		a.requestsStatusCommand("reject", "Отклонить заявку", model.StatusRejected),
		a.requestsEditCommand(),
		a.requestsDeleteCommand(),
	)
	return cmd
}

func (a *App) requestsSubmitCommand() *cobra.Command {
	form := &requestForm{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Подать заявку на автобус",
		Example: `  portalctl requests submit --student-id 221-15-1234 --name "Rahim" \
    --reason "Study tour" --date 2026-11-02 --time 08:30 --destination Savar`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, allowedTo(rbac.ActionSubmitRequest), func(ctx context.Context, e *env, _ session.Session) error {
				id, err := form.submit(ctx, e.backend)
				if err != nil {
					return fmt.Errorf("заявка не отправлена: %w", err)
				}
				printSuccess(a.out, "Заявка отправлена: "+id)
				return nil
			})
		},
	}
	form.bind(cmd)
	return cmd
}

func (a *App) requestsListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Заявки (администратор видит все, остальные — свои)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, signedIn, func(ctx context.Context, e *env, _ session.Session) error {
				list, err := e.backend.ListRequests(ctx)
				if err != nil {
					return fmt.Errorf("список заявок: %w", err)
				}
				if status != "" {
					filtered := list[:0]
					for _, r := range list {
						if strings.EqualFold(r.Status, status) {
							filtered = append(filtered, r)
						}
					}
					list = filtered
				}
				renderRequests(a.out, list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "фильтр по статусу: Pending, Approved, Rejected")
	return cmd
}

func (a *App) requestsStatusCommand(use, short, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short + " (администратор)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, allowedTo(rbac.ActionReviewRequests), func(ctx context.Context, e *env, _ session.Session) error {
				msg, err := e.backend.SetRequestStatus(ctx, args[0], status)
				if err != nil {
					return fmt.Errorf("смена статуса: %w", err)
				}
				printSuccess(a.out, msg)
				return nil
			})
		},
	}
}

func (a *App) requestsEditCommand() *cobra.Command {
	form := &requestForm{}
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Изменить поля заявки (администратор)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := changedFields(cmd, form)
			if upd.Empty() {
				return fmt.Errorf("не указано ни одного поля для изменения")
			}
			return a.run(cmd, allowedTo(rbac.ActionReviewRequests), func(ctx context.Context, e *env, _ session.Session) error {
				msg, err := e.backend.UpdateRequest(ctx, args[0], upd)
				if err != nil {
					return fmt.Errorf("изменение заявки: %w", err)
				}
				printSuccess(a.out, msg)
				return nil
			})
		},
	}
	form.bind(cmd)
	return cmd
}

// changedFields собирает частичное обновление из явно заданных флагов.
func changedFields(cmd *cobra.Command, f *requestForm) model.TransportRequestUpdate {
	var upd model.TransportRequestUpdate
	in := f.input()
	set := func(flag string, value string, dst **string) {
		if cmd.Flags().Changed(flag) {
			v := value
			*dst = &v
		}
	}
	set("student-id", in.StudentID, &upd.StudentID)
	set("name", in.Name, &upd.Name)
	set("reason", in.Reason, &upd.Reason)
	set("date", in.Date, &upd.Date)
	set("time", in.Time, &upd.Time)
	set("destination", in.Destination, &upd.Destination)
	return upd
}

func (a *App) requestsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Удалить заявку (администратор)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, allowedTo(rbac.ActionReviewRequests), func(ctx context.Context, e *env, _ session.Session) error {
				if err := e.backend.DeleteRequest(ctx, args[0]); err != nil {
					return fmt.Errorf("удаление заявки: %w", err)
				}
				printSuccess(a.out, "Заявка удалена")
				return nil
			})
		},
	}
}
