// notices.go — доска объявлений.
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

func (a *App) noticesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notices",
		Short: "Объявления транспортного отдела",
	}
	cmd.AddCommand(a.noticesListCommand(), a.noticesAddCommand())
	return cmd
}

func (a *App) noticesListCommand() *cobra.Command {
	var f model.NoticeFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Список объявлений",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.Search = strings.TrimSpace(f.Search)
			f.Category = strings.ToLower(strings.TrimSpace(f.Category))
			return a.run(cmd, signedIn, func(ctx context.Context, e *env, _ session.Session) error {
				list, err := e.backend.ListNotices(ctx, f)
				if err != nil {
					return fmt.Errorf("список объявлений: %w", err)
				}
				renderNotices(a.out, filterNotices(list, f))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Search, "search", "", "поиск по заголовку и тексту")
	cmd.Flags().StringVar(&f.Category, "category", "", "категория ("+strings.Join(model.NoticeCategories, ", ")+", all)")
	return cmd
}

// filterNotices повторяет фильтр сервера на клиенте.
func filterNotices(list []model.Notice, f model.NoticeFilter) []model.Notice {
	out := make([]model.Notice, 0, len(list))
	for _, n := range list {
		if n.Matches(f) {
			out = append(out, n)
		}
	}
	return out
}

func (a *App) noticesAddCommand() *cobra.Command {
	var in model.NoticeInput
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Опубликовать объявление (администратор)",
		Example: `  portalctl notices add --title "Holiday" --content "No buses on Friday" --category holiday --priority high`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, allowedTo(rbac.ActionManageNotices), func(ctx context.Context, e *env, _ session.Session) error {
				n, err := e.backend.CreateNotice(ctx, in)
				if err != nil {
					return fmt.Errorf("публикация объявления: %w", err)
				}
				printSuccess(a.out, fmt.Sprintf("Объявление опубликовано: %s (%s %s)", n.ID, n.Date, n.Time))
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&in.Title, "title", "", "заголовок")
	fl.StringVar(&in.Content, "content", "", "текст")
	fl.StringVar(&in.Category, "category", "general", "категория")
	fl.StringVar(&in.Priority, "priority", model.PriorityNormal, "приоритет: normal, medium, high")
	fl.StringVar(&in.Author, "author", "", "автор (по умолчанию — вы)")
	fl.StringVar(&in.Date, "date", "", "дата (по умолчанию — сегодня)")
	fl.StringVar(&in.Time, "time", "", "время (по умолчанию — сейчас)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}
