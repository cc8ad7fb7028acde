// schedules.go — расписания маршрутов.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/session"
)

func (a *App) schedulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"routes"},
		Short:   "Расписания маршрутов автобусов",
	}
	cmd.AddCommand(
		a.schedulesListCommand(),
		a.schedulesAddCommand(),
		a.schedulesEditCommand(),
		a.schedulesDeleteCommand(),
	)
	return cmd
}

func (a *App) schedulesListCommand() *cobra.Command {
	var f model.ScheduleFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Список маршрутов",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.Search = strings.TrimSpace(f.Search)
			f.RouteNo = strings.TrimSpace(f.RouteNo)
			return a.run(cmd, signedIn, func(ctx context.Context, e *env, _ session.Session) error {
				list, err := e.backend.ListSchedules(ctx, f)
				if err != nil {
					return fmt.Errorf("список расписаний: %w", err)
				}
				renderSchedules(a.out, filterSchedules(list, f))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Search, "search", "", "поиск по номеру, названию и остановкам")
	cmd.Flags().StringVar(&f.RouteNo, "route", "", "точный номер маршрута (например \"Route 2\")")
	return cmd
}

func filterSchedules(list []model.Schedule, f model.ScheduleFilter) []model.Schedule {
	out := make([]model.Schedule, 0, len(list))
	for _, s := range list {
		if s.Matches(f) {
			out = append(out, s)
		}
	}
	return out
}

// scheduleForm — маршрут из флагов или YAML-файла (формат как в seed).
type scheduleForm struct {
	file      string
	routeNo   string
	routeName string
	start     []string
	departure []string
	details   string
}

func (f *scheduleForm) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "YAML-файл маршрута")
	fl.StringVar(&f.routeNo, "route-no", "", "номер маршрута")
	fl.StringVar(&f.routeName, "route-name", "", "название маршрута")
	fl.StringSliceVar(&f.start, "start", nil, "время отправления из начальной точки")
	fl.StringSliceVar(&f.departure, "departure", nil, "время отправления из кампуса")
	fl.StringVar(&f.details, "details", "", "остановки")
}

func (f *scheduleForm) schedule() (model.Schedule, error) {
	var sc model.Schedule
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return sc, fmt.Errorf("чтение %s: %w", f.file, err)
		}
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return sc, fmt.Errorf("разбор %s: %w", f.file, err)
		}
	}
	if f.routeNo != "" {
		sc.RouteNo = f.routeNo
	}
	if f.routeName != "" {
		sc.RouteName = f.routeName
	}
	if len(f.start) > 0 {
		sc.StartTime = f.start
	}
	if len(f.departure) > 0 {
		sc.DepartureTime = f.departure
	}
	if f.details != "" {
		sc.Details = f.details
	}
	if strings.TrimSpace(sc.RouteNo) == "" || strings.TrimSpace(sc.RouteName) == "" {
		return sc, fmt.Errorf("нужны --route-no и --route-name (или --file)")
	}
	return sc.Clean(), nil
}

func (a *App) schedulesAddCommand() *cobra.Command {
	form := &scheduleForm{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Добавить маршрут (администратор)",
		Example: `  portalctl schedules add --route-no "Route 9" --route-name "Savar <> DSC" \
    --start "07:00 AM,10:00 AM" --departure "01:00 PM,04:20 PM"
  portalctl schedules add -f route9.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := form.schedule()
			if err != nil {
				return err
			}
			return a.run(cmd, allowedTo(rbac.ActionManageSchedules), func(ctx context.Context, e *env, _ session.Session) error {
				created, err := e.backend.CreateSchedule(ctx, sc)
				if err != nil {
					return fmt.Errorf("добавление маршрута: %w", err)
				}
				printSuccess(a.out, fmt.Sprintf("Маршрут добавлен: %s (%s)", created.RouteNo, created.ID))
				return nil
			})
		},
	}
	form.bind(cmd)
	return cmd
}

func (a *App) schedulesEditCommand() *cobra.Command {
	form := &scheduleForm{}
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Заменить маршрут (администратор)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, allowedTo(rbac.ActionManageSchedules), func(ctx context.Context, e *env, _ session.Session) error {
				// Поля, не заданные флагами, берутся из текущей версии.
				if form.file == "" {
					current, err := e.backend.GetSchedule(ctx, args[0])
					if err != nil {
						return fmt.Errorf("маршрут %s: %w", args[0], err)
					}
					if form.routeNo == "" {
						form.routeNo = current.RouteNo
					}
					if form.routeName == "" {
						form.routeName = current.RouteName
					}
					if len(form.start) == 0 {
						form.start = current.StartTime
					}
					if len(form.departure) == 0 {
						form.departure = current.DepartureTime
					}
					if form.details == "" {
						form.details = current.Details
					}
				}
				sc, err := form.schedule()
				if err != nil {
					return err
				}
				if err := e.backend.UpdateSchedule(ctx, args[0], sc); err != nil {
					return fmt.Errorf("изменение маршрута: %w", err)
				}
				printSuccess(a.out, "Маршрут обновлён: "+sc.RouteNo)
				return nil
			})
		},
	}
	form.bind(cmd)
	return cmd
}

func (a *App) schedulesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Удалить маршрут (администратор)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, allowedTo(rbac.ActionManageSchedules), func(ctx context.Context, e *env, _ session.Session) error {
				if err := e.backend.DeleteSchedule(ctx, args[0]); err != nil {
					return fmt.Errorf("удаление маршрута: %w", err)
				}
				printSuccess(a.out, "Маршрут удалён")
				return nil
			})
		},
	}
}
