// render.go — вывод таблиц и строк результата (lipgloss).
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/session"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Width(10)

	statusStyles = map[string]lipgloss.Style{
		model.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		model.StatusApproved: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		model.StatusRejected: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
	priorityStyles = map[string]lipgloss.Style{
		model.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		model.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
)

// PrintError выводит ошибку команды.
func PrintError(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, errorStyle.Render("✗ "+err.Error()))
}

func printSuccess(w io.Writer, msg string) {
	_, _ = fmt.Fprintln(w, successStyle.Render("✓ "+msg))
}

func printEmpty(w io.Writer, what string) {
	_, _ = fmt.Fprintln(w, mutedStyle.Render(what))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderRequests(w io.Writer, list []model.TransportRequest) {
	if len(list) == 0 {
		printEmpty(w, "Заявок нет")
		return
	}
	t := newTable("ID", "Студент", "Имя", "Дата", "Время", "Куда", "Причина", "Статус")
	for _, r := range list {
		status := r.Status
		if st, ok := statusStyles[status]; ok {
			status = st.Render(status)
		}
		t.Row(r.ID, r.StudentID, r.Name, r.Date, r.Time, r.Destination, truncate(r.Reason, 40), status)
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

func renderNotices(w io.Writer, list []model.Notice) {
	if len(list) == 0 {
		printEmpty(w, "Объявлений нет")
		return
	}
	t := newTable("Дата", "Время", "Категория", "Приоритет", "Заголовок", "Текст", "Автор")
	for _, n := range list {
		priority := n.Priority
		if st, ok := priorityStyles[priority]; ok {
			priority = st.Render(priority)
		}
		t.Row(n.Date, n.Time, n.Category, priority, n.Title, truncate(n.Content, 50), n.Author)
	}
	_, _ = fmt.Fprintln(w, t.Render())

	counts := model.PriorityCounts(list)
	_, _ = fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("high: %d  medium: %d  normal: %d",
		counts[model.PriorityHigh], counts[model.PriorityMedium], counts[model.PriorityNormal])))
}

func renderSchedules(w io.Writer, list []model.Schedule) {
	if len(list) == 0 {
		printEmpty(w, "Маршрутов не найдено")
		return
	}
	t := newTable("ID", "Маршрут", "Название", "Отправление", "Обратно", "Остановки")
	for _, s := range list {
		t.Row(s.ID, s.RouteNo, s.RouteName,
			strings.Join(s.StartTime, ", "),
			strings.Join(s.DepartureTime, ", "),
			truncate(s.Details, 60))
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

func renderUsers(w io.Writer, list []model.User) {
	if len(list) == 0 {
		printEmpty(w, "Реестр пуст")
		return
	}
	t := newTable("Email", "Имя", "Роль", "Обновлён")
	for _, u := range list {
		t.Row(u.Email, u.Name, u.Role, u.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

func renderSession(w io.Writer, s session.Session) {
	if !s.SignedIn() {
		printEmpty(w, "Вход не выполнен")
		return
	}
	role := s.Role
	if role == session.RoleUnresolved {
		role = "(определяется)"
	}
	rows := [][2]string{
		{"Email", s.Identity.Email},
		{"Имя", s.Identity.DisplayName},
		{"Роль", role},
		{"Сессия", s.Phase.String()},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintln(w, keyStyle.Render(r[0])+r[1])
	}
}

// sessionLine — однострочный снимок для watch.
func sessionLine(s session.Session) string {
	who := "—"
	if s.SignedIn() {
		who = s.Identity.Email
	}
	role := s.Role
	if role == session.RoleUnresolved {
		role = "—"
	}
	return fmt.Sprintf("#%d %s %s %s", s.Epoch, s.Phase, who, role)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
