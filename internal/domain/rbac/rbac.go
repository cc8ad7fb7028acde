// Пакет rbac — роли портала и проверка прав.
// Авторитетная роль хранится в бэкенде (таблица users). Любое
// нераспознанное значение трактуется как user: повысить роль до admin
// может только явная запись admin в реестре.
package rbac

import "strings"

// Роли в порядке возрастания привилегий.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// Action — действие, требующее проверки роли.
type Action string

const (
	// Подача заявки на автобус и просмотр своих заявок
	ActionSubmitRequest Action = "request:submit"
	// Одобрение, отклонение, редактирование и удаление заявок
	ActionReviewRequests Action = "request:review"
	// Публикация объявлений
	ActionManageNotices Action = "notice:manage"
	// Изменение расписаний
	ActionManageSchedules Action = "schedule:manage"
	// Просмотр реестра пользователей
	ActionListUsers Action = "user:list"
	// Назначение ролей
	ActionAssignRole Action = "user:assign-role"
)

// minRole — минимальная роль для действия.
var minRole = map[Action]string{
	ActionSubmitRequest:   RoleUser,
	ActionReviewRequests:  RoleAdmin,
	ActionManageNotices:   RoleAdmin,
	ActionManageSchedules: RoleAdmin,
	ActionListUsers:       RoleAdmin,
	ActionAssignRole:      RoleAdmin,
}

// Normalize приводит роль к одному из двух значений.
// Пустая или неизвестная роль даёт RoleUser.
func Normalize(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	if IsValidRole(r) {
		return r
	}
	return RoleUser
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// IsAdmin — true только для явной роли admin.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

// Allowed проверяет, разрешено ли действие для роли.
// Неизвестное действие запрещено.
func Allowed(role string, action Action) bool {
	need, ok := minRole[action]
	if !ok {
		return false
	}
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[need]
}

// InitialRole — роль, назначаемая при первой записи пользователя.
// Адреса из bootstrapAdmins (регистр не важен) получают admin.
func InitialRole(email string, bootstrapAdmins []string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	for _, a := range bootstrapAdmins {
		if strings.EqualFold(a, e) {
			return RoleAdmin
		}
	}
	return RoleUser
}
