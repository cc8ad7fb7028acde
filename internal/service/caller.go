package service

import (
	"fmt"
	"strings"

	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
)

// Caller — аутентифицированный пользователь, от имени которого
// выполняется операция. Role — роль из реестра, не из токена.
// EmailVerified — claim email_verified, подтверждённый Keycloak.
type Caller struct {
	Email         string
	Name          string
	Role          string
	EmailVerified bool
}

// IsAdmin — true для роли admin.
func (c Caller) IsAdmin() bool {
	return rbac.IsAdmin(c.Role)
}

// Owns — true, если email принадлежит вызывающему.
func (c Caller) Owns(email string) bool {
	return c.Email != "" && strings.EqualFold(c.Email, strings.TrimSpace(email))
}

// require возвращает ErrForbidden, если действие не разрешено роли.
func (c Caller) require(action rbac.Action) error {
	if !rbac.Allowed(c.Role, action) {
		return fmt.Errorf("%w: %s требует иной роли (текущая %q)", ErrForbidden, action, c.Role)
	}
	return nil
}
