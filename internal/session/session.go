// Пакет session — единый источник истины «кто вошёл и что ему можно».
// Resolver сводит поток изменений сессии IdP с авторитетной ролью из
// реестра пользователей бэкенда.
package session

import (
	"context"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/identity"
)

// RoleUnresolved — роль ещё не определена (сессия инициализируется
// или пользователь не вошёл).
const RoleUnresolved = ""

// Phase — фаза жизненного цикла сессии.
type Phase int

const (
	// PhaseInitializing — идёт определение роли для текущего identity.
	PhaseInitializing Phase = iota
	// PhaseReady — роль для текущего identity определена.
	PhaseReady
)

func (p Phase) String() string {
	if p == PhaseReady {
		return "ready"
	}
	return "initializing"
}

// Session — снимок состояния. Identity == nil — пользователь не вошёл.
type Session struct {
	Identity *identity.Identity
	Role     string
	Phase    Phase
	// Epoch — номер изменения identity, к которому относится снимок.
	Epoch uint64
}

// SignedIn — true, если есть identity.
func (s Session) SignedIn() bool {
	return s.Identity != nil
}

// Ready — true в фазе ready.
func (s Session) Ready() bool {
	return s.Phase == PhaseReady
}

// RoleRegistry — реестр пользователей бэкенда.
// Реализуется portalclient.Client.
type RoleRegistry interface {
	// UpsertUser записывает профиль. Профиль никогда не содержит роль.
	UpsertUser(ctx context.Context, p model.UserProfile) error
	// LookupRole возвращает роль по email.
	LookupRole(ctx context.Context, email string) (string, error)
}
