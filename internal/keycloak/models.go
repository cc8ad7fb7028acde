// Пакет keycloak — клиент Keycloak Admin REST API для регистрации
// учётных записей и проверки готовности realm.
package keycloak

import "time"

// KeycloakUser — UserRepresentation (только нужные поля).
type KeycloakUser struct { //nolint:revive // имя повторяет внешний API
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	Enabled       bool   `json:"enabled"`
	EmailVerified bool   `json:"emailVerified"`
	// миллисекунды Unix
	CreatedAt int64 `json:"createdTimestamp"`
}

// CreatedAtTime — момент создания учётной записи.
func (u *KeycloakUser) CreatedAtTime() time.Time {
	return time.UnixMilli(u.CreatedAt)
}

// RealmRepresentation — краткая информация о realm.
type RealmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

type userCreateRequest struct {
	Username      string                     `json:"username"`
	Email         string                     `json:"email"`
	FirstName     string                     `json:"firstName,omitempty"`
	Enabled       bool                       `json:"enabled"`
	EmailVerified bool                       `json:"emailVerified"`
	Credentials   []credentialRepresentation `json:"credentials,omitempty"`
	Attributes    map[string][]string        `json:"attributes,omitempty"`
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"` //nolint:gosec // пароль уходит только в Keycloak
	Temporary bool   `json:"temporary"`
}
