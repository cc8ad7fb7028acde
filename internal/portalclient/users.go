// users.go — реестр пользователей и учётные записи.
package portalclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/identity"
)

// Me — вызывающий с ролью из реестра (GET /auth/me).
type Me struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// UpsertUser записывает профиль в реестр. Роль не отправляется никогда:
// существующая запись сохраняет свою роль.
func (c *Client) UpsertUser(ctx context.Context, p model.UserProfile) error {
	p.Role = nil
	_, err := c.mutate(ctx, http.MethodPost, "/users", p)
	return err
}

// LookupRole возвращает роль из реестра по email. Роль возвращается
// только при success=true и наличии записи.
func (c *Client) LookupRole(ctx context.Context, email string) (string, error) {
	var resp struct {
		Success bool        `json:"success"`
		User    *model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(email), nil, &resp, true); err != nil {
		return "", err
	}
	if !resp.Success || resp.User == nil {
		return "", ErrNotSuccess
	}
	return resp.User.Role, nil
}

// Register создаёт учётную запись (POST /auth/register, без авторизации).
// 409 — identity.ErrAccountExists, 400 — identity.ErrInvalidCredentials.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	body := map[string]string{"name": name, "email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/auth/register", body, nil, false)
	switch {
	case err == nil:
		return nil
	case IsStatus(err, http.StatusConflict):
		return fmt.Errorf("%w: %v", identity.ErrAccountExists, err)
	case IsStatus(err, http.StatusBadRequest):
		return fmt.Errorf("%w: %v", identity.ErrInvalidCredentials, err)
	}
	return err
}

// Me возвращает текущего пользователя.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	var resp struct {
		Success bool `json:"success"`
		User    *Me  `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &resp, true); err != nil {
		return nil, err
	}
	if !resp.Success || resp.User == nil {
		return nil, ErrNotSuccess
	}
	return resp.User, nil
}

// ListUsers возвращает реестр (администратор).
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var resp struct {
		Success bool         `json:"success"`
		Users   []model.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/users", nil, &resp, true); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, ErrNotSuccess
	}
	return resp.Users, nil
}

// SetUserRole назначает роль (администратор).
func (c *Client) SetUserRole(ctx context.Context, email, role string) error {
	_, err := c.mutate(ctx, http.MethodPatch, "/users/"+url.PathEscape(email)+"/role",
		map[string]string{"role": role})
	return err
}
