// users.go — реестр пользователей: upsert, роль по email, список, смена роли.
package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// UpsertUser — POST /users.
func (h *APIHandler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var p model.UserProfile
	if !decodeJSON(w, r, &p) {
		return
	}

	_, created, err := h.users.Upsert(r.Context(), c, p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	msg := "Профиль обновлён"
	if created {
		msg = "Пользователь создан"
	}
	writeJSON(w, http.StatusOK, ok(msg))
}

// userResponse — {success, user}.
type userResponse struct {
	Success bool        `json:"success"`
	User    *model.User `json:"user"`
}

// GetUser — GET /users/{email}: запись и роль. Доступно владельцу и администратору.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	u, err := h.users.Get(r.Context(), c, pathEmail(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: u})
}

type usersResponse struct {
	Success bool          `json:"success"`
	Users   []*model.User `json:"users"`
}

// ListUsers — GET /users (администратор).
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	users, err := h.users.List(r.Context(), c)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Success: true, Users: nonNil(users)})
}

// SetUserRole — PATCH /users/{email}/role (администратор).
func (h *APIHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var body struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.users.SetRole(r.Context(), c, pathEmail(r), body.Role); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Роль обновлена"))
}

// pathEmail — email из пути; клиент может экранировать '@' как %40.
func pathEmail(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}
