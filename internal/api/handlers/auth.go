// auth.go — публичная регистрация учётной записи.
package handlers

import (
	"net/http"

	"github.com/Pullock4981/diu-transport-client/internal/service"
)

// Register — POST /auth/register: учётная запись в Keycloak + запись реестра.
func (h *APIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegistrationInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if _, err := h.registration.Register(r.Context(), in); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ok("Учётная запись создана"))
}

// currentUser — вызывающий с ролью из реестра.
type currentUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// CurrentUser — GET /auth/me: email/имя из токена и роль из реестра.
func (h *APIHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		User    currentUser `json:"user"`
	}{
		Success: true,
		User:    currentUser{Email: c.Email, Name: c.Name, Role: c.Role},
	})
}
