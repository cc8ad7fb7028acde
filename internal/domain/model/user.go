// Пакет model — доменные модели транспортного портала.
package model

import "time"

// User — запись реестра пользователей. Ключ — email в нижнем регистре.
type User struct {
	// Email — адрес электронной почты (первичный ключ)
	Email string `json:"email"`
	// Name — отображаемое имя из IdP
	Name string `json:"name"`
	// PhotoURL — ссылка на аватар из IdP
	PhotoURL string `json:"photoURL"`
	// Role — авторитетная роль (user, admin)
	Role string `json:"role"`
	// CreatedAt — время первой записи
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt — время последнего upsert
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserProfile — данные, которые клиент присылает при upsert.
// Role задаётся только администратором; обычный upsert её не содержит.
type UserProfile struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	PhotoURL string  `json:"photoURL"`
	Role     *string `json:"role,omitempty"`
}
