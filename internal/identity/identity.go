// Пакет identity — абстракция внешнего Identity Provider: регистрация,
// вход по паролю, федеративный вход, выход и поток изменений сессии.
package identity

import (
	"context"
	"errors"
)

// Identity — принципал, выданный IdP. Значение неизменяемо.
type Identity struct {
	// ID — subject (sub) в IdP
	ID          string
	DisplayName string
	Email       string
	PhotoURL    string
}

// Provider — Identity Provider.
// Каждое изменение сессии (вход, выход, обновление токена) доставляется
// подписчикам Subscribe; nil означает отсутствие сессии.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignInFederated(ctx context.Context) (*Identity, error)
	SignOut(ctx context.Context) error
	Subscribe(fn func(*Identity)) (unsubscribe func())
}

var (
	// ErrInvalidCredentials — IdP отклонил данные регистрации.
	ErrInvalidCredentials = errors.New("некорректные данные учётной записи")
	// ErrAccountExists — учётная запись с таким email уже существует.
	ErrAccountExists = errors.New("учётная запись уже существует")
	// ErrAuthentication — неверный email или пароль.
	ErrAuthentication = errors.New("ошибка аутентификации")
	// ErrProviderCancelled — пользователь отменил федеративный вход.
	ErrProviderCancelled = errors.New("вход через внешний провайдер отменён")
)
