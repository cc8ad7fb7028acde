package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/keycloak"
)

func TestRegistrationService_Register(t *testing.T) {
	idp := &fakeAccountCreator{}
	users := newFakeUserRepo()
	svc := NewRegistrationService(idp, users, testLogger())

	u, err := svc.Register(context.Background(), RegistrationInput{
		Name: " Rahim ", Email: "Rahim@DIU.test", Password: "secret1",
	})
	if err != nil {
		t.Fatalf("Register() ошибка: %v", err)
	}
	if u.Email != "rahim@diu.test" || u.Name != "Rahim" || u.Role != "user" {
		t.Errorf("Register() = %+v", u)
	}
	if len(idp.calls) != 1 || idp.calls[0] != "rahim@diu.test" {
		t.Errorf("вызовы IdP = %v", idp.calls)
	}
	if _, ok := users.users["rahim@diu.test"]; !ok {
		t.Error("пользователь не записан в реестр")
	}
}

// TestRegistrationService_BootstrapEmailGetsUser — анонимная регистрация
// адреса из TP_ADMIN_EMAILS не даёт роль admin.
func TestRegistrationService_BootstrapEmailGetsUser(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewRegistrationService(&fakeAccountCreator{}, users, testLogger())

	u, err := svc.Register(context.Background(), RegistrationInput{Email: "Head@DIU.test", Password: "attacker1"})
	if err != nil {
		t.Fatalf("Register() ошибка: %v", err)
	}
	if u.Role != "user" {
		t.Errorf("Role = %q, ожидается user", u.Role)
	}
	if got := users.users["head@diu.test"].Role; got != "user" {
		t.Errorf("роль в реестре = %q, ожидается user", got)
	}

	// Владелец адреса позже входит с подтверждённым email: роль уже записана,
	// bootstrap её не повышает, назначить admin может только администратор.
	owner := Caller{Email: "head@diu.test", Role: "user", EmailVerified: true}
	userSvc := newTestUserService(users, "head@diu.test")
	after, created, err := userSvc.Upsert(context.Background(), owner, model.UserProfile{Email: "head@diu.test"})
	if err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}
	if created || after.Role != "user" {
		t.Errorf("Upsert() = %+v, created=%v", after, created)
	}
}

func TestRegistrationService_KeepsExistingRole(t *testing.T) {
	users := newFakeUserRepo()
	users.users["karim@diu.test"] = model.User{Email: "karim@diu.test", Role: "admin"}
	svc := NewRegistrationService(&fakeAccountCreator{}, users, testLogger())

	u, err := svc.Register(context.Background(), RegistrationInput{Email: "karim@diu.test", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() ошибка: %v", err)
	}
	if u.Role != "admin" {
		t.Errorf("Role = %q, существующая роль admin затёрта", u.Role)
	}
}

func TestRegistrationService_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      RegistrationInput
		idpErr  error
		wantErr error
		wantIDP bool
	}{
		{"некорректный email", RegistrationInput{Email: "rahim", Password: "secret1"}, nil, ErrValidation, false},
		{"короткий пароль", RegistrationInput{Email: "rahim@diu.test", Password: "12345"}, nil, ErrValidation, false},
		{"уже существует", RegistrationInput{Email: "rahim@diu.test", Password: "secret1"}, keycloak.ErrUserExists, ErrAccountExists, true},
		{"политика паролей", RegistrationInput{Email: "rahim@diu.test", Password: "secret1"},
			fmt.Errorf("%w: weak", keycloak.ErrInvalidUser), ErrValidation, true},
		{"IdP недоступен", RegistrationInput{Email: "rahim@diu.test", Password: "secret1"},
			errors.New("dial tcp: connection refused"), ErrIDPUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := &fakeAccountCreator{err: tt.idpErr}
			users := newFakeUserRepo()
			svc := NewRegistrationService(idp, users, testLogger())

			_, err := svc.Register(context.Background(), tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ошибка = %v, ожидается %v", err, tt.wantErr)
			}
			if called := len(idp.calls) > 0; called != tt.wantIDP {
				t.Errorf("вызов IdP = %v, ожидается %v", called, tt.wantIDP)
			}
			if len(users.users) != 0 {
				t.Error("при ошибке реестр не должен меняться")
			}
		})
	}
}

// TestRegistrationService_RollsBackIdP — сбой реестра удаляет созданную учётную запись.
func TestRegistrationService_RollsBackIdP(t *testing.T) {
	idp := &fakeAccountCreator{}
	users := newFakeUserRepo()
	users.failUpsert = errors.New("connection reset")
	svc := NewRegistrationService(idp, users, testLogger())

	_, err := svc.Register(context.Background(), RegistrationInput{Name: "Rahim", Email: "rahim@diu.test", Password: "secret1"})
	if err == nil {
		t.Fatal("ожидалась ошибка записи в реестр")
	}
	if len(idp.deleted) != 1 || idp.deleted[0] != "kc-Rahim" {
		t.Errorf("удалённые учётные записи = %v, ожидается [kc-Rahim]", idp.deleted)
	}
}
