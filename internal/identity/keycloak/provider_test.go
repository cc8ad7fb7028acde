package keycloak

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Pullock4981/diu-transport-client/internal/identity"
)

const (
	testKeyID    = "test-key-cli"
	testClientID = "portalctl"
	testPassword = "correct-pass"
	testCode     = "auth-code-1"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockKeycloak — token и logout endpoints realm diu.
type mockKeycloak struct {
	server *httptest.Server
	issuer string
	key    *rsa.PrivateKey
	// signKey — ключ подписи id_token (по умолчанию key)
	signKey *rsa.PrivateKey

	mu            sync.Mutex
	rejectRefresh bool
	grants        []string
	logouts       []string
	lastVerifier  string
}

func newMockKeycloak(t *testing.T) *mockKeycloak {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	m := &mockKeycloak{key: key, signKey: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/diu/protocol/openid-connect/token", m.handleToken)
	mux.HandleFunc("/realms/diu/protocol/openid-connect/logout", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		m.mu.Lock()
		m.logouts = append(m.logouts, r.Form.Get("refresh_token"))
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	m.issuer = m.server.URL + "/realms/diu"
	return m
}

func (m *mockKeycloak) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Form.Get("client_id") != testClientID {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	grant := r.Form.Get("grant_type")
	m.mu.Lock()
	m.grants = append(m.grants, grant)
	rejectRefresh := m.rejectRefresh
	m.mu.Unlock()

	var email string
	switch grant {
	case "password":
		if r.Form.Get("password") != testPassword {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
		email = strings.ToLower(r.Form.Get("username"))
	case "refresh_token":
		if rejectRefresh {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Session not active")
			return
		}
		email = strings.TrimPrefix(r.Form.Get("refresh_token"), "rt-")
	case "authorization_code":
		m.mu.Lock()
		m.lastVerifier = r.Form.Get("code_verifier")
		m.mu.Unlock()
		if r.Form.Get("code") != testCode || r.Form.Get("code_verifier") == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
			return
		}
		email = "fed@diu.test"
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", grant)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "at-" + email,
		"refresh_token": "rt-" + email,
		"id_token":      m.idToken(email),
		"token_type":    "Bearer",
		"expires_in":    300,
	})
}

func (m *mockKeycloak) idToken(email string) string {
	claims := jwt.MapClaims{
		"iss":     m.issuer,
		"aud":     testClientID,
		"sub":     "kc-" + email,
		"email":   email,
		"name":    "Test " + strings.Split(email, "@")[0],
		"picture": "https://photos.test/" + email,
		"exp":     jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		"iat":     jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, _ := token.SignedString(m.signKey)
	return s
}

func (m *mockKeycloak) grantLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.grants...)
}

func (m *mockKeycloak) logoutLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.logouts...)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": description})
}

func jwksJSON(pub *rsa.PublicKey) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	return data
}

// fakeRegistrar — регистрация учётных записей.
type fakeRegistrar struct {
	err        error
	registered []string
}

func (f *fakeRegistrar) Register(_ context.Context, _, email, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.registered = append(f.registered, email)
	return nil
}

type providerOpts struct {
	store     *Store
	registrar Registrar
	openURL   func(string) error
}

func newTestProvider(t *testing.T, m *mockKeycloak, opts providerOpts) *Provider {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON(&m.key.PublicKey))
	if err != nil {
		t.Fatalf("keyfunc: %v", err)
	}
	p, err := New(Config{
		IssuerURL:  m.issuer,
		ClientID:   testClientID,
		IDPHint:    "google",
		HTTPClient: m.server.Client(),
		Keyfunc:    kf,
		OpenURL:    opts.openURL,
	}, opts.registrar, opts.store, testLogger())
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "credentials"), "test-key")
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// pushLog — журнал уведомлений подписчика ("" — сессии нет).
type pushLog struct {
	mu  sync.Mutex
	got []string
}

func recordPushes(p *Provider) *pushLog {
	l := &pushLog{}
	p.Subscribe(func(id *identity.Identity) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if id == nil {
			l.got = append(l.got, "")
			return
		}
		l.got = append(l.got, id.Email)
	})
	return l
}

func (l *pushLog) emails() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{ClientID: testClientID}, nil, nil, testLogger()); err == nil {
		t.Error("ожидалась ошибка без issuer")
	}
	if _, err := New(Config{IssuerURL: "https://kc.test/realms/diu"}, nil, nil, testLogger()); err == nil {
		t.Error("ожидалась ошибка без client_id")
	}
}

func TestProvider_SignIn(t *testing.T) {
	m := newMockKeycloak(t)
	store := newTestStore(t)
	p := newTestProvider(t, m, providerOpts{store: store})
	pushes := recordPushes(p)

	id, err := p.SignIn(context.Background(), "Rahim@DIU.test", testPassword)
	if err != nil {
		t.Fatalf("SignIn() ошибка: %v", err)
	}
	if id.Email != "rahim@diu.test" || id.ID != "kc-rahim@diu.test" {
		t.Errorf("identity = %+v", id)
	}
	if id.DisplayName != "Test rahim" || id.PhotoURL != "https://photos.test/rahim@diu.test" {
		t.Errorf("профиль = %q / %q", id.DisplayName, id.PhotoURL)
	}
	if got := pushes.emails(); !equalStrings(got, []string{"rahim@diu.test"}) {
		t.Errorf("уведомления = %v", got)
	}
	if cur := p.Current(); cur == nil || cur.Email != "rahim@diu.test" {
		t.Errorf("Current() = %+v", cur)
	}

	creds, err := store.Load()
	if err != nil || creds == nil {
		t.Fatalf("Load() = %v, %v", creds, err)
	}
	if creds.RefreshToken != "rt-rahim@diu.test" || creds.IDToken == "" {
		t.Errorf("сохранено = %+v", creds)
	}

	tok, err := p.Token()
	if err != nil {
		t.Fatalf("Token() ошибка: %v", err)
	}
	if tok.AccessToken != "at-rahim@diu.test" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
}

func TestProvider_SignIn_Rejected(t *testing.T) {
	m := newMockKeycloak(t)
	store := newTestStore(t)
	p := newTestProvider(t, m, providerOpts{store: store})
	pushes := recordPushes(p)

	_, err := p.SignIn(context.Background(), "rahim@diu.test", "wrong")
	if !errors.Is(err, identity.ErrAuthentication) {
		t.Fatalf("ошибка = %v, ожидается ErrAuthentication", err)
	}
	if !strings.Contains(err.Error(), "Invalid user credentials") {
		t.Errorf("ошибка без описания Keycloak: %v", err)
	}
	if got := pushes.emails(); len(got) != 0 {
		t.Errorf("уведомления = %v, ожидается пусто", got)
	}
	if creds, _ := store.Load(); creds != nil {
		t.Errorf("сохранено %+v при неудачном входе", creds)
	}
	if _, err := p.Token(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Token() ошибка = %v, ожидается ErrNoSession", err)
	}
}

func TestProvider_SignIn_InvalidIDToken(t *testing.T) {
	m := newMockKeycloak(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	m.signKey = other
	p := newTestProvider(t, m, providerOpts{})

	if _, err := p.SignIn(context.Background(), "rahim@diu.test", testPassword); !errors.Is(err, identity.ErrAuthentication) {
		t.Errorf("ошибка = %v, ожидается ErrAuthentication", err)
	}
	if p.Current() != nil {
		t.Error("сессия установлена по невалидному id_token")
	}
}

func TestProvider_SignUp(t *testing.T) {
	tests := []struct {
		name       string
		regErr     error
		wantErr    error
		wantGrants int
	}{
		{"успех", nil, nil, 1},
		{"учётная запись существует", identity.ErrAccountExists, identity.ErrAccountExists, 0},
		{"слабый пароль", identity.ErrInvalidCredentials, identity.ErrInvalidCredentials, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockKeycloak(t)
			reg := &fakeRegistrar{err: tt.regErr}
			p := newTestProvider(t, m, providerOpts{registrar: reg})

			id, err := p.SignUp(context.Background(), "new@diu.test", testPassword)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ошибка = %v, ожидается %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("SignUp() ошибка: %v", err)
				}
				if id.Email != "new@diu.test" {
					t.Errorf("Email = %q", id.Email)
				}
				if len(reg.registered) != 1 {
					t.Errorf("Register вызван %d раз", len(reg.registered))
				}
			}
			if got := len(m.grantLog()); got != tt.wantGrants {
				t.Errorf("запросов токена = %d, ожидается %d", got, tt.wantGrants)
			}
		})
	}
}

func TestProvider_SignUp_NoRegistrar(t *testing.T) {
	p := newTestProvider(t, newMockKeycloak(t), providerOpts{})
	if _, err := p.SignUp(context.Background(), "new@diu.test", testPassword); err == nil {
		t.Error("ожидалась ошибка без Registrar")
	}
}

func TestProvider_SignOut(t *testing.T) {
	m := newMockKeycloak(t)
	store := newTestStore(t)
	p := newTestProvider(t, m, providerOpts{store: store})
	pushes := recordPushes(p)

	if _, err := p.SignIn(context.Background(), "rahim@diu.test", testPassword); err != nil {
		t.Fatal(err)
	}
	if err := p.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() ошибка: %v", err)
	}

	if got := pushes.emails(); !equalStrings(got, []string{"rahim@diu.test", ""}) {
		t.Errorf("уведомления = %v", got)
	}
	if p.Current() != nil {
		t.Error("Current() != nil после выхода")
	}
	if creds, _ := store.Load(); creds != nil {
		t.Errorf("учётные данные не удалены: %+v", creds)
	}
	if got := m.logoutLog(); !equalStrings(got, []string{"rt-rahim@diu.test"}) {
		t.Errorf("logout = %v", got)
	}
	if _, err := p.Token(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Token() ошибка = %v, ожидается ErrNoSession", err)
	}

	// Выход без сессии не обращается к Keycloak.
	if err := p.SignOut(context.Background()); err != nil {
		t.Errorf("повторный SignOut() ошибка: %v", err)
	}
	if got := len(m.logoutLog()); got != 1 {
		t.Errorf("logout вызван %d раз, ожидается 1", got)
	}
}

func TestProvider_Restore(t *testing.T) {
	tests := []struct {
		name          string
		stored        *Credentials
		rejectRefresh bool
		wantPush      string
		wantStored    bool
	}{
		{"нет файла", nil, false, "", false},
		{"валидная сессия", &Credentials{RefreshToken: "rt-karim@diu.test"}, false, "karim@diu.test", true},
		{"сессия истекла", &Credentials{RefreshToken: "rt-karim@diu.test"}, true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockKeycloak(t)
			m.rejectRefresh = tt.rejectRefresh
			store := newTestStore(t)
			if tt.stored != nil {
				if err := store.Save(*tt.stored); err != nil {
					t.Fatal(err)
				}
			}
			p := newTestProvider(t, m, providerOpts{store: store})
			pushes := recordPushes(p)

			if err := p.Restore(context.Background()); err != nil {
				t.Fatalf("Restore() ошибка: %v", err)
			}
			if got := pushes.emails(); !equalStrings(got, []string{tt.wantPush}) {
				t.Errorf("уведомления = %v, ожидается [%q]", got, tt.wantPush)
			}
			creds, _ := store.Load()
			if (creds != nil) != tt.wantStored {
				t.Errorf("сохранено = %+v, ожидается наличие = %v", creds, tt.wantStored)
			}
		})
	}
}

func TestProvider_Restore_CorruptStore(t *testing.T) {
	m := newMockKeycloak(t)
	path := filepath.Join(t.TempDir(), "credentials")
	if err := os.WriteFile(path, []byte("garbage-garbage-garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, _ := NewStore(path, "test-key")
	p := newTestProvider(t, m, providerOpts{store: store})
	pushes := recordPushes(p)

	if err := p.Restore(context.Background()); !errors.Is(err, ErrCorruptStore) {
		t.Errorf("ошибка = %v, ожидается ErrCorruptStore", err)
	}
	if got := pushes.emails(); !equalStrings(got, []string{""}) {
		t.Errorf("уведомления = %v", got)
	}
}

func TestProvider_Token_RefreshesExpired(t *testing.T) {
	m := newMockKeycloak(t)
	p := newTestProvider(t, m, providerOpts{})
	pushes := recordPushes(p)

	if _, err := p.SignIn(context.Background(), "rahim@diu.test", testPassword); err != nil {
		t.Fatal(err)
	}
	p.mu.Lock()
	p.token.Expiry = time.Now().Add(-time.Minute)
	p.mu.Unlock()

	tok, err := p.Token()
	if err != nil {
		t.Fatalf("Token() ошибка: %v", err)
	}
	if !tok.Valid() {
		t.Error("Token() вернул невалидный токен")
	}
	if got := m.grantLog(); !equalStrings(got, []string{"password", "refresh_token"}) {
		t.Errorf("гранты = %v", got)
	}
	if got := pushes.emails(); !equalStrings(got, []string{"rahim@diu.test", "rahim@diu.test"}) {
		t.Errorf("уведомления = %v", got)
	}
}

func TestProvider_Token_RefreshRejected(t *testing.T) {
	m := newMockKeycloak(t)
	store := newTestStore(t)
	p := newTestProvider(t, m, providerOpts{store: store})
	pushes := recordPushes(p)

	if _, err := p.SignIn(context.Background(), "rahim@diu.test", testPassword); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.rejectRefresh = true
	m.mu.Unlock()
	p.mu.Lock()
	p.token.Expiry = time.Now().Add(-time.Minute)
	p.mu.Unlock()

	if _, err := p.Token(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Token() ошибка = %v, ожидается ErrNoSession", err)
	}
	if got := pushes.emails(); !equalStrings(got, []string{"rahim@diu.test", ""}) {
		t.Errorf("уведомления = %v", got)
	}
	if creds, _ := store.Load(); creds != nil {
		t.Errorf("учётные данные не удалены: %+v", creds)
	}
}

// browser имитирует браузер: проверяет auth URL и вызывает redirect.
func browser(t *testing.T, query func(state string) url.Values) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			t.Errorf("auth URL: %v", err)
			return err
		}
		q := u.Query()
		if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
			t.Errorf("нет PKCE в auth URL: %s", authURL)
		}
		if q.Get("kc_idp_hint") != "google" {
			t.Errorf("kc_idp_hint = %q", q.Get("kc_idp_hint"))
		}
		if q.Get("client_id") != testClientID {
			t.Errorf("client_id = %q", q.Get("client_id"))
		}
		if query == nil {
			return nil
		}
		resp, err := http.Get(q.Get("redirect_uri") + "?" + query(q.Get("state")).Encode())
		if err != nil {
			t.Errorf("callback: %v", err)
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func TestProvider_SignInFederated(t *testing.T) {
	m := newMockKeycloak(t)
	p := newTestProvider(t, m, providerOpts{
		openURL: browser(t, func(state string) url.Values {
			return url.Values{"code": {testCode}, "state": {state}}
		}),
	})
	pushes := recordPushes(p)

	id, err := p.SignInFederated(context.Background())
	if err != nil {
		t.Fatalf("SignInFederated() ошибка: %v", err)
	}
	if id.Email != "fed@diu.test" {
		t.Errorf("Email = %q", id.Email)
	}
	if got := pushes.emails(); !equalStrings(got, []string{"fed@diu.test"}) {
		t.Errorf("уведомления = %v", got)
	}
	m.mu.Lock()
	verifier := m.lastVerifier
	m.mu.Unlock()
	if verifier == "" {
		t.Error("code_verifier не передан")
	}
}

func TestProvider_SignInFederated_Cancelled(t *testing.T) {
	tests := []struct {
		name  string
		query func(state string) url.Values
	}{
		{"отказ пользователя", func(state string) url.Values {
			return url.Values{"error": {"access_denied"}, "state": {state}}
		}},
		{"окно закрыто", nil},
		{"чужой state", func(string) url.Values {
			return url.Values{"code": {testCode}, "state": {"forged"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockKeycloak(t)
			p := newTestProvider(t, m, providerOpts{openURL: browser(t, tt.query)})
			pushes := recordPushes(p)

			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()

			_, err := p.SignInFederated(ctx)
			if !errors.Is(err, identity.ErrProviderCancelled) {
				t.Errorf("ошибка = %v, ожидается ErrProviderCancelled", err)
			}
			if got := pushes.emails(); len(got) != 0 {
				t.Errorf("уведомления = %v, ожидается пусто", got)
			}
			if got := m.grantLog(); len(got) != 0 {
				t.Errorf("гранты = %v, ожидается пусто", got)
			}
		})
	}
}

func TestCallbackError(t *testing.T) {
	if err := callbackError("access_denied", ""); !errors.Is(err, identity.ErrProviderCancelled) {
		t.Errorf("access_denied → %v", err)
	}
	if err := callbackError("server_error", "boom"); !errors.Is(err, identity.ErrAuthentication) {
		t.Errorf("server_error → %v", err)
	}
}
