package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/Pullock4981/diu-transport-client/internal/identity"
	"github.com/Pullock4981/diu-transport-client/internal/portalclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memProvider — IdP в памяти. stored — «сохранённая» сессия,
// которую получает Restore.
type memProvider struct {
	mu       sync.Mutex
	accounts map[string]string
	stored   *identity.Identity
	subs     map[int]func(*identity.Identity)
	nextSub  int
	signOuts int
}

func newMemProvider(stored string) *memProvider {
	p := &memProvider{
		accounts: map[string]string{
			"admin@diu.test": "admin-pass",
			"rahim@diu.test": "rahim-pass",
		},
		subs: make(map[int]func(*identity.Identity)),
	}
	if stored != "" {
		p.stored = &identity.Identity{ID: "kc-" + stored, Email: stored, DisplayName: "Test"}
	}
	return p
}

func (p *memProvider) push(id *identity.Identity) {
	p.mu.Lock()
	subs := make([]func(*identity.Identity), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(id)
	}
}

func (p *memProvider) Subscribe(fn func(*identity.Identity)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.nextSub
	p.nextSub++
	p.subs[key] = fn
	return func() {
		p.mu.Lock()
		delete(p.subs, key)
		p.mu.Unlock()
	}
}

func (p *memProvider) Restore(context.Context) error {
	p.mu.Lock()
	id := p.stored
	p.mu.Unlock()
	p.push(id)
	return nil
}

func (p *memProvider) SignIn(_ context.Context, email, password string) (*identity.Identity, error) {
	p.mu.Lock()
	if pw, ok := p.accounts[email]; !ok || pw != password {
		p.mu.Unlock()
		return nil, identity.ErrAuthentication
	}
	id := &identity.Identity{ID: "kc-" + email, Email: email, DisplayName: "Test"}
	p.stored = id
	p.mu.Unlock()
	p.push(id)
	return id, nil
}

func (p *memProvider) SignUp(ctx context.Context, email, password string) (*identity.Identity, error) {
	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return nil, identity.ErrAccountExists
	}
	p.accounts[email] = password
	p.mu.Unlock()
	return p.SignIn(ctx, email, password)
}

func (p *memProvider) SignInFederated(context.Context) (*identity.Identity, error) {
	return nil, identity.ErrProviderCancelled
}

func (p *memProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.stored = nil
	p.signOuts++
	p.mu.Unlock()
	p.push(nil)
	return nil
}

func (p *memProvider) Close() {}

// portalMock — Portal API с ролями из roles (по умолчанию user).
type portalMock struct {
	roles      map[string]string
	failLookup bool

	mu     sync.Mutex
	calls  []string
	bodies map[string]map[string]any
}

func newPortalMock(t *testing.T, roles map[string]string) (*portalMock, *portalclient.Client) {
	t.Helper()
	m := &portalMock{roles: roles, bodies: make(map[string]map[string]any)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{email}", func(w http.ResponseWriter, r *http.Request) {
		if m.failLookup {
			http.Error(w, "db down", http.StatusInternalServerError)
			return
		}
		role := m.roles[r.PathValue("email")]
		if role == "" {
			role = "user"
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"user":    map[string]string{"email": r.PathValue("email"), "role": role},
		})
	})
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"users":   []map[string]string{{"email": "admin@diu.test", "name": "Head", "role": "admin"}},
		})
	})
	mux.HandleFunc("POST /transport_requests", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusCreated, map[string]any{"success": true, "insertedId": "tr-1"})
	})
	mux.HandleFunc("PUT /transport_requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		status, _ := m.body("PUT /transport_requests/" + r.PathValue("id"))["status"].(string)
		writeTestJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Заявка обновлена: " + status})
	})
	mux.HandleFunc("GET /notices", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, []map[string]string{
			{"_id": "n-1", "title": "Eid holiday", "content": "No buses", "category": "holiday", "priority": "high"},
			{"_id": "n-2", "title": "Route 5 diverted", "content": "Road works", "category": "route", "priority": "normal"},
		})
	})
	mux.HandleFunc("POST /schedules", func(w http.ResponseWriter, r *http.Request) {
		body := m.body("POST /schedules")
		body["id"] = "s-9"
		writeTestJSON(w, http.StatusCreated, body)
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := r.Method + " " + r.URL.Path
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		m.mu.Lock()
		m.calls = append(m.calls, call)
		if body != nil {
			m.bodies[call] = body
		}
		m.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := portalclient.New(portalclient.Options{BaseURL: server.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m, client
}

func (m *portalMock) body(call string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[call]
}

func (m *portalMock) called(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == call {
			return true
		}
	}
	return false
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// execute запускает portalctl с аргументами и возвращает вывод.
func execute(t *testing.T, provider *memProvider, client *portalclient.Client, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp(&out, io.Discard).WithConnector(func(context.Context, *App) (Backend, IdentityProvider, error) {
		return client, provider, nil
	})
	root := app.RootCommand()
	root.SetArgs(append([]string{"--timeout", "5s"}, args...))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWhoami(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		roles   map[string]string
		wantOut []string
	}{
		{"вход не выполнен", "", nil, []string{"Вход не выполнен"}},
		{"пользователь", "rahim@diu.test", nil, []string{"rahim@diu.test", "user", "ready"}},
		{"администратор", "admin@diu.test", map[string]string{"admin@diu.test": "admin"}, []string{"admin@diu.test", "admin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newPortalMock(t, tt.roles)
			out, err := execute(t, newMemProvider(tt.stored), client, "whoami")
			if err != nil {
				t.Fatalf("whoami ошибка: %v", err)
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(out, want) {
					t.Errorf("вывод не содержит %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestLogin_ResolvesRole(t *testing.T) {
	tests := []struct {
		name       string
		email      string
		password   string
		failLookup bool
		wantOut    string
	}{
		{"администратор из реестра", "admin@diu.test", "admin-pass", false, "Вход выполнен: admin@diu.test (admin)"},
		{"пользователь", "rahim@diu.test", "rahim-pass", false, "Вход выполнен: rahim@diu.test (user)"},
		{"сбой реестра — user", "admin@diu.test", "admin-pass", true, "Вход выполнен: admin@diu.test (user)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal, client := newPortalMock(t, map[string]string{"admin@diu.test": "admin"})
			portal.failLookup = tt.failLookup

			out, err := execute(t, newMemProvider(""), client, "login", "--email", tt.email, "--password", tt.password)
			if err != nil {
				t.Fatalf("login ошибка: %v", err)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("вывод = %q, ожидается %q", out, tt.wantOut)
			}

			upsert := portal.body("POST /users")
			if upsert == nil {
				t.Fatal("профиль не записан в реестр")
			}
			if _, has := upsert["role"]; has {
				t.Errorf("upsert содержит role: %v", upsert)
			}
		})
	}
}

func TestLogin_Errors(t *testing.T) {
	_, client := newPortalMock(t, nil)

	_, err := execute(t, newMemProvider(""), client, "login", "--email", "rahim@diu.test", "--password", "wrong")
	if !errors.Is(err, identity.ErrAuthentication) {
		t.Errorf("неверный пароль: ошибка = %v, ожидается ErrAuthentication", err)
	}

	_, err = execute(t, newMemProvider(""), client, "login", "--google")
	if !errors.Is(err, identity.ErrProviderCancelled) {
		t.Errorf("отмена Google: ошибка = %v, ожидается ErrProviderCancelled", err)
	}

	if _, err = execute(t, newMemProvider(""), client, "login"); err == nil {
		t.Error("ожидалась ошибка без --email и --google")
	}
}

func TestLogin_PasswordPrompt(t *testing.T) {
	_, client := newPortalMock(t, nil)
	var out bytes.Buffer
	app := NewApp(&out, io.Discard).WithConnector(func(context.Context, *App) (Backend, IdentityProvider, error) {
		return client, newMemProvider(""), nil
	})
	root := app.RootCommand()
	root.SetArgs([]string{"login", "--email", "rahim@diu.test"})
	root.SetIn(strings.NewReader("rahim-pass\n"))
	root.SetOut(&out)

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("login ошибка: %v", err)
	}
	if !strings.Contains(out.String(), "Вход выполнен: rahim@diu.test") {
		t.Errorf("вывод = %q", out.String())
	}
}

func TestRegister(t *testing.T) {
	_, client := newPortalMock(t, nil)
	provider := newMemProvider("")

	out, err := execute(t, provider, client, "register", "--name", "New", "--email", "new@diu.test", "--password", "new-pass-1")
	if err != nil {
		t.Fatalf("register ошибка: %v", err)
	}
	if !strings.Contains(out, "Учётная запись создана: new@diu.test (user)") {
		t.Errorf("вывод = %q", out)
	}

	_, err = execute(t, provider, client, "register", "--email", "rahim@diu.test", "--password", "whatever1")
	if !errors.Is(err, identity.ErrAccountExists) {
		t.Errorf("ошибка = %v, ожидается ErrAccountExists", err)
	}
}

func TestLogout(t *testing.T) {
	_, client := newPortalMock(t, nil)
	provider := newMemProvider("rahim@diu.test")

	out, err := execute(t, provider, client, "logout")
	if err != nil {
		t.Fatalf("logout ошибка: %v", err)
	}
	if !strings.Contains(out, "Выход выполнен: rahim@diu.test") {
		t.Errorf("вывод = %q", out)
	}
	if provider.signOuts != 1 {
		t.Errorf("SignOut вызван %d раз, ожидается 1", provider.signOuts)
	}

	out, err = execute(t, provider, client, "whoami")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Вход не выполнен") {
		t.Errorf("после выхода whoami = %q", out)
	}
}

// TestAccessControl — команды администратора закрыты для user и
// для не вошедших; запросы к API не отправляются.
func TestAccessControl(t *testing.T) {
	tests := []struct {
		name     string
		stored   string
		args     []string
		wantErr  error
		noCallTo string
	}{
		{"users list от user", "rahim@diu.test", []string{"users", "list"}, errAdminOnly, "GET /users"},
		{"approve от user", "rahim@diu.test", []string{"requests", "approve", "tr-1"}, errAdminOnly, "PUT /transport_requests/tr-1"},
		{"notices add от user", "rahim@diu.test", []string{"notices", "add", "--title", "x", "--content", "y"}, errAdminOnly, "POST /notices"},
		{"schedules delete от user", "rahim@diu.test", []string{"schedules", "delete", "s-1"}, errAdminOnly, "DELETE /schedules/s-1"},
		{"requests list без входа", "", []string{"requests", "list"}, errNotSignedIn, "GET /transport_requests"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal, client := newPortalMock(t, nil)
			_, err := execute(t, newMemProvider(tt.stored), client, tt.args...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ошибка = %v, ожидается %v", err, tt.wantErr)
			}
			if portal.called(tt.noCallTo) {
				t.Errorf("запрос %s не должен был отправляться", tt.noCallTo)
			}
		})
	}
}

// TestAccessControl_LookupFailure — сбой реестра не даёт прав администратора.
func TestAccessControl_LookupFailure(t *testing.T) {
	portal, client := newPortalMock(t, map[string]string{"admin@diu.test": "admin"})
	portal.failLookup = true

	_, err := execute(t, newMemProvider("admin@diu.test"), client, "users", "list")
	if !errors.Is(err, errAdminOnly) {
		t.Errorf("ошибка = %v, ожидается errAdminOnly", err)
	}
}

func TestRequestsApprove(t *testing.T) {
	portal, client := newPortalMock(t, map[string]string{"admin@diu.test": "admin"})

	out, err := execute(t, newMemProvider("admin@diu.test"), client, "requests", "approve", "tr-1")
	if err != nil {
		t.Fatalf("approve ошибка: %v", err)
	}
	if !strings.Contains(out, "Заявка обновлена: Approved") {
		t.Errorf("вывод = %q", out)
	}
	body := portal.body("PUT /transport_requests/tr-1")
	if len(body) != 1 || body["status"] != "Approved" {
		t.Errorf("тело PUT = %v", body)
	}
}

func TestRequestsSubmit(t *testing.T) {
	portal, client := newPortalMock(t, nil)
	provider := newMemProvider("rahim@diu.test")

	out, err := execute(t, provider, client, "requests", "submit",
		"--student-id", "221-15-1234", "--name", "Rahim", "--reason", "Study tour",
		"--date", "2026-11-02", "--time", "08:30", "--destination", "Savar")
	if err != nil {
		t.Fatalf("submit ошибка: %v", err)
	}
	if !strings.Contains(out, "Заявка отправлена: tr-1") {
		t.Errorf("вывод = %q", out)
	}
	if portal.body("POST /transport_requests")["destination"] != "Savar" {
		t.Errorf("тело POST = %v", portal.body("POST /transport_requests"))
	}

	portal2, client2 := newPortalMock(t, nil)
	_, err = execute(t, provider, client2, "requests", "submit", "--name", "Rahim")
	if err == nil || !strings.Contains(err.Error(), "--destination") {
		t.Errorf("ошибка = %v, ожидается список незаполненных полей", err)
	}
	if portal2.called("POST /transport_requests") {
		t.Error("неполная заявка отправлена на сервер")
	}
}

func TestRequestForm_ResetAfterSubmit(t *testing.T) {
	_, client := newPortalMock(t, nil)
	form := &requestForm{
		StudentID: "221-15-1234", Name: "Rahim", Reason: "Tour",
		Date: "2026-11-02", Time: "08:30", Destination: "Savar",
	}

	id, err := form.submit(context.Background(), client)
	if err != nil {
		t.Fatalf("submit() ошибка: %v", err)
	}
	if id != "tr-1" {
		t.Errorf("id = %q", id)
	}
	if *form != (requestForm{}) {
		t.Errorf("форма не сброшена: %+v", *form)
	}
}

func TestRequestForm_KeptOnFailure(t *testing.T) {
	form := &requestForm{Name: "Rahim"}
	if _, err := form.submit(context.Background(), nil); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if form.Name != "Rahim" {
		t.Error("форма сброшена при ошибке")
	}
}

func TestNoticesList_Filter(t *testing.T) {
	_, client := newPortalMock(t, nil)
	out, err := execute(t, newMemProvider("rahim@diu.test"), client, "notices", "list", "--category", "holiday")
	if err != nil {
		t.Fatalf("notices list ошибка: %v", err)
	}
	if !strings.Contains(out, "Eid holiday") {
		t.Errorf("нет объявления holiday:\n%s", out)
	}
	if strings.Contains(out, "Route 5 diverted") {
		t.Errorf("объявление другой категории не отфильтровано:\n%s", out)
	}
	if !strings.Contains(out, "high: 1") {
		t.Errorf("нет счётчика приоритетов:\n%s", out)
	}
}

func TestSchedulesAdd_FromFile(t *testing.T) {
	portal, client := newPortalMock(t, map[string]string{"admin@diu.test": "admin"})

	path := filepath.Join(t.TempDir(), "route.yaml")
	yamlDoc := `routeNo: Route 9
routeName: Savar <> DSC
startTime: ["07:00 AM", ""]
departureTime: ["04:20 PM"]
details: Savar <> Nabinagar <> DSC
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, newMemProvider("admin@diu.test"), client, "schedules", "add", "-f", path)
	if err != nil {
		t.Fatalf("schedules add ошибка: %v", err)
	}
	if !strings.Contains(out, "Маршрут добавлен: Route 9 (s-9)") {
		t.Errorf("вывод = %q", out)
	}
	starts, _ := portal.body("POST /schedules")["startTime"].([]any)
	if len(starts) != 1 {
		t.Errorf("startTime = %v, пустые слоты должны быть убраны", starts)
	}
}

func TestSchedulesAdd_Validation(t *testing.T) {
	portal, client := newPortalMock(t, map[string]string{"admin@diu.test": "admin"})
	if _, err := execute(t, newMemProvider("admin@diu.test"), client, "schedules", "add", "--route-no", "Route 9"); err == nil {
		t.Error("ожидалась ошибка без --route-name")
	}
	if portal.called("POST /schedules") {
		t.Error("неполный маршрут отправлен на сервер")
	}
}

func TestChangedFields(t *testing.T) {
	form := &requestForm{}
	cmd := &cobra.Command{Use: "edit"}
	form.bind(cmd)
	if err := cmd.ParseFlags([]string{"--destination", " Ashulia ", "--time", "09:15"}); err != nil {
		t.Fatal(err)
	}

	upd := changedFields(cmd, form)
	if upd.Destination == nil || *upd.Destination != "Ashulia" {
		t.Errorf("destination = %v, ожидается Ashulia", upd.Destination)
	}
	if upd.Time == nil || *upd.Time != "09:15" {
		t.Errorf("time = %v, ожидается 09:15", upd.Time)
	}
	if upd.Name != nil || upd.StudentID != nil || upd.Status != nil {
		t.Errorf("лишние поля в обновлении: %+v", upd)
	}
}
