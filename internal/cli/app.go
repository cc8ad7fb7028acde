// Пакет cli — команды portalctl, терминального клиента транспортного портала.
// Каждая команда поднимает IdP-сессию, дожидается определения роли через
// session.Resolver и только затем обращается к Portal API.
package cli

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Pullock4981/diu-transport-client/internal/config"
	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/identity"
	"github.com/Pullock4981/diu-transport-client/internal/identity/keycloak"
	"github.com/Pullock4981/diu-transport-client/internal/portalclient"
	"github.com/Pullock4981/diu-transport-client/internal/session"
)

var (
	errNotSignedIn = errors.New("вход не выполнен: используйте portalctl login")
	errAdminOnly   = errors.New("команда доступна только администратору")
)

// Backend — операции Portal API, которые используют команды.
// Реализуется portalclient.Client.
type Backend interface {
	session.RoleRegistry
	Register(ctx context.Context, name, email, password string) error
	Me(ctx context.Context) (*portalclient.Me, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetUserRole(ctx context.Context, email, role string) error
	SubmitRequest(ctx context.Context, in model.TransportRequestInput) (string, error)
	ListRequests(ctx context.Context) ([]model.TransportRequest, error)
	UpdateRequest(ctx context.Context, id string, upd model.TransportRequestUpdate) (string, error)
	SetRequestStatus(ctx context.Context, id, status string) (string, error)
	DeleteRequest(ctx context.Context, id string) error
	ListNotices(ctx context.Context, f model.NoticeFilter) ([]model.Notice, error)
	CreateNotice(ctx context.Context, in model.NoticeInput) (*model.Notice, error)
	ListSchedules(ctx context.Context, f model.ScheduleFilter) ([]model.Schedule, error)
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	CreateSchedule(ctx context.Context, in model.Schedule) (*model.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, in model.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
}

// IdentityProvider — IdP с сохранением сессии между запусками.
// Реализуется keycloak.Provider.
type IdentityProvider interface {
	identity.Provider
	Restore(ctx context.Context) error
	Close()
}

// Connector создаёт клиент Portal API и IdP.
type Connector func(ctx context.Context, a *App) (Backend, IdentityProvider, error)

type options struct {
	apiURL      string
	issuer      string
	clientID    string
	idpHint     string
	credentials string
	caCert      string
	insecure    bool
	logLevel    string
	metricsAddr string
	timeout     time.Duration
	rate        float64
}

// App — состояние одного запуска portalctl.
type App struct {
	opts    options
	out     io.Writer
	errOut  io.Writer
	logger  *slog.Logger
	connect Connector

	// signUpName — имя из флага register --name
	signUpName string
	metrics    *http.Server
}

// NewApp создаёт приложение с подключением к Keycloak и Portal API.
func NewApp(out, errOut io.Writer) *App {
	return &App{
		out:     out,
		errOut:  errOut,
		logger:  slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn})),
		connect: connectKeycloak,
	}
}

// WithConnector подменяет подключение (тесты).
func (a *App) WithConnector(c Connector) *App {
	a.connect = c
	return a
}

// RootCommand собирает дерево команд.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "portalctl",
		Short: "Терминальный клиент транспортного портала DIU",
		Long: `portalctl — вход через Keycloak, заявки на автобус, объявления,
расписания маршрутов и реестр пользователей.

Роль определяется бэкендом после каждого входа; команды администратора
доступны только при роли admin.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.opts.apiURL, "api-url", envDefault("PORTAL_API_URL", "http://localhost:5000"), "URL Portal API")
	f.StringVar(&a.opts.issuer, "issuer", envDefault("PORTAL_ISSUER", "http://localhost:8080/realms/diu"), "URL realm Keycloak")
	f.StringVar(&a.opts.clientID, "client-id", envDefault("PORTAL_CLIENT_ID", "portalctl"), "OIDC client_id")
	f.StringVar(&a.opts.idpHint, "idp-hint", envDefault("PORTAL_IDP_HINT", "google"), "alias внешнего IdP для --google")
	f.StringVar(&a.opts.credentials, "credentials", os.Getenv("PORTAL_CREDENTIALS"), "файл сессии (по умолчанию ~/.diu-transport/credentials)")
	f.StringVar(&a.opts.caCert, "ca-cert", os.Getenv("PORTAL_CA_CERT"), "CA-сертификат для TLS")
	f.BoolVar(&a.opts.insecure, "insecure", false, "не проверять TLS-сертификаты (только dev)")
	f.StringVar(&a.opts.logLevel, "log-level", envDefault("PORTAL_LOG_LEVEL", "warn"), "уровень логирования: debug, info, warn, error")
	f.StringVar(&a.opts.metricsAddr, "metrics-addr", "", "адрес /metrics (например 127.0.0.1:9464)")
	f.DurationVar(&a.opts.timeout, "timeout", 15*time.Second, "таймаут определения роли и запросов")
	f.Float64Var(&a.opts.rate, "rate", 5, "лимит запросов к Portal API в секунду (0 — без лимита)")

	root.AddCommand(
		a.loginCommand(),
		a.registerCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.watchCommand(),
		a.requestsCommand(),
		a.noticesCommand(),
		a.schedulesCommand(),
		a.usersCommand(),
	)
	return root
}

func (a *App) setup(_ *cobra.Command, _ []string) error {
	level, err := config.ParseLogLevel(a.opts.logLevel)
	if err != nil {
		return err
	}
	a.logger = config.NewLogger(a.errOut, "text", level)

	if a.opts.metricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.opts.metricsAddr)
	if err != nil {
		return fmt.Errorf("запуск /metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("Ошибка сервера метрик", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("Метрики доступны", slog.String("addr", ln.Addr().String()))
	return nil
}

func (a *App) teardown(_ *cobra.Command, _ []string) error {
	if a.metrics == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.metrics.Shutdown(ctx)
}

// requirement — что нужно команде от сессии.
type requirement struct {
	signedIn bool
	action   rbac.Action
}

var (
	anyone   = requirement{}
	signedIn = requirement{signedIn: true}
)

func allowedTo(action rbac.Action) requirement {
	return requirement{signedIn: true, action: action}
}

func (r requirement) check(s session.Session) error {
	if !r.signedIn {
		return nil
	}
	if !s.SignedIn() {
		return errNotSignedIn
	}
	if r.action != "" && !rbac.Allowed(s.Role, r.action) {
		return errAdminOnly
	}
	return nil
}

// env — подключения одной команды.
type env struct {
	backend  Backend
	provider IdentityProvider
	resolver *session.Resolver
	timeout  time.Duration
}

// open подключается к IdP и Portal API, запускает Resolver и
// восстанавливает сохранённую сессию.
func (a *App) open(ctx context.Context) (*env, error) {
	backend, provider, err := a.connect(ctx, a)
	if err != nil {
		return nil, err
	}

	resolver := session.New(provider, backend, a.logger, session.WithLookupTimeout(a.opts.timeout))
	if err := resolver.Start(ctx); err != nil {
		provider.Close()
		return nil, fmt.Errorf("запуск session resolver: %w", err)
	}
	if err := provider.Restore(ctx); err != nil {
		a.logger.Warn("Сохранённая сессия не восстановлена", slog.String("error", err.Error()))
	}

	return &env{backend: backend, provider: provider, resolver: resolver, timeout: a.opts.timeout}, nil
}

func (e *env) close() {
	e.resolver.Stop()
	e.provider.Close()
}

// ready дожидается определения роли для текущего identity.
func (e *env) ready(ctx context.Context) (session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	s, err := e.resolver.WaitReady(ctx)
	if err != nil {
		return s, fmt.Errorf("определение роли: %w", err)
	}
	return s, nil
}

// run — общий сценарий команды: сессия → роль → проверка прав → действие.
func (a *App) run(cmd *cobra.Command, req requirement, fn func(ctx context.Context, e *env, s session.Session) error) error {
	ctx := cmd.Context()
	e, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := e.ready(ctx)
	if err != nil {
		return err
	}
	if err := req.check(s); err != nil {
		return err
	}
	return fn(ctx, e, s)
}

// registrarFunc адаптирует функцию к keycloak.Registrar.
type registrarFunc func(ctx context.Context, name, email, password string) error

func (f registrarFunc) Register(ctx context.Context, name, email, password string) error {
	return f(ctx, name, email, password)
}

// connectKeycloak — подключение по умолчанию: Keycloak + Portal API.
func connectKeycloak(_ context.Context, a *App) (Backend, IdentityProvider, error) {
	path := a.opts.credentials
	if path == "" {
		var err error
		if path, err = keycloak.DefaultStorePath(); err != nil {
			return nil, nil, err
		}
	}
	key, err := sessionKey(path)
	if err != nil {
		return nil, nil, err
	}
	store, err := keycloak.NewStore(path, key)
	if err != nil {
		return nil, nil, err
	}

	var client *portalclient.Client
	registrar := registrarFunc(func(ctx context.Context, _, email, password string) error {
		return client.Register(ctx, a.signUpName, email, password)
	})

	provider, err := keycloak.New(keycloak.Config{
		IssuerURL:     a.opts.issuer,
		ClientID:      a.opts.clientID,
		IDPHint:       a.opts.idpHint,
		TLSSkipVerify: a.opts.insecure,
		OpenURL: func(authURL string) error {
			_, err := fmt.Fprintf(a.out, "Откройте ссылку в браузере для входа:\n  %s\n", authURL)
			return err
		},
	}, registrar, store, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("инициализация Keycloak: %w", err)
	}

	client, err = portalclient.New(portalclient.Options{
		BaseURL:           a.opts.apiURL,
		CACertPath:        a.opts.caCert,
		TLSSkipVerify:     a.opts.insecure,
		Tokens:            provider,
		RequestsPerSecond: a.opts.rate,
		Burst:             5,
		Timeout:           a.opts.timeout,
	}, a.logger)
	if err != nil {
		provider.Close()
		return nil, nil, fmt.Errorf("инициализация Portal API клиента: %w", err)
	}
	return client, provider, nil
}

// sessionKey — ключ шифрования файла сессии: PORTAL_SESSION_KEY или
// случайный ключ в файле key рядом с файлом сессии (создаётся при первом запуске).
func sessionKey(credentialsPath string) (string, error) {
	if key := os.Getenv("PORTAL_SESSION_KEY"); key != "" {
		return key, nil
	}

	keyPath := filepath.Join(filepath.Dir(credentialsPath), "key")
	data, err := os.ReadFile(keyPath)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("чтение ключа сессии: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("генерация ключа сессии: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(raw)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return "", fmt.Errorf("создание каталога: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("запись ключа сессии: %w", err)
	}
	return key, nil
}

func envDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
