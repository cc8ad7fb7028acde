// Пакет keycloak — Identity Provider на базе Keycloak (OIDC).
// Вход по паролю (password grant), федеративный вход (authorization code
// + PKCE с kc_idp_hint), обновление токенов и выход.
package keycloak

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/Pullock4981/diu-transport-client/internal/identity"
)

const (
	defaultRefreshMargin = 30 * time.Second
	minRefreshWait       = 5 * time.Second
)

// ErrNoSession — нет активной сессии.
var ErrNoSession = errors.New("сессия отсутствует: выполните вход")

// Registrar создаёт учётную запись. Ошибки — identity.ErrAccountExists
// и identity.ErrInvalidCredentials (обёрнутые).
type Registrar interface {
	Register(ctx context.Context, name, email, password string) error
}

// Config — параметры OIDC-клиента CLI (public client).
type Config struct {
	// IssuerURL — URL realm, например https://sso.diu.edu.bd/realms/diu
	IssuerURL string
	ClientID  string
	// IDPHint — alias внешнего IdP в Keycloak для федеративного входа
	IDPHint string
	// CallbackAddr — адрес loopback-listener для redirect (по умолчанию 127.0.0.1:0)
	CallbackAddr string
	// HTTPClient — nil: клиент с таймаутом 30s
	HTTPClient    *http.Client
	TLSSkipVerify bool
	// Keyfunc — nil: JWKS realm
	Keyfunc keyfunc.Keyfunc
	// OpenURL открывает страницу входа. nil — ссылка пишется в лог.
	OpenURL       func(authURL string) error
	RefreshMargin time.Duration
}

// idClaims — claims ID token Keycloak.
type idClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
}

// Provider — Keycloak Identity Provider.
type Provider struct {
	cfg        Config
	oauth      *oauth2.Config
	issuer     string
	logoutURL  string
	httpClient *http.Client
	jwks       keyfunc.Keyfunc
	registrar  Registrar
	store      *Store
	logger     *slog.Logger

	mu            sync.Mutex
	token         *oauth2.Token
	idToken       string
	current       *identity.Identity
	refreshCancel context.CancelFunc

	subsMu  sync.Mutex
	subs    map[int]func(*identity.Identity)
	nextSub int
	pushMu  sync.Mutex
}

// New создаёт Provider. registrar и store могут быть nil.
func New(cfg Config, registrar Registrar, store *Store, logger *slog.Logger) (*Provider, error) {
	issuer := strings.TrimRight(cfg.IssuerURL, "/")
	if issuer == "" || cfg.ClientID == "" {
		return nil, errors.New("issuer и client_id обязательны")
	}
	if cfg.CallbackAddr == "" {
		cfg.CallbackAddr = "127.0.0.1:0"
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = defaultRefreshMargin
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
		if cfg.TLSSkipVerify {
			httpClient.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // только dev-среда
			}
		}
	}

	oidcBase := issuer + "/protocol/openid-connect"
	p := &Provider{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:   oidcBase + "/auth",
				TokenURL:  oidcBase + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"openid", "profile", "email"},
		},
		issuer:     issuer,
		logoutURL:  oidcBase + "/logout",
		httpClient: httpClient,
		jwks:       cfg.Keyfunc,
		registrar:  registrar,
		store:      store,
		logger:     logger.With(slog.String("component", "keycloak_identity")),
		subs:       make(map[int]func(*identity.Identity)),
	}

	if p.jwks == nil {
		storage, err := jwkset.NewStorageFromHTTP(oidcBase+"/certs", jwkset.HTTPClientStorageOptions{
			Client:                    httpClient,
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           15 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("создание JWKS storage: %w", err)
		}
		p.jwks, err = keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("создание keyfunc: %w", err)
		}
	}
	return p, nil
}

// Subscribe регистрирует подписчика на изменения сессии.
func (p *Provider) Subscribe(fn func(*identity.Identity)) func() {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	key := p.nextSub
	p.nextSub++
	p.subs[key] = fn
	return func() {
		p.subsMu.Lock()
		delete(p.subs, key)
		p.subsMu.Unlock()
	}
}

// push доставляет изменение всем подписчикам; доставки не перемежаются.
func (p *Provider) push(id *identity.Identity) {
	p.pushMu.Lock()
	defer p.pushMu.Unlock()

	p.subsMu.Lock()
	subs := make([]func(*identity.Identity), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.subsMu.Unlock()

	for _, fn := range subs {
		fn(id)
	}
}

// Current — identity текущей сессии или nil.
func (p *Provider) Current() *identity.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// SignIn — вход по паролю (resource owner password grant).
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.Identity, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.httpCtx(ctx), email, password)
	if err != nil {
		if rejected(err) {
			return nil, fmt.Errorf("%w: %s", identity.ErrAuthentication, retrieveReason(err))
		}
		return nil, fmt.Errorf("запрос токена: %w", err)
	}
	return p.establish(tok)
}

// SignUp регистрирует учётную запись и выполняет вход.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.Identity, error) {
	if p.registrar == nil {
		return nil, errors.New("регистрация не настроена")
	}
	if err := p.registrar.Register(ctx, "", email, password); err != nil {
		return nil, err
	}
	id, err := p.SignIn(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("учётная запись создана, вход не выполнен: %w", err)
	}
	return id, nil
}

// SignInFederated — вход через внешний IdP (authorization code + PKCE).
// Redirect принимает loopback-listener на CallbackAddr.
func (p *Provider) SignInFederated(ctx context.Context) (*identity.Identity, error) {
	ln, err := net.Listen("tcp", p.cfg.CallbackAddr)
	if err != nil {
		return nil, fmt.Errorf("запуск callback listener: %w", err)
	}

	conf := *p.oauth
	conf.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr().String())
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if p.cfg.IDPHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("kc_idp_hint", p.cfg.IDPHint))
	}
	authURL := conf.AuthCodeURL(state, opts...)

	type callbackResult struct {
		code string
		err  error
	}
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "Некорректный state", http.StatusBadRequest)
			return
		}
		res := callbackResult{code: q.Get("code")}
		if e := q.Get("error"); e != "" {
			res.err = callbackError(e, q.Get("error_description"))
			_, _ = fmt.Fprintln(w, "Вход отменён. Окно можно закрыть.")
		} else {
			_, _ = fmt.Fprintln(w, "Вход выполнен. Вернитесь в терминал.")
		}
		select {
		case results <- res:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	if err := p.openURL(authURL); err != nil {
		p.logger.Warn("Не удалось открыть страницу входа", slog.String("error", err.Error()))
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", identity.ErrProviderCancelled, ctx.Err())
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		tok, err := conf.Exchange(p.httpCtx(ctx), res.code, oauth2.VerifierOption(verifier))
		if err != nil {
			if rejected(err) {
				return nil, fmt.Errorf("%w: %s", identity.ErrAuthentication, retrieveReason(err))
			}
			return nil, fmt.Errorf("обмен кода авторизации: %w", err)
		}
		return p.establish(tok)
	}
}

// SignOut сбрасывает локальную сессию, уведомляет подписчиков и
// завершает сессию в Keycloak.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	var refreshToken string
	if p.token != nil {
		refreshToken = p.token.RefreshToken
	}
	p.clearLocked()
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Clear(); err != nil {
			p.logger.Warn("Ошибка удаления учётных данных", slog.String("error", err.Error()))
		}
	}
	p.push(nil)

	if refreshToken == "" {
		return nil
	}
	return p.endSession(ctx, refreshToken)
}

// Restore восстанавливает сессию из хранилища и уведомляет подписчиков:
// identity при успехе, nil — если сессии нет.
func (p *Provider) Restore(ctx context.Context) error {
	if p.store == nil {
		p.push(nil)
		return nil
	}
	creds, err := p.store.Load()
	if err != nil {
		p.push(nil)
		return fmt.Errorf("чтение учётных данных: %w", err)
	}
	if creds == nil || creds.RefreshToken == "" {
		p.push(nil)
		return nil
	}

	tok, err := p.refresh(ctx, creds.RefreshToken)
	if err != nil {
		p.push(nil)
		if rejected(err) {
			p.logger.Info("Сохранённая сессия истекла")
			_ = p.store.Clear()
			return nil
		}
		return fmt.Errorf("восстановление сессии: %w", err)
	}
	if _, err := p.establish(tok); err != nil {
		p.push(nil)
		return err
	}
	return nil
}

// Token реализует oauth2.TokenSource: текущий access token, при
// необходимости обновлённый.
func (p *Provider) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	tok := p.token
	p.mu.Unlock()

	if tok == nil {
		return nil, ErrNoSession
	}
	if tok.Valid() {
		return tok, nil
	}
	if err := p.refreshNow(context.Background()); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return nil, ErrNoSession
	}
	return p.token, nil
}

// Close останавливает фоновое обновление токенов.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshCancel != nil {
		p.refreshCancel()
		p.refreshCancel = nil
	}
}

// establish проверяет ID token, сохраняет сессию и уведомляет подписчиков.
func (p *Provider) establish(tok *oauth2.Token) (*identity.Identity, error) {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, errors.New("в ответе token endpoint нет id_token")
	}
	id, err := p.verify(raw)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.token = tok
	p.idToken = raw
	p.current = id
	p.startRefreshLocked()
	creds := p.credentialsLocked()
	p.mu.Unlock()

	p.persist(creds)
	p.push(id)

	p.logger.Debug("Сессия установлена", slog.String("email", id.Email))
	return id, nil
}

// verify проверяет подпись и claims ID token.
func (p *Provider) verify(raw string) (*identity.Identity, error) {
	claims := &idClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, p.jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: невалидный id_token: %v", identity.ErrAuthentication, err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: в id_token нет email", identity.ErrAuthentication)
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	return &identity.Identity{
		ID:          claims.Subject,
		DisplayName: name,
		Email:       strings.ToLower(claims.Email),
		PhotoURL:    claims.Picture,
	}, nil
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := p.oauth.TokenSource(p.httpCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	return ts.Token()
}

// refreshNow обновляет токены текущей сессии и уведомляет подписчиков.
func (p *Provider) refreshNow(ctx context.Context) error {
	p.mu.Lock()
	if p.token == nil || p.token.RefreshToken == "" {
		p.mu.Unlock()
		return ErrNoSession
	}
	used := p.token.RefreshToken
	p.mu.Unlock()

	tok, err := p.refresh(ctx, used)
	if err != nil {
		if rejected(err) {
			p.expire()
			return fmt.Errorf("%w: %s", ErrNoSession, retrieveReason(err))
		}
		return fmt.Errorf("обновление токена: %w", err)
	}

	id := p.Current()
	if raw, _ := tok.Extra("id_token").(string); raw != "" {
		if id, err = p.verify(raw); err != nil {
			return err
		}
	}

	p.mu.Lock()
	// Сессия сменилась, пока шло обновление.
	if p.token == nil || p.token.RefreshToken != used {
		p.mu.Unlock()
		return nil
	}
	p.token = tok
	if raw, _ := tok.Extra("id_token").(string); raw != "" {
		p.idToken = raw
	}
	p.current = id
	creds := p.credentialsLocked()
	p.mu.Unlock()

	p.persist(creds)
	p.push(id)
	return nil
}

// refreshLoop обновляет токены за RefreshMargin до истечения.
func (p *Provider) refreshLoop(ctx context.Context) {
	for {
		p.mu.Lock()
		tok := p.token
		p.mu.Unlock()
		if tok == nil || tok.Expiry.IsZero() {
			return
		}

		wait := max(time.Until(tok.Expiry)-p.cfg.RefreshMargin, minRefreshWait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := p.refreshNow(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrNoSession) {
				return
			}
			p.logger.Warn("Ошибка обновления токена", slog.String("error", err.Error()))
		}
	}
}

// startRefreshLocked перезапускает цикл обновления. Вызывается под p.mu.
func (p *Provider) startRefreshLocked() {
	if p.refreshCancel != nil {
		p.refreshCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.refreshCancel = cancel
	go p.refreshLoop(ctx)
}

// clearLocked сбрасывает сессию. Вызывается под p.mu.
func (p *Provider) clearLocked() {
	p.token = nil
	p.idToken = ""
	p.current = nil
	if p.refreshCancel != nil {
		p.refreshCancel()
		p.refreshCancel = nil
	}
}

// expire — refresh token отклонён: сессия завершена на стороне Keycloak.
func (p *Provider) expire() {
	p.mu.Lock()
	p.clearLocked()
	p.mu.Unlock()
	if p.store != nil {
		_ = p.store.Clear()
	}
	p.logger.Info("Сессия истекла")
	p.push(nil)
}

func (p *Provider) credentialsLocked() Credentials {
	return Credentials{
		RefreshToken: p.token.RefreshToken,
		IDToken:      p.idToken,
		Expiry:       p.token.Expiry,
	}
}

func (p *Provider) persist(c Credentials) {
	if p.store == nil || c.RefreshToken == "" {
		return
	}
	if err := p.store.Save(c); err != nil {
		p.logger.Warn("Ошибка сохранения учётных данных", slog.String("error", err.Error()))
	}
}

// endSession завершает сессию в Keycloak по refresh token.
func (p *Provider) endSession(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"client_id":     {p.cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации OIDC
	if err != nil {
		return fmt.Errorf("ошибка запроса к logout endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout endpoint вернул статус %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) openURL(authURL string) error {
	if p.cfg.OpenURL != nil {
		return p.cfg.OpenURL(authURL)
	}
	p.logger.Info("Откройте ссылку для входа", slog.String("url", authURL))
	return nil
}

func (p *Provider) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// rejected — token endpoint отклонил грант (400/401).
func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	return re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized
}

func retrieveReason(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorDescription != "" {
			return re.ErrorDescription
		}
		if re.ErrorCode != "" {
			return re.ErrorCode
		}
	}
	return err.Error()
}

// callbackError маппит error из redirect. access_denied — отказ пользователя.
func callbackError(code, description string) error {
	if description == "" {
		description = code
	}
	if code == "access_denied" {
		return fmt.Errorf("%w: %s", identity.ErrProviderCancelled, description)
	}
	return fmt.Errorf("%w: %s", identity.ErrAuthentication, description)
}
