// client.go — клиент Keycloak Admin REST API сервисного аккаунта Portal API.
// Токен выдаёт clientcredentials.Config; oauth2.Transport кэширует его
// и обновляет по истечении.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	// ErrUserExists — пользователь с таким username/email уже есть в realm.
	ErrUserExists = errors.New("пользователь уже существует в Keycloak")
	// ErrInvalidUser — Keycloak отклонил данные пользователя (политика паролей и т.п.).
	ErrInvalidUser = errors.New("Keycloak отклонил данные пользователя")
	// ErrUserNotFound — пользователь отсутствует в realm.
	ErrUserNotFound = errors.New("пользователь не найден в Keycloak")
)

// Options — параметры клиента.
type Options struct {
	// BaseURL — корень Keycloak, например https://sso.diu.edu.bd
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	// HTTPClient — транспорт для токенов и Admin API (TLS, таймауты)
	HTTPClient *http.Client
}

// Client — клиент Admin REST API одного realm.
type Client struct {
	adminURL string
	realm    string
	// http подставляет Bearer сервисного аккаунта в каждый запрос
	http   *http.Client
	logger *slog.Logger
}

// New создаёт клиент. Токен запрашивается лениво при первом вызове.
func New(opts Options, logger *slog.Logger) *Client {
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	root := strings.TrimRight(opts.BaseURL, "/")
	cc := &clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     root + "/realms/" + url.PathEscape(opts.Realm) + "/protocol/openid-connect/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	return &Client{
		adminURL: root + "/admin/realms/" + url.PathEscape(opts.Realm),
		realm:    opts.Realm,
		http: &http.Client{
			Timeout: base.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(tokenCtx), 30*time.Second),
				Base:   base.Transport,
			},
		},
		logger: logger.With(slog.String("component", "keycloak_admin")),
	}
}

// apiError — ответ Admin API со статусом вне 2xx.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("Keycloak Admin API: статус %d: %s", e.status, e.body)
}

// call выполняет запрос к Admin API. out == nil — тело ответа не читается.
func (c *Client) call(ctx context.Context, method, rel string, body, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация запроса: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.adminURL+rel, reader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, fmt.Errorf("токен сервисного аккаунта: статус %d: %w", re.Response.StatusCode, err)
		}
		return nil, fmt.Errorf("%s %s: %w", method, rel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp, &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("декодирование ответа Keycloak: %w", err)
		}
	}
	return resp, nil
}

// CreateUser создаёт пользователя с постоянным паролем (username = email)
// и возвращает его ID из Location.
func (c *Client) CreateUser(ctx context.Context, name, email, password string) (string, error) {
	resp, err := c.call(ctx, http.MethodPost, "/users", userCreateRequest{
		Username:  email,
		Email:     email,
		FirstName: name,
		Enabled:   true,
		Credentials: []credentialRepresentation{
			{Type: "password", Value: password},
		},
		Attributes: map[string][]string{"managed_by": {"portal-api"}},
	}, nil)

	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr) && apiErr.status == http.StatusConflict:
		return "", ErrUserExists
	case errors.As(err, &apiErr) && apiErr.status == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s", ErrInvalidUser, apiErr.body)
	case err != nil:
		return "", fmt.Errorf("создание пользователя: %w", err)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.New("создание пользователя: в ответе нет Location")
	}
	id := path.Base(strings.TrimRight(location, "/"))
	c.logger.Debug("Пользователь создан в Keycloak", slog.String("email", email), slog.String("id", id))
	return id, nil
}

// DeleteUser удаляет пользователя по ID.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("удаление пользователя %s: %w", id, err)
	}
	return nil
}

// FindUserByEmail ищет пользователя по точному email; nil — не найден.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*KeycloakUser, error) {
	q := url.Values{"exact": {"true"}, "email": {email}}
	var users []KeycloakUser
	if _, err := c.call(ctx, http.MethodGet, "/users?"+q.Encode(), nil, &users); err != nil {
		return nil, fmt.Errorf("поиск пользователя: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// RealmInfo возвращает краткое описание realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	var realm RealmRepresentation
	if _, err := c.call(ctx, http.MethodGet, "", nil, &realm); err != nil {
		return nil, fmt.Errorf("realm %s: %w", c.realm, err)
	}
	return &realm, nil
}

// CheckReady — готовность для /health/ready: realm доступен и включён.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	switch {
	case err != nil:
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	case !realm.Enabled:
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}
	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
