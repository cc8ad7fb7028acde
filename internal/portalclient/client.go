// Пакет portalclient — HTTP-клиент Portal API для CLI.
// Поддерживает TLS с кастомным CA, Bearer-токен из oauth2.TokenSource
// и ограничение частоты запросов.
package portalclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	apierrors "github.com/Pullock4981/diu-transport-client/internal/api/errors"
)

// ErrNotSuccess — ответ 2xx с success=false либо без ожидаемых данных.
var ErrNotSuccess = errors.New("Portal API вернул success=false")

// StatusError — ответ Portal API со статусом >= 400.
type StatusError struct {
	StatusCode int
	// Code — error.code из тела (VALIDATION_ERROR, FORBIDDEN, ...)
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("Portal API вернул статус %d", e.StatusCode)
	}
	return fmt.Sprintf("Portal API вернул статус %d: %s", e.StatusCode, e.Message)
}

// IsStatus проверяет, что err — StatusError с указанным статусом.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == status
}

// Options — параметры клиента.
type Options struct {
	BaseURL string
	// CACertPath — CA-сертификат для TLS (пустая строка — стандартный пул)
	CACertPath    string
	TLSSkipVerify bool
	// Tokens — источник access token (nil — запросы без авторизации)
	Tokens oauth2.TokenSource
	// RequestsPerSecond — 0 отключает ограничение
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client — клиент Portal API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New создаёт клиент Portal API.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("не задан URL Portal API")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	if opts.CACertPath != "" || opts.TLSSkipVerify {
		tlsConfig, err := buildTLSConfig(opts.CACertPath, opts.TLSSkipVerify)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := max(opts.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		tokens:     opts.Tokens,
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "portal_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string, skipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: skipVerify} //nolint:gosec // только dev-среда
	if caCertPath == "" {
		return cfg, nil
	}

	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}
	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("%s: PEM-сертификаты не найдены", caCertPath)
	}
	cfg.RootCAs = caCertPool
	return cfg, nil
}

// result — ответ мутаций.
type result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	InsertedID string `json:"insertedId"`
}

// do выполняет запрос. body и out могут быть nil; authorized — добавить Bearer.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authorized bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ожидание лимита запросов: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("сериализация тела %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authorized && c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("получение токена: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации CLI
	if err != nil {
		return fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Запрос к Portal API",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		se := &StatusError{StatusCode: resp.StatusCode}
		var eb apierrors.Response
		if json.Unmarshal(raw, &eb) == nil {
			se.Code = string(eb.Error.Code)
			se.Message = eb.Message
			if se.Message == "" {
				se.Message = eb.Error.Message
			}
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s %s: %w", method, path, err)
	}
	return nil
}

// mutate выполняет мутацию и проверяет success.
func (c *Client) mutate(ctx context.Context, method, path string, body any) (*result, error) {
	var res result
	if err := c.do(ctx, method, path, body, &res, true); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrNotSuccess, res.Message)
	}
	return &res, nil
}
