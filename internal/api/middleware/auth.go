// auth.go — JWT middleware Portal API.
// Валидирует Bearer token Keycloak по JWKS, извлекает email/name и
// определяет роль по реестру пользователей (не по claims токена).
package middleware

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/Pullock4981/diu-transport-client/internal/api/errors"
	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/service"
)

type contextKey string

// ContextKeyCaller — service.Caller в контексте запроса.
const ContextKeyCaller contextKey = "caller"

// RoleResolver возвращает авторитетную роль по email.
// emailVerified разрешает bootstrap-роль для адреса вне реестра.
// Реализуется service.UserService.
type RoleResolver interface {
	RoleOf(ctx context.Context, email string, emailVerified bool) (string, error)
}

// portalClaims — claims ID/access token Keycloak, нужные порталу.
type portalClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// JWTAuth — middleware JWT-аутентификации.
type JWTAuth struct {
	jwks     keyfunc.Keyfunc
	roles    RoleResolver
	issuer   string
	audience string
	leeway   time.Duration
	logger   *slog.Logger
}

// JWTOptions — параметры проверки токена.
type JWTOptions struct {
	JWKSURL         string
	Issuer          string
	Audience        string // пусто — aud не проверяется
	RefreshInterval time.Duration
	Leeway          time.Duration
	TLSSkipVerify   bool
}

// NewJWTAuth создаёт middleware с JWKS Keycloak и фоновым обновлением ключей.
func NewJWTAuth(opts JWTOptions, roles RoleResolver, logger *slog.Logger) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	if opts.TLSSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // только dev-среда
		}
	}
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}

	// Стартуем даже если Keycloak ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(opts.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", opts.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	a := NewJWTAuthWithKeyfunc(k, opts.Issuer, opts.Audience, roles, logger)
	a.leeway = opts.Leeway
	return a, nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовой keyfunc (mock JWKS в тестах).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer, audience string, roles RoleResolver, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:     kf,
		roles:    roles,
		issuer:   issuer,
		audience: audience,
		leeway:   30 * time.Second,
		logger:   logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware: Bearer → проверка RS256 →
// email из claims → роль из реестра → service.Caller в контексте.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				apierrors.Unauthorized(w, "Требуется заголовок Authorization: Bearer <token>")
				return
			}

			claims := &portalClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}
			if j.audience != "" {
				parserOpts = append(parserOpts, jwt.WithAudience(j.audience))
			}

			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			email := strings.ToLower(strings.TrimSpace(claims.Email))
			if email == "" {
				apierrors.Unauthorized(w, "В токене отсутствует email")
				return
			}

			role, err := j.roles.RoleOf(r.Context(), email, claims.EmailVerified)
			if err != nil {
				// Без реестра — минимальные права.
				j.logger.Warn("Роль не получена, используется user",
					slog.String("email", email),
					slog.String("error", err.Error()),
				)
				role = rbac.RoleUser
			}

			name := claims.Name
			if name == "" {
				name = claims.PreferredUsername
			}
			caller := service.Caller{
				Email:         email,
				Name:          name,
				Role:          rbac.Normalize(role),
				EmailVerified: claims.EmailVerified,
			}
			annotateCaller(r.Context(), caller.Email, caller.Role)
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// RequireAdmin пропускает только вызывающих с ролью admin.
// Используется после JWTAuth.Middleware().
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			apierrors.Unauthorized(w, "Отсутствует аутентифицированный пользователь")
			return
		}
		if !caller.IsAdmin() {
			apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Context helpers ---

// WithCaller помещает вызывающего в контекст.
func WithCaller(ctx context.Context, c service.Caller) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, c)
}

// CallerFromContext извлекает вызывающего из контекста.
func CallerFromContext(ctx context.Context) (service.Caller, bool) {
	c, ok := ctx.Value(ContextKeyCaller).(service.Caller)
	return c, ok
}
