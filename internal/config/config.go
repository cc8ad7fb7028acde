// Пакет config — конфигурация Portal API из переменных окружения TP_*.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config — параметры Portal API.
type Config struct {
	// --- Сервер ---

	Port      int
	LogLevel  slog.Level
	LogFormat string // json | text
	// Разрешённые CORS origins веб-клиента
	CORSOrigins []string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// disable, require, verify-ca, verify-full
	DBSSLMode  string
	DBMaxConns int
	// Сколько ждать PostgreSQL при старте (docker compose поднимает его параллельно)
	DBStartupWait time.Duration

	// --- Keycloak ---

	// Корень Keycloak без завершающего "/", например https://sso.diu.edu.bd
	KeycloakURL   string
	KeycloakRealm string
	// Сервисный клиент с правом manage-users (регистрация)
	KeycloakClientID     string
	KeycloakClientSecret string
	// Только dev-среда
	KeycloakTLSSkipVerify bool

	// --- JWT ---

	// Пустые значения выводятся из KeycloakURL и realm
	JWTIssuer  string
	JWTJWKSURL string
	// Пусто — aud не проверяется
	JWTAudience string

	// --- Роли ---

	// Получают admin при первой записи в реестр
	AdminEmails   []string
	RoleCacheTTL  time.Duration
	RoleCacheSize int

	// --- Регистрация ---

	// Запросов /auth/register в секунду с одного IP
	RegisterRate  float64
	RegisterBurst int

	// Заполнять пустую таблицу расписаний маршрутами по умолчанию
	SeedSchedules bool

	// --- Зависимости (topologymetrics) ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	ShutdownTimeout time.Duration
}

// Load читает конфигурацию из окружения процесса. Ошибки по всем
// переменным возвращаются одним errors.Join.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	env := &envReader{lookup: lookup}
	cfg := &Config{}

	cfg.Port = env.integer("TP_PORT", 5000, 1, 65535)
	cfg.LogLevel = env.logLevel("TP_LOG_LEVEL", "info")
	cfg.LogFormat = env.oneOf("TP_LOG_FORMAT", "json", "json", "text")
	cfg.CORSOrigins = parseCSV(env.str("TP_CORS_ORIGINS", "http://localhost:5173"))

	cfg.DBHost = env.required("TP_DB_HOST")
	cfg.DBPort = env.integer("TP_DB_PORT", 5432, 1, 65535)
	cfg.DBName = env.required("TP_DB_NAME")
	cfg.DBUser = env.required("TP_DB_USER")
	cfg.DBPassword = env.required("TP_DB_PASSWORD")
	cfg.DBSSLMode = env.oneOf("TP_DB_SSL_MODE", "disable", "disable", "require", "verify-ca", "verify-full")
	cfg.DBMaxConns = env.integer("TP_DB_MAX_CONNS", 10, 1, 1000)
	cfg.DBStartupWait = env.duration("TP_DB_STARTUP_WAIT", 30*time.Second)

	cfg.KeycloakURL = strings.TrimRight(env.required("TP_KEYCLOAK_URL"), "/")
	cfg.KeycloakRealm = env.str("TP_KEYCLOAK_REALM", "diu")
	cfg.KeycloakClientID = env.required("TP_KEYCLOAK_CLIENT_ID")
	cfg.KeycloakClientSecret = env.required("TP_KEYCLOAK_CLIENT_SECRET")
	cfg.KeycloakTLSSkipVerify = env.boolean("TP_KEYCLOAK_TLS_SKIP_VERIFY", false)

	realmURL := cfg.KeycloakURL + "/realms/" + cfg.KeycloakRealm
	cfg.JWTIssuer = env.str("TP_JWT_ISSUER", realmURL)
	cfg.JWTJWKSURL = env.str("TP_JWT_JWKS_URL", realmURL+"/protocol/openid-connect/certs")
	cfg.JWTAudience = env.str("TP_JWT_AUDIENCE", "")

	cfg.AdminEmails = parseCSV(strings.ToLower(env.str("TP_ADMIN_EMAILS", "")))
	cfg.RoleCacheTTL = env.duration("TP_ROLE_CACHE_TTL", 30*time.Second)
	cfg.RoleCacheSize = env.integer("TP_ROLE_CACHE_SIZE", 1024, 1, 1<<20)

	cfg.RegisterRate = env.positive("TP_REGISTER_RATE", 0.2)
	cfg.RegisterBurst = env.integer("TP_REGISTER_BURST", 3, 1, 1000)

	cfg.SeedSchedules = env.boolean("TP_SEED_SCHEDULES", true)

	cfg.DephealthGroup = env.str("TP_DEPHEALTH_GROUP", "diu-transport")
	cfg.DephealthCheckInterval = env.duration("TP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)

	cfg.ShutdownTimeout = env.duration("TP_SHUTDOWN_TIMEOUT", 5*time.Second)

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatabaseDSN — строка подключения pgx.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL — URL без учётных данных, для логов и лейблов метрик.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL — URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger создаёт логгер процесса в stdout и делает его логгером по умолчанию.
func SetupLogger(cfg *Config) *slog.Logger {
	logger := NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	return logger
}

// NewLogger — slog с JSON- или текстовым обработчиком.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLogLevel разбирает debug, info, warn (warning), error.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
}

// envReader читает переменные и копит ошибки, чтобы сообщить обо всех сразу.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) fail(key, format string, args ...any) {
	r.errs = append(r.errs, fmt.Errorf("%s: "+format, append([]any{key}, args...)...))
}

// raw — значение без пробелов; пустая строка равна отсутствию.
func (r *envReader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *envReader) required(key string) string {
	v, ok := r.raw(key)
	if !ok {
		r.fail(key, "обязательная переменная окружения не задана")
	}
	return v
}

func (r *envReader) oneOf(key, def string, allowed ...string) string {
	v := r.str(key, def)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	r.fail(key, "недопустимое значение %q, допустимые: %s", v, strings.Join(allowed, ", "))
	return def
}

func (r *envReader) integer(key string, def, lo, hi int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	switch {
	case err != nil:
		r.fail(key, "некорректное целое число %q", v)
		return def
	case n < lo || n > hi:
		r.fail(key, "значение %d вне диапазона %d-%d", n, lo, hi)
		return def
	}
	return n
}

func (r *envReader) positive(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		r.fail(key, "ожидается положительное число, получено %q", v)
		return def
	}
	return f
}

func (r *envReader) boolean(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, "некорректное булево значение %q", v)
		return def
	}
	return b
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.fail(key, "некорректная длительность %q (формат Go: 30s, 15m, 1h)", v)
		return def
	}
	return d
}

func (r *envReader) logLevel(key, def string) slog.Level {
	level, err := ParseLogLevel(r.str(key, def))
	if err != nil {
		r.fail(key, "%v", err)
	}
	return level
}

// parseCSV разбивает список через запятую, пропуская пустые элементы.
func parseCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
