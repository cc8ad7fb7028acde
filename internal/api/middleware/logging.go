// logging.go — журнал HTTP-запросов Portal API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type requestInfoKey struct{}

// requestInfo дополняется обработчиками ниже по цепочке
// (JWT-аутентификация записывает вызывающего).
type requestInfo struct {
	caller string
	role   string
}

// annotateCaller записывает вызывающего в запись журнала запроса.
func annotateCaller(ctx context.Context, email, role string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.caller = email
		info.role = role
	}
}

// RequestLogger пишет одну запись на запрос. Пробы /health/* — на DEBUG,
// 4xx — WARN, 5xx — ERROR. Ожидает chi RequestID выше по цепочке.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &requestInfo{}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []slog.Attr{
				slog.String("request_id", chimw.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
			}
			if info.caller != "" {
				attrs = append(attrs, slog.String("caller", info.caller), slog.String("role", info.role))
			}
			logger.LogAttrs(r.Context(), requestLevel(r.URL.Path, status), "HTTP запрос", attrs...)
		})
	}
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case strings.HasPrefix(path, "/health/"):
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
