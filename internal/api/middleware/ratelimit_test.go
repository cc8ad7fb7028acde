package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestRateLimiter_Burst — после исчерпания burst запросы отклоняются.
func TestRateLimiter_Burst(t *testing.T) {
	l := NewRateLimiter(0.001, 3)

	for i := range 3 {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("запрос %d отклонён, ожидается пропуск", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("4-й запрос пропущен, ожидается отказ")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("другой IP должен иметь собственный лимит")
	}
}

// TestRateLimiter_Middleware — 429 с Retry-After.
func TestRateLimiter_Middleware(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
		req.RemoteAddr = "192.0.2.10:52311"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusCreated {
		t.Fatalf("первый запрос: статус = %d, ожидается 201", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("второй запрос: статус = %d, ожидается 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("ожидается заголовок Retry-After")
	}
}

// TestClientIP проверяет определение адреса клиента.
func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"RemoteAddr", "192.0.2.1:1234", "", "192.0.2.1"},
		{"X-Forwarded-For", "10.0.0.1:1234", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"мусор в X-Forwarded-For", "10.0.0.1:1234", "unknown", "10.0.0.1"},
		{"RemoteAddr без порта", "192.0.2.5", "", "192.0.2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, ожидается %q", got, tt.want)
			}
		})
	}
}
