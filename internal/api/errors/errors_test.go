package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError_Envelope(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
		code   Code
	}{
		{"validation", ValidationError, http.StatusBadRequest, CodeValidationError},
		{"not found", NotFound, http.StatusNotFound, CodeNotFound},
		{"unauthorized", Unauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{"forbidden", Forbidden, http.StatusForbidden, CodeForbidden},
		{"conflict", Conflict, http.StatusConflict, CodeConflict},
		{"rate limited", func(w http.ResponseWriter, m string) { RateLimited(w, 5, m) }, http.StatusTooManyRequests, CodeRateLimited},
		{"idp", IDPUnavailable, http.StatusBadGateway, CodeIDPUnavailable},
		{"internal", InternalError, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec, "что-то пошло не так")

			if rec.Code != tt.status {
				t.Errorf("status = %d, ожидается %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body struct {
				Success *bool  `json:"success"`
				Message string `json:"message"`
				Error   struct {
					Code    Code   `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("декодирование: %v", err)
			}
			if body.Success == nil || *body.Success {
				t.Error("success должен быть false")
			}
			if body.Message != "что-то пошло не так" || body.Error.Message != body.Message {
				t.Errorf("message = %q / %q", body.Message, body.Error.Message)
			}
			if body.Error.Code != tt.code {
				t.Errorf("code = %q, ожидается %q", body.Error.Code, tt.code)
			}
		})
	}
}

func TestCode_Status(t *testing.T) {
	if got := Code("SOMETHING_NEW").Status(); got != http.StatusInternalServerError {
		t.Errorf("неизвестный код: статус = %d, ожидается 500", got)
	}
	if got := CodeIDPUnavailable.Status(); got != http.StatusBadGateway {
		t.Errorf("IDP_UNAVAILABLE: статус = %d, ожидается 502", got)
	}
}

func TestRateLimited_RetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	RateLimited(rec, 7, "подождите")
	if got := rec.Header().Get("Retry-After"); got != "7" {
		t.Errorf("Retry-After = %q, ожидается 7", got)
	}
}
