// Пакет errors — ответы Portal API с ошибкой.
//
//	{"success": false, "message": "...", "error": {"code": "...", "message": "..."}}
//
// success и message читает веб-клиент, error.code — машиночитаемый код.
// HTTP-статус однозначно определяется кодом.
package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Code — машиночитаемый код ошибки из OpenAPI-контракта.
type Code string

const (
	CodeValidationError Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeConflict        Code = "CONFLICT"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeIDPUnavailable  Code = "IDP_UNAVAILABLE"
	CodeInternalError   Code = "INTERNAL_ERROR"
)

var statuses = map[Code]int{
	CodeValidationError: http.StatusBadRequest,
	CodeNotFound:        http.StatusNotFound,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeConflict:        http.StatusConflict,
	CodeRateLimited:     http.StatusTooManyRequests,
	CodeIDPUnavailable:  http.StatusBadGateway,
	CodeInternalError:   http.StatusInternalServerError,
}

// Status — HTTP-статус кода; неизвестный код — 500.
func (c Code) Status() int {
	if s, ok := statuses[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Response — тело ответа с ошибкой. Его же разбирает portalclient.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   Detail `json:"error"`
}

// Detail — вложенный объект error.
type Detail struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Write записывает ответ с ошибкой; статус берётся из кода.
func Write(w http.ResponseWriter, code Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.Status())
	_ = json.NewEncoder(w).Encode(Response{
		Message: message,
		Error:   Detail{Code: code, Message: message},
	})
}

func ValidationError(w http.ResponseWriter, message string) { Write(w, CodeValidationError, message) }
func NotFound(w http.ResponseWriter, message string)        { Write(w, CodeNotFound, message) }
func Unauthorized(w http.ResponseWriter, message string)    { Write(w, CodeUnauthorized, message) }
func Forbidden(w http.ResponseWriter, message string)       { Write(w, CodeForbidden, message) }
func Conflict(w http.ResponseWriter, message string)        { Write(w, CodeConflict, message) }
func IDPUnavailable(w http.ResponseWriter, message string)  { Write(w, CodeIDPUnavailable, message) }
func InternalError(w http.ResponseWriter, message string)   { Write(w, CodeInternalError, message) }

// RateLimited — 429 с Retry-After в секундах.
func RateLimited(w http.ResponseWriter, retryAfter int, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	Write(w, CodeRateLimited, message)
}
