// Пакет openapi — встроенный OpenAPI-контракт Portal API и middleware
// валидации запросов по нему (kin-openapi).
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/Pullock4981/diu-transport-client/internal/api/errors"
)

//go:embed openapi.yaml
var document []byte

// Document возвращает встроенный OpenAPI-документ (YAML).
func Document() []byte {
	return document
}

// Validator проверяет параметры и тела запросов по контракту.
type Validator struct {
	doc    *openapi3.T
	router routers.Router
}

// NewValidator загружает и валидирует встроенный контракт.
func NewValidator() (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("загрузка OpenAPI: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("невалидный OpenAPI: %w", err)
	}
	// Без servers маршрутизатор сопоставляет путь с любым хостом.
	doc.Servers = nil

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("маршрутизатор OpenAPI: %w", err)
	}
	return &Validator{doc: doc, router: router}, nil
}

// Operations возвращает число операций контракта.
func (v *Validator) Operations() int {
	n := 0
	for _, item := range v.doc.Paths.Map() {
		n += len(item.Operations())
	}
	return n
}

// Middleware отвечает 400 VALIDATION_ERROR на запрос, нарушающий контракт.
// Пути вне контракта пропускаются дальше (404/405 отдаёт chi).
// Аутентификация проверяется JWT middleware, здесь — нет.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	opts := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options:    opts,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			apierrors.ValidationError(w, validationMessage(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validationMessage — краткое описание нарушения контракта.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.Parameter != nil:
			return fmt.Sprintf("параметр %q: %s", reqErr.Parameter.Name, reqErrReason(reqErr))
		case reqErr.RequestBody != nil:
			return "тело запроса: " + reqErrReason(reqErr)
		}
	}
	return err.Error()
}

func reqErrReason(e *openapi3filter.RequestError) string {
	if e.Err != nil {
		var schemaErr *openapi3.SchemaError
		if errors.As(e.Err, &schemaErr) {
			return schemaErr.Reason
		}
		return e.Err.Error()
	}
	return e.Reason
}
