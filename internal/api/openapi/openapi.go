// Пакет openapi — встроенный OpenAPI контракт API IRT и валидация запросов по нему.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/irt/internal/api/errors"
)

//go:embed openapi.yaml
var spec []byte

// Raw возвращает исходный YAML контракта.
func Raw() []byte {
	return spec
}

// Load разбирает и проверяет встроенный контракт.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("разбор openapi.yaml: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("проверка openapi.yaml: %w", err)
	}
	return doc, nil
}

// RequestValidator возвращает middleware, проверяющий параметры и тело
// запроса по контракту. Пути вне контракта пропускаются без проверки.
// Аутентификация проверяется JWT middleware, а не валидатором.
func RequestValidator(doc *openapi3.T, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("построение роутера openapi: %w", err)
	}

	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				if !errors.Is(err, routers.ErrPathNotFound) && !errors.Is(err, routers.ErrMethodNotAllowed) {
					logger.Debug("Маршрут не найден в контракте",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				apierrors.ValidationError(w, validationMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

// validationMessage сокращает ошибку kin-openapi до первой строки.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	return "Запрос не соответствует контракту: " + msg
}
