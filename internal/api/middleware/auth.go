// auth.go — JWT middleware для аутентификации и авторизации API IRT.
// Проверяет подпись Keycloak JWT через JWKS, помещает claims в контекст,
// загружает профиль вызывающего и проверяет права его роли.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"

	apierrors "github.com/bigkaa/irt/internal/api/errors"
	"github.com/bigkaa/irt/internal/domain/model"
	"github.com/bigkaa/irt/internal/domain/policy"
	"github.com/bigkaa/irt/internal/identity"
	"github.com/bigkaa/irt/internal/service"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — проверенные claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
	// ContextKeyProfile — профиль вызывающего.
	ContextKeyProfile contextKey = "profile"
)

// AuthClaims — проверенные claims Keycloak JWT.
type AuthClaims struct {
	// Subject — sub из JWT (Keycloak user ID), он же ID профиля.
	Subject string
	// Session — сессия, построенная по claims: email и metadata для самосоздания профиля.
	Session model.Session
}

// JWTAuth — middleware для JWT-аутентификации через JWKS Keycloak.
type JWTAuth struct {
	parser *identity.ClaimsParser
	logger *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS из Keycloak.
// jwksURL — URL к JWKS endpoint Keycloak.
// issuer — ожидаемый issuer JWT (https://keycloak/realms/irt).
// jwksRefreshInterval — интервал обновления JWKS-ключей.
// jwtLeeway — допустимое отклонение времени при проверке JWT.
func NewJWTAuth(
	jwksURL string,
	issuer string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если Keycloak ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, issuer, jwtLeeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		parser: identity.NewClaimsParser(kf, issuer, jwtLeeway),
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), срок действия и issuer.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			claims, err := j.parser.Parse(r.Context(), tokenString)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := WithClaims(r.Context(), &AuthClaims{
				Subject: claims.Subject,
				Session: claims.Session(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProfileGetter — чтение профиля по subject. Реализуется service.ProfileService.
type ProfileGetter interface {
	Get(ctx context.Context, id string) (*model.User, error)
}

// RequireProfile загружает профиль вызывающего и помещает его в контекст.
// Нет профиля — 404 PROFILE_NOT_FOUND: клиент должен создать его через POST /api/v1/me.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireProfile(profiles ProfileGetter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			u, err := profiles.Get(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, service.ErrNotFound) {
					apierrors.ProfileNotFound(w, "Профиль не найден, создайте его через POST /api/v1/me")
					return
				}
				logger.Error("Ошибка загрузки профиля",
					slog.String("user_id", claims.Subject),
					slog.String("error", err.Error()),
				)
				apierrors.PersistenceError(w, "Ошибка загрузки профиля")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), u)))
		})
	}
}

// RequireCapability возвращает middleware, требующий право роли.
// name — название права для сообщения об ошибке.
// Должен использоваться ПОСЛЕ RequireProfile().
func RequireCapability(name string, has func(policy.Capabilities) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := ProfileFromContext(r.Context())
			if u == nil {
				apierrors.Unauthorized(w, "Отсутствует профиль в контексте")
				return
			}
			if !has(policy.CapabilitiesOf(u.Role)) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется %s", name))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// WithClaims помещает claims в контекст.
func WithClaims(ctx context.Context, c *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, c)
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если claims не найдены.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// WithProfile помещает профиль в контекст.
func WithProfile(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, ContextKeyProfile, u)
}

// ProfileFromContext извлекает профиль вызывающего. nil, если не загружен.
func ProfileFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(ContextKeyProfile).(*model.User)
	return u
}
