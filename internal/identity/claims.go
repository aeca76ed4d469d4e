package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/irt/internal/domain/model"
)

// Claims — claims access token Keycloak, которые использует IRT.
// irt_role, siren и address — атрибуты пользователя, выведенные в токен
// protocol mapper'ами realm.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name,omitempty"`
	Role              string `json:"irt_role,omitempty"`
	SIREN             string `json:"siren,omitempty"`
	Address           string `json:"address,omitempty"`
}

// Session преобразует claims в сессию.
func (c *Claims) Session() model.Session {
	email := c.Email
	if email == "" {
		email = c.PreferredUsername
	}
	s := model.Session{
		SubjectID: c.Subject,
		Email:     email,
		Metadata: model.SessionMetadata{
			Name:    c.Name,
			Role:    c.Role,
			SIREN:   c.SIREN,
			Address: c.Address,
		},
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

// ClaimsParser разбирает и проверяет access token.
type ClaimsParser struct {
	jwks   keyfunc.Keyfunc
	issuer string
	leeway time.Duration
}

// NewClaimsParser создаёт парсер. При jwks == nil подпись не проверяется:
// так CLI читает собственный токен, полученный напрямую от Keycloak.
func NewClaimsParser(jwks keyfunc.Keyfunc, issuer string, leeway time.Duration) *ClaimsParser {
	return &ClaimsParser{jwks: jwks, issuer: issuer, leeway: leeway}
}

// Parse разбирает токен и проверяет подпись, срок действия и issuer.
func (p *ClaimsParser) Parse(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}

	if p.jwks == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("ошибка разбора токена: %w", err)
		}
		if p.issuer != "" && claims.Issuer != p.issuer {
			return nil, fmt.Errorf("неожиданный issuer %q", claims.Issuer)
		}
	} else {
		opts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(p.leeway),
		}
		if p.issuer != "" {
			opts = append(opts, jwt.WithIssuer(p.issuer))
		}
		parsed, err := jwt.ParseWithClaims(token, claims, p.jwks.KeyfuncCtx(ctx), opts...)
		if err != nil {
			return nil, fmt.Errorf("токен не прошёл проверку: %w", err)
		}
		if !parsed.Valid {
			return nil, errors.New("невалидный токен")
		}
	}

	if claims.Subject == "" {
		return nil, errors.New("отсутствует sub в токене")
	}
	return claims, nil
}
