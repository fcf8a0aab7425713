package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/spec-kit/project-portal/internal/domain"
)

// DefaultSessionTTL is used when no positive TTL is configured.
const DefaultSessionTTL = 8 * time.Hour

// TokenManager handles issuing and validating session tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewTokenManager builds a new manager. A nil clock uses wall time.
func NewTokenManager(secret string, ttl time.Duration, clock clockwork.Clock) *TokenManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, clock: clock}
}

// SessionClaims describes the session token payload.
type SessionClaims struct {
	Role               domain.Role       `json:"role"`
	Source             domain.AuthSource `json:"source"`
	SubjectID          string            `json:"id,omitempty"`
	RegistrationNumber string            `json:"registrationNumber,omitempty"`
	Name               string            `json:"name,omitempty"`
	Email              string            `json:"email,omitempty"`
	Department         string            `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the embedded claims into a request identity.
func (c *SessionClaims) Identity() domain.Identity {
	return domain.Identity{
		ID:                 c.SubjectID,
		RegistrationNumber: c.RegistrationNumber,
		Role:               c.Role,
		Source:             c.Source,
		Name:               c.Name,
		Email:              c.Email,
		Department:         c.Department,
	}
}

// Issue builds and signs a session token for the identity. A ttl <= 0
// falls back to the manager default.
func (tm *TokenManager) Issue(identity domain.Identity, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = tm.ttl
	}
	now := tm.clock.Now()
	expiresAt := now.Add(ttl)

	claims := &SessionClaims{
		Role:               identity.Role,
		Source:             identity.Source,
		SubjectID:          identity.ID,
		RegistrationNumber: identity.RegistrationNumber,
		Name:               identity.Name,
		Email:              identity.Email,
		Department:         identity.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return tokenString, claims.ExpiresAt.Time, nil
}

// Verify validates the token and returns its claims. Every failure,
// including expiry, is reported as ErrInvalidToken.
func (tm *TokenManager) Verify(tokenStr string) (*SessionClaims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if typ, _ := token.Header["typ"].(string); typ != "JWT" {
			return nil, errors.New("unexpected token type")
		}
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TTL returns the default session lifetime.
func (tm *TokenManager) TTL() time.Duration {
	return tm.ttl
}
