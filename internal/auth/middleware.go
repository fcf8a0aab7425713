package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/project-portal/internal/domain"
	"github.com/spec-kit/project-portal/internal/repository"
	apperrors "github.com/spec-kit/project-portal/pkg/util"
)

// Cookie names shared by the login handlers and the middleware.
const (
	SessionCookieName = "app_session"
	IDTokenCookieName = "kc_id_token"
)

type identityKey struct{}

// AuthMiddleware validates session tokens and attaches the caller identity.
type AuthMiddleware struct {
	tokens   *TokenManager
	profiles repository.ProfileRepository
	logger   *zap.Logger
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, profiles repository.ProfileRepository, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, profiles: profiles, logger: logger}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw := tokenFromRequest(c)
	if raw == "" {
		return apperrors.NewUnauthorized("authentication required")
	}

	claims, err := m.tokens.Verify(raw)
	if err != nil || claims.Role == "" {
		return apperrors.NewUnauthorized("invalid or expired session")
	}

	identity, ok := m.resolve(c, claims)
	if !ok {
		return apperrors.NewUnauthorized("unknown account")
	}

	WithIdentity(c, identity)
	return c.Next()
}

// resolve prefers the stored profile so edits apply without a new login,
// and falls back to the token's own claims for provider-only identities.
func (m *AuthMiddleware) resolve(c *fiber.Ctx, claims *SessionClaims) (domain.Identity, bool) {
	if claims.SubjectID != "" && m.profiles != nil {
		profile, err := m.profiles.GetByExternalID(c.UserContext(), claims.SubjectID)
		switch {
		case err == nil:
			identity := domain.IdentityFromProfile(profile)
			if identity.Source == "" {
				identity.Source = claims.Source
			}
			return identity, true
		case !errors.Is(err, repository.ErrNotFound):
			m.logger.Warn("profile lookup failed, using token claims",
				zap.String("subject", claims.SubjectID),
				zap.Error(err),
			)
		}
	}

	if claims.SubjectID == "" || claims.Name == "" {
		return domain.Identity{}, false
	}
	return claims.Identity(), true
}

func tokenFromRequest(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	return c.Cookies(SessionCookieName)
}

// WithIdentity attaches identity to the request.
func WithIdentity(c *fiber.Ctx, identity domain.Identity) {
	c.Locals(identityKey{}, &identity)
}

// IdentityFromContext retrieves the authenticated caller.
func IdentityFromContext(c *fiber.Ctx) (*domain.Identity, bool) {
	identity, ok := c.Locals(identityKey{}).(*domain.Identity)
	return identity, ok && identity != nil
}
