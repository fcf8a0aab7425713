package keycloak

import (
	"fmt"
	"strconv"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/project-portal/internal/domain"
)

// Realm role names recognised by the portal.
const (
	RealmRoleMasterAdmin        = "master-admin"
	RealmRoleFacultyCoordinator = "faculty-coordinator"
	RealmRoleFaculty            = "faculty"
)

// Claims is the decoded payload of a provider token.
type Claims jwt.MapClaims

// DecodeClaims reads a token payload without verifying its signature. The
// token arrives directly from the provider's token endpoint over the
// back channel.
func DecodeClaims(token string) (Claims, bool) {
	if token == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return Claims(claims), true
}

// RealmRoles returns realm_access.roles.
func (c Claims) RealmRoles() []string {
	access, ok := c["realm_access"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := access["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

// MapRole picks the highest-priority recognised realm role. An identity
// with none of them is a Student.
func MapRole(roles []string) domain.Role {
	has := make(map[string]bool, len(roles))
	for _, r := range roles {
		has[r] = true
	}
	switch {
	case has[RealmRoleMasterAdmin]:
		return domain.RoleMasterAdmin
	case has[RealmRoleFacultyCoordinator]:
		return domain.RoleFacultyCoordinator
	case has[RealmRoleFaculty]:
		return domain.RoleFaculty
	default:
		return domain.RoleStudent
	}
}

// ProfileFromTokens builds the local mirror of a provider identity. Profile
// fields come from the id token when present; roles come from the access
// token, where Keycloak places realm_access.
func ProfileFromTokens(tokens *TokenSet) (*domain.UserProfile, error) {
	access, hasAccess := DecodeClaims(tokens.AccessToken)
	id, hasID := DecodeClaims(tokens.IDToken)

	claims := id
	if !hasID {
		claims = access
	}
	if !hasID && !hasAccess {
		return nil, fmt.Errorf("%w: unable to decode provider token", ErrUpstreamExchangeFailed)
	}

	roleSource := access
	if !hasAccess {
		roleSource = claims
	}

	profile := ProfileFromClaims(claims, MapRole(roleSource.RealmRoles()))
	if profile.ExternalID == "" {
		return nil, fmt.Errorf("%w: provider token has no subject", ErrUpstreamExchangeFailed)
	}
	return profile, nil
}

// ProfileFromClaims maps provider claims onto a profile with the given role.
func ProfileFromClaims(c Claims, role domain.Role) *domain.UserProfile {
	sub := c.str("sub")
	return &domain.UserProfile{
		AuthSource:         domain.AuthSourceKeycloak,
		Role:               role,
		ExternalID:         sub,
		RegistrationNumber: firstNonEmpty(c.str("registration_number"), c.str("registrationNumber"), c.str("preferred_username"), sub),
		Name:               firstNonEmpty(c.str("name"), c.str("preferred_username"), "User"),
		Email:              c.str("email"),
		Phone:              c.str("phone_number"),
		Department:         c.str("department"),
		Branch:             c.str("branch"),
		Semester:           c.str("semester"),
		GraduationYear:     c.str("graduationYear"),
	}
}

// str renders scalar claims as strings. Custom attributes such as semester
// may arrive as JSON numbers.
func (c Claims) str(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
