package domain

import "time"

// AuthSource records which identity system owns an account.
type AuthSource string

const (
	AuthSourceLocal    AuthSource = "local"
	AuthSourceKeycloak AuthSource = "keycloak"
)

// UserProfile is the account entity a credential or external identity
// authenticates. ID is the store's own key; ExternalID is the stable
// identifier carried in session tokens.
type UserProfile struct {
	ID                 string
	AuthSource         AuthSource
	Role               Role
	ExternalID         string
	RegistrationNumber string
	Name               string
	Email              string
	Phone              string
	Department         string
	Branch             string
	Semester           string
	GraduationYear     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PublicID returns the identifier shown to clients.
func (p *UserProfile) PublicID() string {
	if p.RegistrationNumber != "" {
		return p.RegistrationNumber
	}
	return p.ExternalID
}
