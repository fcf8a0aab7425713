package domain

// Identity is the caller attached to an authenticated request and the
// payload embedded in a session token.
type Identity struct {
	ID                 string     `json:"id"`
	RegistrationNumber string     `json:"registrationNumber,omitempty"`
	Role               Role       `json:"role"`
	Source             AuthSource `json:"source"`
	Name               string     `json:"name"`
	Email              string     `json:"email,omitempty"`
	Department         string     `json:"department,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	Branch             string     `json:"branch,omitempty"`
	Semester           string     `json:"semester,omitempty"`
	GraduationYear     string     `json:"graduationYear,omitempty"`
}

// IdentityFromProfile builds the request identity from a stored profile.
func IdentityFromProfile(p *UserProfile) Identity {
	return Identity{
		ID:                 p.ExternalID,
		RegistrationNumber: p.PublicID(),
		Role:               p.Role,
		Source:             p.AuthSource,
		Name:               p.Name,
		Email:              p.Email,
		Department:         p.Department,
		Phone:              p.Phone,
		Branch:             p.Branch,
		Semester:           p.Semester,
		GraduationYear:     p.GraduationYear,
	}
}
