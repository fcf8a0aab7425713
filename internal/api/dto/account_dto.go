package dto

import (
	"time"

	"github.com/spec-kit/project-portal/internal/domain"
)

// CreateAccountRequest provisions a local account.
type CreateAccountRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Role               string `json:"role"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Email              string `json:"email"`
	Phone              string `json:"phone"`
	Department         string `json:"department"`
	Branch             string `json:"branch"`
	Semester           string `json:"semester"`
	GraduationYear     string `json:"graduationYear"`
	ForcePasswordReset *bool  `json:"forcePasswordReset"`
}

// AccountResponse describes a provisioned account. The password hash is
// never returned.
type AccountResponse struct {
	User              UserPayload `json:"user"`
	Username          string      `json:"username"`
	MustResetPassword bool        `json:"mustResetPassword"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// NewAccountResponse renders a profile and its credential.
func NewAccountResponse(profile *domain.UserProfile, credential *domain.LocalCredential) AccountResponse {
	return AccountResponse{
		User:              NewUserPayload(domain.IdentityFromProfile(profile)),
		Username:          credential.Username,
		MustResetPassword: credential.MustResetPassword,
		CreatedAt:         credential.CreatedAt,
	}
}
