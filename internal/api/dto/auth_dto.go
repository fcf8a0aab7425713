package dto

import "github.com/spec-kit/project-portal/internal/domain"

// LoginRequest is the local login payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ResetPasswordRequest is the first-login reset payload.
type ResetPasswordRequest struct {
	Username        string `json:"username"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UserPayload is the user object returned to the portal frontend. ID is the
// public identifier (registration number when present); InternalID is the
// profile's external id.
type UserPayload struct {
	ID                 string `json:"id"`
	InternalID         string `json:"internalId"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
	Role               string `json:"role"`
	Source             string `json:"source,omitempty"`
	Name               string `json:"name"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
	Department         string `json:"department,omitempty"`
	Branch             string `json:"branch,omitempty"`
	Semester           string `json:"semester,omitempty"`
	GraduationYear     string `json:"graduationYear,omitempty"`
}

// NewUserPayload renders an identity for the client.
func NewUserPayload(identity domain.Identity) UserPayload {
	publicID := identity.RegistrationNumber
	if publicID == "" {
		publicID = identity.ID
	}
	return UserPayload{
		ID:                 publicID,
		InternalID:         identity.ID,
		RegistrationNumber: identity.RegistrationNumber,
		Role:               string(identity.Role),
		Source:             string(identity.Source),
		Name:               identity.Name,
		Email:              identity.Email,
		Phone:              identity.Phone,
		Department:         identity.Department,
		Branch:             identity.Branch,
		Semester:           identity.Semester,
		GraduationYear:     identity.GraduationYear,
	}
}

// SessionResponse is returned by login, reset and profile.
type SessionResponse struct {
	User        UserPayload `json:"user"`
	Permissions []string    `json:"permissions"`
}

// NewSessionResponse pairs a user with its permission set.
func NewSessionResponse(identity domain.Identity, permissions []string) SessionResponse {
	if permissions == nil {
		permissions = []string{}
	}
	return SessionResponse{User: NewUserPayload(identity), Permissions: permissions}
}

// LogoutResponse carries the federated logout URL.
type LogoutResponse struct {
	LogoutURL string `json:"logoutUrl"`
}
