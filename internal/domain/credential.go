package domain

import "time"

// LocalCredential is a username/password record for local login.
// OwnerID references UserProfile.ID. OwnerExternalID is kept for records
// created before OwnerID existed and is used as a fallback link.
type LocalCredential struct {
	ID                string
	OwnerID           string
	OwnerExternalID   string
	Username          string
	PasswordHash      string
	MustResetPassword bool
	PasswordUpdatedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
