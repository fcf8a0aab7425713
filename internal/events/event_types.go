package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/project-portal/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventLoginSucceeded     EventType = "login_succeeded"
	EventLoginFailed        EventType = "login_failed"
	EventPasswordReset      EventType = "password_reset"
	EventExternalLogin      EventType = "external_login"
	EventLogout             EventType = "logout"
	EventAccountProvisioned EventType = "account_provisioned"
	EventResetRequested     EventType = "reset_requested"
)

// AuthEventTypes lists every event the audit subscriber records.
var AuthEventTypes = []EventType{
	EventLoginSucceeded,
	EventLoginFailed,
	EventPasswordReset,
	EventExternalLogin,
	EventLogout,
	EventAccountProvisioned,
	EventResetRequested,
}

// Actor identifies who triggered an event. Username is set for local
// credentials; SubjectID once an identity is known.
type Actor struct {
	SubjectID string            `json:"subject_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	Role      domain.Role       `json:"role,omitempty"`
	Source    domain.AuthSource `json:"source,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Actor     Actor       `json:"actor"`
	ClientIP  string      `json:"client_ip,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(eventType EventType, actor Actor, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Actor:     actor,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}

// LoginFailedPayload payload.
type LoginFailedPayload struct {
	Reason string `json:"reason"`
}

// ExternalLoginPayload payload.
type ExternalLoginPayload struct {
	ProfilePersisted bool `json:"profile_persisted"`
}

// AccountProvisionedPayload payload.
type AccountProvisionedPayload struct {
	ProvisionedBy     string `json:"provisioned_by"`
	MustResetPassword bool   `json:"must_reset_password"`
}

// ResetRequestedPayload payload.
type ResetRequestedPayload struct {
	RequestedBy string `json:"requested_by"`
}
