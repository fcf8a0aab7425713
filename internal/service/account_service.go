package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spec-kit/project-portal/internal/auth"
	"github.com/spec-kit/project-portal/internal/config"
	"github.com/spec-kit/project-portal/internal/domain"
	"github.com/spec-kit/project-portal/internal/events"
	"github.com/spec-kit/project-portal/internal/repository"
	apperrors "github.com/spec-kit/project-portal/pkg/util"
)

const rollbackTimeout = 5 * time.Second

// NewAccount is the input for provisioning a local account.
type NewAccount struct {
	ID                 string
	Name               string
	Role               domain.Role
	Username           string
	Password           string
	Email              string
	Phone              string
	Department         string
	Branch             string
	Semester           string
	GraduationYear     string
	ForcePasswordReset *bool
}

// AccountService provisions local accounts and manages their reset flag.
type AccountService struct {
	store      *repository.Store
	dispatcher events.Dispatcher
	clock      clockwork.Clock
	logger     *zap.Logger

	bcryptCost        int
	minPasswordLength int
}

// NewAccountService builds the service.
func NewAccountService(cfg config.AuthConfig, store *repository.Store, dispatcher events.Dispatcher, clock clockwork.Clock, logger *zap.Logger) *AccountService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	minLen := cfg.MinPasswordLength
	if minLen <= 0 {
		minLen = 8
	}
	return &AccountService{
		store:             store,
		dispatcher:        dispatcher,
		clock:             clock,
		logger:            logger,
		bcryptCost:        cfg.BcryptCost,
		minPasswordLength: minLen,
	}
}

// Provision creates a profile and its local credential. New credentials
// require a password reset unless the caller opts out.
func (s *AccountService) Provision(ctx context.Context, by domain.Identity, in NewAccount) (*domain.UserProfile, *domain.LocalCredential, error) {
	if !s.store.Connected() {
		return nil, nil, apperrors.NewServiceUnavailable("database unavailable", repository.ErrUnavailable)
	}
	in.ID = strings.TrimSpace(in.ID)
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate(in); err != nil {
		return nil, nil, err
	}

	if _, err := s.store.Profiles.GetByExternalID(ctx, in.ID); err == nil {
		return nil, nil, apperrors.NewConflict("user id already exists", map[string]any{"id": in.ID})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, storeFailure(err)
	}
	if _, err := s.store.Credentials.GetByUsername(ctx, in.Username); err == nil {
		return nil, nil, apperrors.NewConflict("username already exists", map[string]any{"username": in.Username})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, storeFailure(err)
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}

	profile := &domain.UserProfile{
		AuthSource:         domain.AuthSourceLocal,
		Role:               in.Role,
		ExternalID:         in.ID,
		RegistrationNumber: in.ID,
		Name:               in.Name,
		Email:              in.Email,
		Phone:              in.Phone,
		Department:         in.Department,
		Branch:             in.Branch,
		Semester:           in.Semester,
		GraduationYear:     in.GraduationYear,
	}
	if err := s.store.Profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, apperrors.NewConflict("user id already exists", map[string]any{"id": in.ID})
		}
		return nil, nil, storeFailure(err)
	}

	mustReset := true
	if in.ForcePasswordReset != nil {
		mustReset = *in.ForcePasswordReset
	}
	credential := &domain.LocalCredential{
		OwnerID:           profile.ID,
		OwnerExternalID:   profile.ExternalID,
		Username:          in.Username,
		PasswordHash:      hash,
		MustResetPassword: mustReset,
		PasswordUpdatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.Credentials.Create(ctx, credential); err != nil {
		s.rollbackProfile(ctx, profile)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, apperrors.NewConflict("username already exists", map[string]any{"username": in.Username})
		}
		return nil, nil, storeFailure(err)
	}

	s.publish(ctx, events.EventAccountProvisioned, events.Actor{SubjectID: profile.ExternalID, Username: in.Username, Role: in.Role, Source: domain.AuthSourceLocal},
		events.AccountProvisionedPayload{ProvisionedBy: by.ID, MustResetPassword: mustReset})
	return profile, credential, nil
}

// rollbackProfile removes a profile whose credential could not be stored,
// so a retry is not rejected as a duplicate user id. It runs even when the
// request context has already expired.
func (s *AccountService) rollbackProfile(ctx context.Context, profile *domain.UserProfile) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := s.store.Profiles.Delete(ctx, profile.ID); err != nil {
		s.logger.Warn("failed to roll back profile",
			zap.String("profile_id", profile.ID),
			zap.String("external_id", profile.ExternalID),
			zap.Error(err),
		)
	}
}

// RequireReset flags a credential so its next login must reset the password.
func (s *AccountService) RequireReset(ctx context.Context, by domain.Identity, username string) error {
	if !s.store.Connected() {
		return apperrors.NewServiceUnavailable("database unavailable", repository.ErrUnavailable)
	}
	username = strings.TrimSpace(username)
	if err := s.store.Credentials.SetMustReset(ctx, username, true); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("credential", map[string]any{"username": username})
		}
		return storeFailure(err)
	}
	s.publish(ctx, events.EventResetRequested, events.Actor{Username: username, Source: domain.AuthSourceLocal},
		events.ResetRequestedPayload{RequestedBy: by.ID})
	return nil
}

func (s *AccountService) validate(in NewAccount) error {
	details := map[string]any{}
	if in.ID == "" {
		details["id"] = "required"
	}
	if in.Name == "" {
		details["name"] = "required"
	}
	if in.Username == "" {
		details["username"] = "required"
	}
	if !in.Role.Valid() {
		details["role"] = "must be one of Student, Faculty, Faculty Coordinator, Master Admin"
	}
	if len(in.Password) < s.minPasswordLength {
		details["password"] = "too short"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid account", details)
	}
	return nil
}

func (s *AccountService) publish(ctx context.Context, eventType events.EventType, actor events.Actor, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, events.NewEvent(eventType, actor, s.clock.Now(), payload)); err != nil {
		s.logger.Warn("account event handler failed", zap.String("type", string(eventType)), zap.Error(err))
	}
}

func storeFailure(err error) error {
	if errors.Is(err, repository.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewServiceUnavailable("database unavailable", err)
	}
	return apperrors.NewInternalError(err)
}
