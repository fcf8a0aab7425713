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
	"github.com/spec-kit/project-portal/internal/keycloak"
	"github.com/spec-kit/project-portal/internal/observability"
	"github.com/spec-kit/project-portal/internal/repository"
	apperrors "github.com/spec-kit/project-portal/pkg/util"
)

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordResetRequired is returned while a credential is flagged
	// for a first-login reset.
	ErrPasswordResetRequired = errors.New("password reset required")
	// ErrStateRejected is returned when a callback state is missing,
	// unknown, expired or already used.
	ErrStateRejected = errors.New("login state rejected")
)

// Metric labels for auth attempts.
const (
	methodLocal    = "local"
	methodReset    = "reset"
	methodKeycloak = "keycloak"
)

// IdentityProvider is the external login bridge. *keycloak.Client
// implements it.
type IdentityProvider interface {
	Enabled() bool
	AuthorizationURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*keycloak.TokenSet, error)
	LogoutURL(idTokenHint string) (string, error)
}

// Session is the outcome of a successful login.
type Session struct {
	Identity    domain.Identity
	Permissions []string
	Token       string
	ExpiresAt   time.Time
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ExternalLogin is the outcome of a completed provider login.
type ExternalLogin struct {
	Session *Session
	IDToken string
}

// LoginRedirectError asks the caller to send the browser back to the login
// page with a short error code instead of rendering an error body.
type LoginRedirectError struct {
	Code string
	Err  error
}

func (e *LoginRedirectError) Error() string {
	if e.Err != nil {
		return "login redirect " + e.Code + ": " + e.Err.Error()
	}
	return "login redirect " + e.Code
}

func (e *LoginRedirectError) Unwrap() error { return e.Err }

// Redirect codes reported to the browser.
const (
	RedirectExchangeFailed = "exchange_failed"
	RedirectInvalidToken   = "invalid_token"
	RedirectProfileSync    = "profile_sync_failed"
	RedirectSessionFailed  = "session_failed"
)

// AuthService coordinates local and external login flows.
type AuthService struct {
	store      *repository.Store
	tokens     *auth.TokenManager
	states     auth.StateStore
	provider   IdentityProvider
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	clock      clockwork.Clock
	logger     *zap.Logger

	localLoginEnabled bool
	bcryptCost        int
	minPasswordLength int
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	Store      *repository.Store
	Tokens     *auth.TokenManager
	States     auth.StateStore
	Provider   IdentityProvider
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := deps.Store
	if store == nil {
		store = repository.NewUnavailableStore()
	}
	minLen := cfg.MinPasswordLength
	if minLen <= 0 {
		minLen = 8
	}
	return &AuthService{
		store:             store,
		tokens:            deps.Tokens,
		states:            deps.States,
		provider:          deps.Provider,
		dispatcher:        deps.Dispatcher,
		metrics:           deps.Metrics,
		clock:             clock,
		logger:            logger,
		localLoginEnabled: cfg.LocalLoginEnabled,
		bcryptCost:        cfg.BcryptCost,
		minPasswordLength: minLen,
	}
}

// LocalLogin authenticates a username/password credential. A credential
// flagged for reset is refused before its password is checked.
func (s *AuthService) LocalLogin(ctx context.Context, username, password string) (*Session, error) {
	if err := s.localPreconditions(); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperrors.NewValidationError("username and password are required", nil)
	}

	credential, err := s.credential(ctx, methodLocal, username)
	if err != nil {
		return nil, err
	}

	if credential.MustResetPassword {
		s.metrics.RecordAuthAttempt(methodLocal, observability.OutcomeResetRequired)
		s.publish(ctx, events.EventLoginFailed, events.Actor{Username: username, Source: domain.AuthSourceLocal},
			events.LoginFailedPayload{Reason: "reset_required"})
		return nil, apperrors.WithCause(apperrors.NewPasswordResetRequired(credential.Username), ErrPasswordResetRequired)
	}

	if !auth.VerifyPassword(credential.PasswordHash, password) {
		return nil, s.rejectCredentials(ctx, methodLocal, username, "bad_password")
	}

	profile, err := s.ownerProfile(ctx, credential)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		s.metrics.RecordAuthAttempt(methodLocal, observability.OutcomeFailure)
		return nil, apperrors.NewUnauthorized("user profile not found for this account")
	}

	session, err := s.issue(profile, domain.AuthSourceLocal)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	s.metrics.RecordAuthAttempt(methodLocal, observability.OutcomeSuccess)
	s.publish(ctx, events.EventLoginSucceeded, actorFor(session.Identity, username), nil)
	return session, nil
}

// ResetFirstLoginPassword replaces the password after checking the current
// one, clears the reset flag and logs the caller in.
func (s *AuthService) ResetFirstLoginPassword(ctx context.Context, username, currentPassword, newPassword string) (*Session, error) {
	if err := s.localPreconditions(); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" || currentPassword == "" || newPassword == "" {
		return nil, apperrors.NewValidationError("username, currentPassword and newPassword are required", nil)
	}
	if len(newPassword) < s.minPasswordLength {
		return nil, apperrors.NewValidationError("new password is too short", map[string]any{
			"minLength": s.minPasswordLength,
		})
	}

	credential, err := s.credential(ctx, methodReset, username)
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(credential.PasswordHash, currentPassword) {
		return nil, s.rejectCredentials(ctx, methodReset, username, "bad_password")
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if err := s.store.Credentials.UpdatePassword(ctx, credential.Username, hash, false, s.clock.Now().UTC()); err != nil {
		return nil, storeFailure(err)
	}

	profile, err := s.ownerProfile(ctx, credential)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperrors.NewNotFound("user profile", map[string]any{"username": credential.Username})
	}

	session, err := s.issue(profile, domain.AuthSourceLocal)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	s.metrics.RecordAuthAttempt(methodReset, observability.OutcomeSuccess)
	s.publish(ctx, events.EventPasswordReset, actorFor(session.Identity, username), nil)
	return session, nil
}

// BeginExternalLogin registers a fresh state and returns the provider URL.
func (s *AuthService) BeginExternalLogin(ctx context.Context) (string, error) {
	if !s.providerEnabled() {
		s.logger.Error("external login attempted but keycloak is not configured")
		return "", apperrors.NewServiceUnavailable("keycloak is not configured", keycloak.ErrNotConfigured)
	}

	state, err := s.states.Create()
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	if err := s.states.Register(ctx, state); err != nil {
		return "", apperrors.NewServiceUnavailable("unable to start login", err)
	}
	return s.provider.AuthorizationURL(state)
}

// CompleteExternalLogin handles the provider redirect. Missing or rejected
// states end the flow with a 400; failures after the state is consumed
// yield a *LoginRedirectError.
func (s *AuthService) CompleteExternalLogin(ctx context.Context, params CallbackParams) (*ExternalLogin, error) {
	if !s.providerEnabled() {
		return nil, apperrors.NewServiceUnavailable("keycloak is not configured", keycloak.ErrNotConfigured)
	}

	if params.Error != "" {
		s.logger.Warn("keycloak returned an error",
			zap.String("error", params.Error),
			zap.String("description", params.ErrorDescription),
		)
		s.metrics.RecordAuthAttempt(methodKeycloak, observability.OutcomeFailure)
		return nil, &LoginRedirectError{Code: params.Error}
	}

	if params.Code == "" || params.State == "" {
		s.metrics.RecordAuthAttempt(methodKeycloak, observability.OutcomeRejected)
		return nil, apperrors.WithCause(
			apperrors.NewValidationError("invalid keycloak callback: missing code or state", nil), ErrStateRejected)
	}
	if !s.states.Consume(ctx, params.State) {
		s.logger.Warn("keycloak callback with invalid or expired state")
		s.metrics.RecordAuthAttempt(methodKeycloak, observability.OutcomeRejected)
		return nil, apperrors.WithCause(
			apperrors.NewValidationError("invalid keycloak callback: state expired or unknown", nil), ErrStateRejected)
	}

	tokens, err := s.provider.Exchange(ctx, params.Code)
	if err != nil {
		s.logger.Error("keycloak code exchange failed", zap.Error(err))
		s.metrics.RecordAuthAttempt(methodKeycloak, observability.OutcomeFailure)
		return nil, &LoginRedirectError{Code: RedirectExchangeFailed, Err: err}
	}

	mirror, err := keycloak.ProfileFromTokens(tokens)
	if err != nil {
		s.logger.Error("unable to decode keycloak token", zap.Error(err))
		s.metrics.RecordAuthAttempt(methodKeycloak, observability.OutcomeFailure)
		return nil, &LoginRedirectError{Code: RedirectInvalidToken, Err: err}
	}

	profile, persisted, err := s.syncProfile(ctx, mirror)
	if err != nil {
		s.logger.Error("unable to store keycloak profile", zap.Error(err))
		s.metrics.RecordAuthAttempt(methodKeycloak, observability.OutcomeFailure)
		return nil, &LoginRedirectError{Code: RedirectProfileSync, Err: err}
	}

	session, err := s.issue(profile, domain.AuthSourceKeycloak)
	if err != nil {
		return nil, &LoginRedirectError{Code: RedirectSessionFailed, Err: err}
	}

	s.metrics.RecordAuthAttempt(methodKeycloak, observability.OutcomeSuccess)
	s.publish(ctx, events.EventExternalLogin, actorFor(session.Identity, ""),
		events.ExternalLoginPayload{ProfilePersisted: persisted})
	return &ExternalLogin{Session: session, IDToken: tokens.IDToken}, nil
}

// Logout returns the federated logout URL when the browser holds a
// provider id token and the bridge is enabled, or "" otherwise.
func (s *AuthService) Logout(ctx context.Context, sessionToken, idToken string) string {
	actor := events.Actor{}
	if s.tokens != nil && sessionToken != "" {
		if claims, err := s.tokens.Verify(sessionToken); err == nil {
			actor = actorFor(claims.Identity(), "")
		}
	}
	s.publish(ctx, events.EventLogout, actor, nil)

	if idToken == "" || !s.providerEnabled() {
		return ""
	}
	logoutURL, err := s.provider.LogoutURL(idToken)
	if err != nil {
		s.logger.Warn("unable to build keycloak logout url", zap.Error(err))
		return ""
	}
	return logoutURL
}

// Profile describes the authenticated caller with its permissions.
func (s *AuthService) Profile(identity domain.Identity) *Session {
	return &Session{Identity: identity, Permissions: auth.PermissionsFor(identity.Role)}
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokens
}

// SessionTTL is the lifetime of issued session tokens.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}

func (s *AuthService) localPreconditions() error {
	if !s.localLoginEnabled {
		return apperrors.NewForbidden("local login disabled, use keycloak sign in")
	}
	if !s.store.Connected() {
		return apperrors.NewServiceUnavailable("database unavailable, local login requires the credential store", repository.ErrUnavailable)
	}
	return nil
}

func (s *AuthService) credential(ctx context.Context, method, username string) (*domain.LocalCredential, error) {
	credential, err := s.store.Credentials.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return credential, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, s.rejectCredentials(ctx, method, username, "unknown_user")
	default:
		return nil, storeFailure(err)
	}
}

func (s *AuthService) rejectCredentials(ctx context.Context, method, username, reason string) error {
	s.metrics.RecordAuthAttempt(method, observability.OutcomeFailure)
	s.publish(ctx, events.EventLoginFailed, events.Actor{Username: username, Source: domain.AuthSourceLocal},
		events.LoginFailedPayload{Reason: reason})
	return apperrors.WithCause(apperrors.NewUnauthorized("invalid credentials"), ErrInvalidCredentials)
}

// ownerProfile resolves the profile a credential belongs to. Credentials
// that only carry the owner's external id are re-linked on the way.
func (s *AuthService) ownerProfile(ctx context.Context, credential *domain.LocalCredential) (*domain.UserProfile, error) {
	if credential.OwnerID != "" {
		profile, err := s.store.Profiles.GetByID(ctx, credential.OwnerID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, storeFailure(err)
		}
	}
	if credential.OwnerExternalID == "" {
		return nil, nil
	}

	profile, err := s.store.Profiles.GetByExternalID(ctx, credential.OwnerExternalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFailure(err)
	}

	if profile.ID != credential.OwnerID {
		if err := s.store.Credentials.LinkOwner(ctx, credential.Username, profile.ID, profile.ExternalID); err != nil {
			s.logger.Warn("unable to relink legacy credential",
				zap.String("username", credential.Username), zap.Error(err))
		}
	}
	return profile, nil
}

// syncProfile mirrors a provider identity into the store. When no store is
// connected the login proceeds with the unpersisted mirror.
func (s *AuthService) syncProfile(ctx context.Context, mirror *domain.UserProfile) (*domain.UserProfile, bool, error) {
	if !s.store.Connected() {
		return mirror, false, nil
	}
	stored, err := s.store.Profiles.UpsertByExternalID(ctx, mirror)
	if errors.Is(err, repository.ErrUnavailable) {
		s.logger.Warn("profile store unavailable, continuing with provider claims", zap.Error(err))
		return mirror, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

func (s *AuthService) issue(profile *domain.UserProfile, source domain.AuthSource) (*Session, error) {
	identity := domain.IdentityFromProfile(profile)
	identity.Source = source

	token, expiresAt, err := s.tokens.Issue(identity, 0)
	if err != nil {
		return nil, err
	}
	return &Session{
		Identity:    identity,
		Permissions: auth.PermissionsFor(identity.Role),
		Token:       token,
		ExpiresAt:   expiresAt,
	}, nil
}

func (s *AuthService) providerEnabled() bool {
	return s.provider != nil && s.provider.Enabled() && s.states != nil
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, actor events.Actor, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	event := events.NewEvent(eventType, actor, s.clock.Now(), payload)
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("auth event handler failed", zap.String("type", string(eventType)), zap.Error(err))
	}
}

func actorFor(identity domain.Identity, username string) events.Actor {
	return events.Actor{
		SubjectID: identity.ID,
		Username:  username,
		Role:      identity.Role,
		Source:    identity.Source,
	}
}
