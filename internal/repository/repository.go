package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/project-portal/internal/domain"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate is returned when a unique key (profile external id,
	// credential username) is already taken.
	ErrDuplicate = errors.New("repository: duplicate key")
	// ErrUnavailable is returned when the backing store is not connected
	// or unreachable.
	ErrUnavailable = errors.New("repository: store unavailable")
)

// ProfileRepository persists account profiles.
type ProfileRepository interface {
	Create(ctx context.Context, profile *domain.UserProfile) error
	GetByID(ctx context.Context, id string) (*domain.UserProfile, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.UserProfile, error)
	// UpsertByExternalID inserts or replaces the mutable fields of the
	// profile keyed by ExternalID and returns the stored record.
	UpsertByExternalID(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error)
	Delete(ctx context.Context, id string) error
}

// CredentialRepository persists local username/password credentials.
type CredentialRepository interface {
	Create(ctx context.Context, credential *domain.LocalCredential) error
	GetByUsername(ctx context.Context, username string) (*domain.LocalCredential, error)
	UpdatePassword(ctx context.Context, username, passwordHash string, mustReset bool, updatedAt time.Time) error
	SetMustReset(ctx context.Context, username string, mustReset bool) error
	LinkOwner(ctx context.Context, username, ownerID, ownerExternalID string) error
}

// Store bundles the repositories of one backend.
type Store struct {
	Profiles    ProfileRepository
	Credentials CredentialRepository
	pinger      func(ctx context.Context) error
	offline     bool
}

// NewStore assembles a Store. ping may be nil for backends without a
// connection to check.
func NewStore(profiles ProfileRepository, credentials CredentialRepository, ping func(ctx context.Context) error) *Store {
	return &Store{Profiles: profiles, Credentials: credentials, pinger: ping}
}

// Connected reports whether a backend was configured. A connected store
// may still fail individual calls with ErrUnavailable.
func (s *Store) Connected() bool {
	return s != nil && !s.offline && s.Profiles != nil && s.Credentials != nil
}

// Ping reports whether the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.Profiles == nil || s.Credentials == nil {
		return ErrUnavailable
	}
	if s.pinger == nil {
		return nil
	}
	return s.pinger(ctx)
}

// NewUnavailableStore returns a Store whose every call fails with
// ErrUnavailable. It stands in when no database is configured.
func NewUnavailableStore() *Store {
	s := NewStore(unavailableProfiles{}, unavailableCredentials{}, func(context.Context) error { return ErrUnavailable })
	s.offline = true
	return s
}

type unavailableProfiles struct{}

func (unavailableProfiles) Create(context.Context, *domain.UserProfile) error { return ErrUnavailable }

func (unavailableProfiles) GetByID(context.Context, string) (*domain.UserProfile, error) {
	return nil, ErrUnavailable
}

func (unavailableProfiles) GetByExternalID(context.Context, string) (*domain.UserProfile, error) {
	return nil, ErrUnavailable
}

func (unavailableProfiles) UpsertByExternalID(context.Context, *domain.UserProfile) (*domain.UserProfile, error) {
	return nil, ErrUnavailable
}

func (unavailableProfiles) Delete(context.Context, string) error {
	return ErrUnavailable
}

type unavailableCredentials struct{}

func (unavailableCredentials) Create(context.Context, *domain.LocalCredential) error {
	return ErrUnavailable
}

func (unavailableCredentials) GetByUsername(context.Context, string) (*domain.LocalCredential, error) {
	return nil, ErrUnavailable
}

func (unavailableCredentials) UpdatePassword(context.Context, string, string, bool, time.Time) error {
	return ErrUnavailable
}

func (unavailableCredentials) SetMustReset(context.Context, string, bool) error {
	return ErrUnavailable
}

func (unavailableCredentials) LinkOwner(context.Context, string, string, string) error {
	return ErrUnavailable
}
