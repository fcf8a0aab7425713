package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/project-portal/internal/domain"
)

// NewMemoryStore returns a process-local Store for development and tests.
// Records are lost on restart.
func NewMemoryStore() *Store {
	return NewStore(NewMemoryProfileRepository(), NewMemoryCredentialRepository(), nil)
}

type memoryProfileRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.UserProfile
	byExternal map[string]string
}

// NewMemoryProfileRepository returns an empty in-memory ProfileRepository.
func NewMemoryProfileRepository() ProfileRepository {
	return &memoryProfileRepository{
		byID:       make(map[string]*domain.UserProfile),
		byExternal: make(map[string]string),
	}
}

func (r *memoryProfileRepository) Create(_ context.Context, profile *domain.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byExternal[profile.ExternalID]; exists {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	profile.ID = uuid.NewString()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	stored := *profile
	r.byID[stored.ID] = &stored
	r.byExternal[stored.ExternalID] = stored.ID
	return nil
}

func (r *memoryProfileRepository) GetByID(_ context.Context, id string) (*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (r *memoryProfileRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.UserProfile, error) {
	r.mu.RLock()
	id, ok := r.byExternal[externalID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *memoryProfileRepository) UpsertByExternalID(_ context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	next := *profile
	if id, ok := r.byExternal[profile.ExternalID]; ok {
		prev := r.byID[id]
		next.ID = prev.ID
		next.CreatedAt = prev.CreatedAt
	} else {
		next.ID = uuid.NewString()
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	r.byID[next.ID] = &next
	r.byExternal[next.ExternalID] = next.ID

	out := next
	return &out, nil
}

func (r *memoryProfileRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byExternal, p.ExternalID)
	delete(r.byID, id)
	return nil
}

type memoryCredentialRepository struct {
	mu         sync.RWMutex
	byUsername map[string]*domain.LocalCredential
}

// NewMemoryCredentialRepository returns an empty in-memory CredentialRepository.
func NewMemoryCredentialRepository() CredentialRepository {
	return &memoryCredentialRepository{byUsername: make(map[string]*domain.LocalCredential)}
}

func (r *memoryCredentialRepository) Create(_ context.Context, credential *domain.LocalCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[credential.Username]; exists {
		return ErrDuplicate
	}
	for _, c := range r.byUsername {
		if credential.OwnerID != "" && c.OwnerID == credential.OwnerID {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	credential.ID = uuid.NewString()
	credential.CreatedAt = now
	credential.UpdatedAt = now
	if credential.PasswordUpdatedAt.IsZero() {
		credential.PasswordUpdatedAt = now
	}

	stored := *credential
	r.byUsername[stored.Username] = &stored
	return nil
}

func (r *memoryCredentialRepository) GetByUsername(_ context.Context, username string) (*domain.LocalCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r *memoryCredentialRepository) UpdatePassword(_ context.Context, username, passwordHash string, mustReset bool, updatedAt time.Time) error {
	return r.update(username, func(c *domain.LocalCredential) {
		c.PasswordHash = passwordHash
		c.MustResetPassword = mustReset
		c.PasswordUpdatedAt = updatedAt
	})
}

func (r *memoryCredentialRepository) SetMustReset(_ context.Context, username string, mustReset bool) error {
	return r.update(username, func(c *domain.LocalCredential) {
		c.MustResetPassword = mustReset
	})
}

func (r *memoryCredentialRepository) LinkOwner(_ context.Context, username, ownerID, ownerExternalID string) error {
	return r.update(username, func(c *domain.LocalCredential) {
		c.OwnerID = ownerID
		c.OwnerExternalID = ownerExternalID
	})
}

func (r *memoryCredentialRepository) update(username string, mutate func(*domain.LocalCredential)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byUsername[username]
	if !ok {
		return ErrNotFound
	}
	mutate(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}
