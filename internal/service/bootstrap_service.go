package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spec-kit/project-portal/internal/auth"
	"github.com/spec-kit/project-portal/internal/config"
	"github.com/spec-kit/project-portal/internal/domain"
	"github.com/spec-kit/project-portal/internal/repository"
)

// Bootstrap admin defaults.
const (
	DefaultBootstrapAdminID   = "ADMIN-0001"
	DefaultBootstrapAdminName = "Master Admin"
	BootstrapAdminDepartment  = "Administration"
)

// EnsureBootstrapAdmin creates the configured Master Admin credential on
// first start. It is a no-op without a store, without configured
// credentials, or when the username already exists. It reports whether an
// account was created.
func EnsureBootstrapAdmin(ctx context.Context, cfg config.BootstrapConfig, bcryptCost int, store *repository.Store, clock clockwork.Clock, logger *zap.Logger) (bool, error) {
	if !store.Connected() || cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return false, nil
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	_, err := store.Credentials.GetByUsername(ctx, cfg.AdminUsername)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return false, fmt.Errorf("lookup bootstrap credential: %w", err)
	}

	externalID := cfg.AdminID
	if externalID == "" {
		externalID = DefaultBootstrapAdminID
	}
	name := cfg.AdminName
	if name == "" {
		name = DefaultBootstrapAdminName
	}

	profile, err := store.Profiles.UpsertByExternalID(ctx, &domain.UserProfile{
		AuthSource:         domain.AuthSourceLocal,
		Role:               domain.RoleMasterAdmin,
		ExternalID:         externalID,
		RegistrationNumber: externalID,
		Name:               name,
		Email:              cfg.AdminEmail,
		Phone:              cfg.AdminPhone,
		Department:         BootstrapAdminDepartment,
	})
	if err != nil {
		return false, fmt.Errorf("upsert bootstrap profile: %w", err)
	}

	hash, err := auth.HashPassword(cfg.AdminPassword, bcryptCost)
	if err != nil {
		return false, err
	}
	err = store.Credentials.Create(ctx, &domain.LocalCredential{
		OwnerID:           profile.ID,
		OwnerExternalID:   profile.ExternalID,
		Username:          cfg.AdminUsername,
		PasswordHash:      hash,
		MustResetPassword: false,
		PasswordUpdatedAt: clock.Now().UTC(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create bootstrap credential: %w", err)
	}

	logger.Info("bootstrap admin created", zap.String("username", cfg.AdminUsername))
	return true, nil
}
