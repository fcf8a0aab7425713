package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/project-portal/internal/domain"
)

type postgresCredentialRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCredentialRepository constructs repository.
func NewPostgresCredentialRepository(pool *pgxpool.Pool) CredentialRepository {
	return &postgresCredentialRepository{pool: pool}
}

func (r *postgresCredentialRepository) Create(ctx context.Context, c *domain.LocalCredential) error {
	const query = `
        INSERT INTO local_credentials (owner_id, owner_external_id, username, password_hash,
            must_reset_password, password_updated_at)
        VALUES (NULLIF($1, '')::uuid, NULLIF($2, ''), $3, $4, $5, COALESCE($6, NOW()))
        RETURNING id::text, password_updated_at, created_at, updated_at`

	var pwUpdated *time.Time
	if !c.PasswordUpdatedAt.IsZero() {
		pwUpdated = &c.PasswordUpdatedAt
	}
	err := r.pool.QueryRow(ctx, query,
		c.OwnerID,
		c.OwnerExternalID,
		c.Username,
		c.PasswordHash,
		c.MustResetPassword,
		pwUpdated,
	).Scan(&c.ID, &c.PasswordUpdatedAt, &c.CreatedAt, &c.UpdatedAt)
	return mapPgError(err)
}

func (r *postgresCredentialRepository) GetByUsername(ctx context.Context, username string) (*domain.LocalCredential, error) {
	const query = `
        SELECT id::text, COALESCE(owner_id::text, ''), COALESCE(owner_external_id, ''), username,
            password_hash, must_reset_password, password_updated_at, created_at, updated_at
        FROM local_credentials WHERE username=$1`

	var c domain.LocalCredential
	if err := r.pool.QueryRow(ctx, query, username).Scan(
		&c.ID,
		&c.OwnerID,
		&c.OwnerExternalID,
		&c.Username,
		&c.PasswordHash,
		&c.MustResetPassword,
		&c.PasswordUpdatedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, mapPgError(err)
	}
	return &c, nil
}

func (r *postgresCredentialRepository) UpdatePassword(ctx context.Context, username, passwordHash string, mustReset bool, updatedAt time.Time) error {
	const query = `
        UPDATE local_credentials
        SET password_hash=$1, must_reset_password=$2, password_updated_at=$3, updated_at=NOW()
        WHERE username=$4`
	return r.exec(ctx, query, passwordHash, mustReset, updatedAt, username)
}

func (r *postgresCredentialRepository) SetMustReset(ctx context.Context, username string, mustReset bool) error {
	const query = `
        UPDATE local_credentials SET must_reset_password=$1, updated_at=NOW()
        WHERE username=$2`
	return r.exec(ctx, query, mustReset, username)
}

func (r *postgresCredentialRepository) LinkOwner(ctx context.Context, username, ownerID, ownerExternalID string) error {
	const query = `
        UPDATE local_credentials SET owner_id=$1::uuid, owner_external_id=$2, updated_at=NOW()
        WHERE username=$3`
	return r.exec(ctx, query, ownerID, ownerExternalID, username)
}

func (r *postgresCredentialRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
