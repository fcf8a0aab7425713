package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/project-portal/internal/domain"
)

const pgUniqueViolation = "23505"

type postgresProfileRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresProfileRepository returns a Postgres-backed implementation.
func NewPostgresProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &postgresProfileRepository{pool: pool}
}

const profileColumns = `id::text, auth_source, role, external_id, COALESCE(registration_number, ''),
        name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(department, ''),
        COALESCE(branch, ''), COALESCE(semester, ''), COALESCE(graduation_year, ''),
        created_at, updated_at`

func (r *postgresProfileRepository) Create(ctx context.Context, profile *domain.UserProfile) error {
	const query = `
        INSERT INTO user_profiles (auth_source, role, external_id, registration_number, name,
            email, phone, department, branch, semester, graduation_year)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
            NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''))
        RETURNING id::text, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, profileArgs(profile)...).
		Scan(&profile.ID, &profile.CreatedAt, &profile.UpdatedAt)
	return mapPgError(err)
}

func (r *postgresProfileRepository) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE id::text=$1`
	return scanProfile(r.pool.QueryRow(ctx, query, id))
}

func (r *postgresProfileRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE external_id=$1`
	return scanProfile(r.pool.QueryRow(ctx, query, externalID))
}

func (r *postgresProfileRepository) UpsertByExternalID(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	query := `
        INSERT INTO user_profiles (auth_source, role, external_id, registration_number, name,
            email, phone, department, branch, semester, graduation_year)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
            NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''))
        ON CONFLICT (external_id) DO UPDATE SET
            auth_source=EXCLUDED.auth_source, role=EXCLUDED.role,
            registration_number=EXCLUDED.registration_number, name=EXCLUDED.name,
            email=EXCLUDED.email, phone=EXCLUDED.phone, department=EXCLUDED.department,
            branch=EXCLUDED.branch, semester=EXCLUDED.semester,
            graduation_year=EXCLUDED.graduation_year, updated_at=NOW()
        RETURNING ` + profileColumns

	return scanProfile(r.pool.QueryRow(ctx, query, profileArgs(profile)...))
}

func (r *postgresProfileRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM user_profiles WHERE id::text=$1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func profileArgs(p *domain.UserProfile) []any {
	return []any{
		p.AuthSource, p.Role, p.ExternalID, p.RegistrationNumber, p.Name,
		p.Email, p.Phone, p.Department, p.Branch, p.Semester, p.GraduationYear,
	}
}

func scanProfile(row pgx.Row) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := row.Scan(
		&p.ID,
		&p.AuthSource,
		&p.Role,
		&p.ExternalID,
		&p.RegistrationNumber,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.Department,
		&p.Branch,
		&p.Semester,
		&p.GraduationYear,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, mapPgError(err)
	}
	return &p, nil
}

// mapPgError translates driver errors into repository sentinels.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
