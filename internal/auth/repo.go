package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindCredential(ctx context.Context, actorID string) (*Credential, error)
	SetPassword(ctx context.Context, actorID, hash string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindCredential fetches the login record of an actor.
func (r *PGRepository) FindCredential(ctx context.Context, actorID string) (*Credential, error) {
	var (
		cred      Credential
		hash      pgtype.Text
		locale    pgtype.Text
		updatedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `SELECT id, password_hash, locale, is_active, updated_at
		FROM actors WHERE id = $1`, actorID).Scan(&cred.ActorID, &hash, &locale, &cred.IsActive, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &shared.NotFoundError{Resource: "actor", ID: actorID}
		}
		return nil, shared.Transient("find credential", err)
	}
	cred.PasswordHash = hash.String
	cred.Locale = locale.String
	cred.UpdatedAt = updatedAt.Time
	return &cred, nil
}

// SetPassword stores a new password hash for an existing actor.
func (r *PGRepository) SetPassword(ctx context.Context, actorID, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE actors SET password_hash = $2, updated_at = now() WHERE id = $1`, actorID, hash)
	if err != nil {
		return shared.Transient("set password", err)
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Resource: "actor", ID: actorID}
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
