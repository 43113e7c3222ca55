package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-feed/odyssey-feed/internal/platform/db"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, COALESCE(parent_id, ''), weight, description, created_at, updated_at`

// GetActorRole returns the main role of an actor.
func (r *Repository) GetActorRole(ctx context.Context, actorID string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT r.id, COALESCE(r.parent_id, ''), r.weight, r.description, r.created_at, r.updated_at
		FROM actors a JOIN roles r ON r.id = a.role_id WHERE a.id = $1`, actorID)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, &shared.NotFoundError{Resource: "actor", ID: actorID}
	}
	return role, err
}

// GetRolesByWeight returns all roles ordered by ascending weight.
func (r *Repository) GetRolesByWeight(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY weight, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRoleMembers returns the actors holding roleID as an additional role.
func (r *Repository) GetRoleMembers(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT actor_id FROM role_members WHERE role_id = $1 ORDER BY actor_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GetActorMemberships answers the reverse membership lookup in one query.
func (r *Repository) GetActorMemberships(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM role_members WHERE actor_id = $1`, actorID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpsertRole inserts or updates a role.
func (r *Repository) UpsertRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO roles (id, parent_id, weight, description, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id, weight = EXCLUDED.weight,
			description = EXCLUDED.description, updated_at = now()
		RETURNING `+roleColumns, role.ID, role.ParentID, role.Weight, role.Description)
	return scanRole(row)
}

// DeleteRole removes a role and its memberships.
func (r *Repository) DeleteRole(ctx context.Context, roleID string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_members WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &shared.NotFoundError{Resource: "role", ID: roleID}
		}
		return nil
	})
}

// SetActorRole sets the main role, creating the actor record if needed.
func (r *Repository) SetActorRole(ctx context.Context, actorID, roleID string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO actors (id, role_id, created_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET role_id = EXCLUDED.role_id`, actorID, roleID)
	return db.MapError(err)
}

// AddMember grants an additional role.
func (r *Repository) AddMember(ctx context.Context, roleID, actorID string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO role_members (role_id, actor_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, actorID)
	return db.MapError(err)
}

// RemoveMember revokes an additional role.
func (r *Repository) RemoveMember(ctx context.Context, roleID, actorID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM role_members WHERE role_id = $1 AND actor_id = $2`, roleID, actorID)
	return err
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.ParentID, &role.Weight, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}
