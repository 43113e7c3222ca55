package rules

import (
	"context"

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

const ruleColumns = `id, topic_pattern, target_role_id, actions, member_actions, owner_actions, created_at, updated_at`

// QueryRules narrows candidates by target role on the server. Pattern
// matching stays in Go so patterns mean the same thing regardless of the
// Postgres regex dialect.
func (r *Repository) QueryRules(ctx context.Context, roleIDs []string, _ string) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM acl_rules WHERE target_role_id = ANY($1)`, roleIDs)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// ListRules returns every stored rule.
func (r *Repository) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM acl_rules ORDER BY target_role_id, id`)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// UpsertRule inserts or updates a rule.
func (r *Repository) UpsertRule(ctx context.Context, rule Rule) (Rule, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO acl_rules (id, topic_pattern, target_role_id, actions, member_actions, owner_actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE SET topic_pattern = EXCLUDED.topic_pattern, target_role_id = EXCLUDED.target_role_id,
			actions = EXCLUDED.actions, member_actions = EXCLUDED.member_actions, owner_actions = EXCLUDED.owner_actions,
			updated_at = now()
		RETURNING `+ruleColumns,
		rule.ID, rule.TopicPattern, rule.TargetRoleID, rule.Actions, rule.MemberActions, rule.OwnerActions)
	saved, err := scanRule(row)
	return saved, db.MapError(err)
}

// DeleteRule removes a rule.
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM acl_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Resource: "rule", ID: id}
	}
	return nil
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	err := row.Scan(&rule.ID, &rule.TopicPattern, &rule.TargetRoleID, &rule.Actions,
		&rule.MemberActions, &rule.OwnerActions, &rule.CreatedAt, &rule.UpdatedAt)
	return rule, err
}
