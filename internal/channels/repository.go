package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-feed/odyssey-feed/internal/platform/db"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const channelQuery = `SELECT c.id, c.owner_id, c.title, c.created_at,
	COALESCE(array_agg(m.actor_id ORDER BY m.actor_id) FILTER (WHERE m.actor_id IS NOT NULL), '{}')
	FROM channels c LEFT JOIN channel_members m ON m.channel_id = c.id`

const activityColumns = `id, channel_id, actor_id, type, content, content_hash, published_at, updated_at`

// GetChannel returns one channel with its members.
func (r *PGRepository) GetChannel(ctx context.Context, id string) (Channel, error) {
	row := r.pool.QueryRow(ctx, channelQuery+` WHERE c.id = $1 GROUP BY c.id`, id)
	ch, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, &shared.NotFoundError{Resource: "channel", ID: id}
	}
	return ch, err
}

// ListChannels returns every channel ordered by id.
func (r *PGRepository) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := r.pool.Query(ctx, channelQuery+` GROUP BY c.id ORDER BY c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// CreateChannel inserts a new channel with its members. An existing id is a
// conflict; ownership never changes through this path.
func (r *PGRepository) CreateChannel(ctx context.Context, ch Channel) (Channel, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO channels (id, owner_id, title, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (id) DO NOTHING
			RETURNING created_at`, ch.ID, ch.OwnerID, ch.Title).Scan(&ch.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: channel %q exists", shared.ErrConflict, ch.ID)
		}
		if err != nil {
			return db.MapError(err)
		}
		return insertMembers(ctx, tx, ch)
	})
	return ch, err
}

// UpdateChannel replaces the title and member list of an existing channel.
// The owner is kept.
func (r *PGRepository) UpdateChannel(ctx context.Context, ch Channel) (Channel, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `UPDATE channels SET title = $2 WHERE id = $1
			RETURNING owner_id, created_at`, ch.ID, ch.Title).Scan(&ch.OwnerID, &ch.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return &shared.NotFoundError{Resource: "channel", ID: ch.ID}
		}
		if err != nil {
			return db.MapError(err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM channel_members WHERE channel_id = $1`, ch.ID); err != nil {
			return err
		}
		return insertMembers(ctx, tx, ch)
	})
	return ch, err
}

func insertMembers(ctx context.Context, tx pgx.Tx, ch Channel) error {
	for _, member := range ch.Members {
		if _, err := tx.Exec(ctx, `INSERT INTO channel_members (channel_id, actor_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, ch.ID, member); err != nil {
			return db.MapError(err)
		}
	}
	return nil
}

// GetActivity returns a live activity.
func (r *PGRepository) GetActivity(ctx context.Context, id string) (Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1 AND deleted_at IS NULL`, id)
	a, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, &shared.NotFoundError{Resource: "activity", ID: id}
	}
	return a, err
}

// ListActivities returns the newest live activities of a channel.
func (r *PGRepository) ListActivities(ctx context.Context, channelID string, limit int) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+activityColumns+` FROM activities
		WHERE channel_id = $1 AND deleted_at IS NULL
		ORDER BY published_at DESC LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertActivity inserts or updates an activity. An existing row is only
// rewritten by its author within its channel; any other id clash is a
// conflict. xmax is zero only for rows the statement inserted.
func (r *PGRepository) UpsertActivity(ctx context.Context, a Activity) (Activity, bool, error) {
	var created bool
	err := r.pool.QueryRow(ctx, `INSERT INTO activities (id, channel_id, actor_id, type, content, content_hash, published_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash, updated_at = now(), deleted_at = NULL
		WHERE activities.channel_id = EXCLUDED.channel_id AND activities.actor_id = EXCLUDED.actor_id
		RETURNING published_at, updated_at, (xmax = 0)`,
		a.ID, a.ChannelID, a.ActorID, a.Type, a.Content, a.ContentHash, a.Published,
	).Scan(&a.Published, &a.Updated, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, false, fmt.Errorf("%w: activity %q belongs to another channel or author", shared.ErrConflict, a.ID)
	}
	if err != nil {
		return Activity{}, false, db.MapError(err)
	}
	return a, created, nil
}

// DeleteActivity soft deletes an activity.
func (r *PGRepository) DeleteActivity(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE activities SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Resource: "activity", ID: id}
	}
	return nil
}

func scanChannel(row pgx.Row) (Channel, error) {
	var ch Channel
	err := row.Scan(&ch.ID, &ch.OwnerID, &ch.Title, &ch.CreatedAt, &ch.Members)
	return ch, err
}

func scanActivity(row pgx.Row) (Activity, error) {
	var a Activity
	err := row.Scan(&a.ID, &a.ChannelID, &a.ActorID, &a.Type, &a.Content, &a.ContentHash, &a.Published, &a.Updated)
	return a, err
}
