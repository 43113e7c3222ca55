package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// ActivityLoader reads the current row of an activity.
type ActivityLoader interface {
	GetActivity(ctx context.Context, id string) (Activity, error)
}

// notification is the payload the activities trigger sends with NOTIFY.
type notification struct {
	Op        string `json:"op"`
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Deleted   bool   `json:"deleted"`
}

// PGFeed reads activity changes from Postgres LISTEN/NOTIFY. It holds one
// pool connection while listening and reacquires it after a failure.
type PGFeed struct {
	pool    *pgxpool.Pool
	channel string
	loader  ActivityLoader
	logger  *slog.Logger
	conn    *pgxpool.Conn
}

// NewPGFeed builds a feed listening on channel.
func NewPGFeed(pool *pgxpool.Pool, channel string, loader ActivityLoader, logger *slog.Logger) *PGFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGFeed{pool: pool, channel: channel, loader: loader, logger: logger}
}

// Next implements Feed. It is not safe for concurrent use.
func (f *PGFeed) Next(ctx context.Context) (Record, error) {
	for {
		if err := f.listen(ctx); err != nil {
			return Record{}, err
		}
		n, err := f.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Record{}, ctx.Err()
			}
			f.release()
			return Record{}, shared.Transient("channels: wait notification", err)
		}
		rec, ok, err := f.record(ctx, n.Payload)
		if err != nil {
			return Record{}, err
		}
		if ok {
			return rec, nil
		}
	}
}

// Close releases the listening connection.
func (f *PGFeed) Close() {
	f.release()
}

func (f *PGFeed) listen(ctx context.Context) error {
	if f.conn != nil {
		return nil
	}
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return shared.Transient("channels: acquire listener", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		conn.Release()
		return shared.Transient("channels: listen", err)
	}
	f.conn = conn
	f.logger.Info("listening for activity changes", slog.String("channel", f.channel))
	return nil
}

func (f *PGFeed) release() {
	if f.conn == nil {
		return
	}
	// A connection left in LISTEN state must not go back to the pool.
	_ = f.conn.Hijack().Close(context.Background())
	f.conn = nil
}

// record decodes one payload. ok is false when the notification is skipped.
func (f *PGFeed) record(ctx context.Context, payload string) (Record, bool, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		f.logger.Warn("skip malformed activity notification", slog.String("payload", payload), slog.Any("error", err))
		return Record{}, false, nil
	}
	rec := Record{ID: n.ID, ChannelID: n.ChannelID}
	switch n.Op {
	case "DELETE":
		rec.Deleted = true
		return rec, true, nil
	case "INSERT", "UPDATE":
		if n.Deleted {
			rec.Deleted = true
			return rec, true, nil
		}
		rec.HasPrevious = n.Op == "UPDATE"
	default:
		f.logger.Warn("skip activity notification", slog.String("op", n.Op))
		return Record{}, false, nil
	}
	activity, err := f.loader.GetActivity(ctx, n.ID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Removed before it could be read; the delete notification follows.
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("channels: load activity %s: %w", n.ID, err)
	}
	rec.Current = &activity
	return rec, true, nil
}
