package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// MemoryRepository keeps channels and activities in process memory. When a
// feed is attached every write is mirrored onto it in write order, like the
// Postgres trigger.
type MemoryRepository struct {
	// writes serializes activity writes with their feed push; mu alone
	// guards the maps so reads never wait on a full feed.
	writes     sync.Mutex
	mu         sync.RWMutex
	channels   map[string]Channel
	activities map[string]Activity
	feed       *MemoryFeed
}

// NewMemoryRepository builds a repository. feed may be nil.
func NewMemoryRepository(feed *MemoryFeed, initial ...Channel) *MemoryRepository {
	m := &MemoryRepository{
		channels:   make(map[string]Channel),
		activities: make(map[string]Activity),
		feed:       feed,
	}
	for _, ch := range initial {
		m.channels[ch.ID] = ch
	}
	return m
}

func (m *MemoryRepository) GetChannel(_ context.Context, id string) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return Channel{}, &shared.NotFoundError{Resource: "channel", ID: id}
	}
	return ch, nil
}

func (m *MemoryRepository) ListChannels(_ context.Context) ([]Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) CreateChannel(_ context.Context, ch Channel) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[ch.ID]; ok {
		return Channel{}, fmt.Errorf("%w: channel %q exists", shared.ErrConflict, ch.ID)
	}
	ch.CreatedAt = time.Now().UTC()
	m.channels[ch.ID] = ch
	return ch, nil
}

func (m *MemoryRepository) UpdateChannel(_ context.Context, ch Channel) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.channels[ch.ID]
	if !ok {
		return Channel{}, &shared.NotFoundError{Resource: "channel", ID: ch.ID}
	}
	ch.OwnerID = existing.OwnerID
	ch.CreatedAt = existing.CreatedAt
	m.channels[ch.ID] = ch
	return ch, nil
}

func (m *MemoryRepository) GetActivity(_ context.Context, id string) (Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[id]
	if !ok {
		return Activity{}, &shared.NotFoundError{Resource: "activity", ID: id}
	}
	return a, nil
}

func (m *MemoryRepository) ListActivities(_ context.Context, channelID string, limit int) ([]Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Activity
	for _, a := range m.activities {
		if a.ChannelID == channelID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Published.After(out[j].Published) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) UpsertActivity(ctx context.Context, a Activity) (Activity, bool, error) {
	m.writes.Lock()
	defer m.writes.Unlock()

	m.mu.Lock()
	prev, exists := m.activities[a.ID]
	if exists && (prev.ChannelID != a.ChannelID || prev.ActorID != a.ActorID) {
		m.mu.Unlock()
		return Activity{}, false, fmt.Errorf("%w: activity %q belongs to another channel or author", shared.ErrConflict, a.ID)
	}
	if exists {
		a.Published = prev.Published
	}
	a.Updated = time.Now().UTC()
	m.activities[a.ID] = a
	m.mu.Unlock()

	if m.feed != nil {
		current := a
		if err := m.feed.Push(ctx, Record{ID: a.ID, ChannelID: a.ChannelID, HasPrevious: exists, Current: &current}); err != nil {
			return Activity{}, false, err
		}
	}
	return a, !exists, nil
}

func (m *MemoryRepository) DeleteActivity(ctx context.Context, id string) error {
	m.writes.Lock()
	defer m.writes.Unlock()

	m.mu.Lock()
	a, ok := m.activities[id]
	delete(m.activities, id)
	m.mu.Unlock()
	if !ok {
		return &shared.NotFoundError{Resource: "activity", ID: id}
	}
	if m.feed != nil {
		return m.feed.Push(ctx, Record{ID: id, ChannelID: a.ChannelID, Deleted: true, HasPrevious: true})
	}
	return nil
}
