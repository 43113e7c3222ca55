package channels

import (
	"context"
	"errors"
	"sync"
)

// ErrFeedClosed is returned by Feed.Next once the feed has no more records.
var ErrFeedClosed = errors.New("channels: feed closed")

// Record is one entry of the activity change feed.
type Record struct {
	ID        string
	ChannelID string
	// Deleted is set when the activity was removed or soft deleted.
	Deleted bool
	// HasPrevious is false on the first appearance of an activity.
	HasPrevious bool
	Current     *Activity
}

// Feed yields change records in commit order.
type Feed interface {
	Next(ctx context.Context) (Record, error)
}

// Classify turns a record into the event broadcast for it.
func Classify(rec Record) ChangeEvent {
	switch {
	case rec.Deleted:
		return ChangeEvent{ChannelID: rec.ChannelID, Kind: Deleted, ID: rec.ID}
	case !rec.HasPrevious:
		return ChangeEvent{ChannelID: rec.ChannelID, Kind: Added, Activity: rec.Current, ID: rec.ID}
	default:
		return ChangeEvent{ChannelID: rec.ChannelID, Kind: Updated, Activity: rec.Current, ID: rec.ID}
	}
}

// MemoryFeed is an in-process feed backed by a buffered channel.
type MemoryFeed struct {
	records chan Record
	once    sync.Once
}

// NewMemoryFeed builds a feed holding up to size pending records.
func NewMemoryFeed(size int) *MemoryFeed {
	return &MemoryFeed{records: make(chan Record, size)}
}

// Push appends a record, blocking while the buffer is full.
func (f *MemoryFeed) Push(ctx context.Context, rec Record) error {
	select {
	case f.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the feed once pending records are consumed.
func (f *MemoryFeed) Close() {
	f.once.Do(func() { close(f.records) })
}

// Next implements Feed.
func (f *MemoryFeed) Next(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case rec, ok := <-f.records:
		if !ok {
			return Record{}, ErrFeedClosed
		}
		return rec, nil
	}
}
