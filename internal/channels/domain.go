// Package channels publishes activities into channels and fans out their
// changes to subscribers.
package channels

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Channel is a named stream of activities.
type Channel struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// IsOwner reports whether actorID owns the channel.
func (c Channel) IsOwner(actorID string) bool {
	return actorID != "" && c.OwnerID == actorID
}

// IsMember reports whether actorID belongs to the channel. Owners count.
func (c Channel) IsMember(actorID string) bool {
	if actorID == "" {
		return false
	}
	return c.IsOwner(actorID) || slices.Contains(c.Members, actorID)
}

// Activity is one message or event published into a channel.
type Activity struct {
	ID          string         `json:"id"`
	ChannelID   string         `json:"channel_id"`
	ActorID     string         `json:"actor_id"`
	Type        string         `json:"type"`
	Content     map[string]any `json:"content"`
	ContentHash string         `json:"content_hash"`
	Published   time.Time      `json:"published"`
	Updated     time.Time      `json:"updated"`
}

// ChangeKind classifies one change of an activity.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Updated ChangeKind = "updated"
	Deleted ChangeKind = "deleted"
)

// ChangeEvent is broadcast on a channel once per change. Deleted events carry
// only the activity id.
type ChangeEvent struct {
	ChannelID string
	Kind      ChangeKind
	Activity  *Activity
	ID        string
}

type wireEvent struct {
	ChannelID string          `json:"channelId"`
	Kind      ChangeKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event as {channelId, kind, payload}.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	if e.Kind == Deleted || e.Activity == nil {
		payload, err = json.Marshal(e.ID)
	} else {
		payload, err = json.Marshal(e.Activity)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{ChannelID: e.ChannelID, Kind: e.Kind, Payload: payload})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = ChangeEvent{ChannelID: w.ChannelID, Kind: w.Kind}
	switch w.Kind {
	case Deleted:
		return json.Unmarshal(w.Payload, &e.ID)
	case Added, Updated:
		var a Activity
		if err := json.Unmarshal(w.Payload, &a); err != nil {
			return err
		}
		e.Activity = &a
		e.ID = a.ID
		return nil
	default:
		return fmt.Errorf("channels: unknown change kind %q", w.Kind)
	}
}
