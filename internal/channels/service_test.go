package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-feed/odyssey-feed/internal/acl"
	"github.com/odyssey-feed/odyssey-feed/internal/content"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

type gateCall struct {
	topic      string
	required   string
	actionType acl.ActionType
}

// grantGate allows a check when its "topic/required/type" key is granted.
type grantGate struct {
	mu     sync.Mutex
	grants map[string]bool
	calls  []gateCall
	// cause makes every denial look like a store outage.
	cause error
}

func (g *grantGate) Check(_ context.Context, _ *shared.ActorToken, topic, required string, at acl.ActionType, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gateCall{topic, required, at})
	if g.grants[topic+"/"+required+"/"+at.String()] {
		return nil
	}
	return &acl.DeniedError{Topic: topic, Required: required, ActionType: at, Message: "denied", Cause: g.cause}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

var alice = &shared.ActorToken{ActorID: "alice"}

func newService(t *testing.T, gate *grantGate, feed *MemoryFeed) (*Service, *MemoryRepository, *recordingNotifier, *MemoryExchange) {
	t.Helper()
	repo := NewMemoryRepository(feed,
		Channel{ID: "general", OwnerID: "olive", Members: []string{"alice"}},
		Channel{ID: "staff", OwnerID: "olive"},
	)
	notifier := &recordingNotifier{}
	exchange := NewMemoryExchange()
	svc := NewService(repo, content.NewRegistry(), gate, exchange, notifier, Options{PreviewRunes: 10})
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	return svc, repo, notifier, exchange
}

func TestPublishStampsAndNotifiesOnCreate(t *testing.T) {
	svc, repo, notifier, _ := newService(t, &grantGate{}, nil)
	ctx := context.Background()

	msg := Activity{ID: "a1", ActorID: "spoofed", Type: "note", Content: map[string]any{"text": "hello from the general channel"}}
	require.True(t, svc.Publish(ctx, alice, "general", msg))
	svc.Wait()

	stored, err := repo.GetActivity(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "general", stored.ChannelID)
	assert.Equal(t, "alice", stored.ActorID)
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), stored.Published)
	hash, err := ContentHash(msg.Content)
	require.NoError(t, err)
	assert.Equal(t, hash, stored.ContentHash)
	assert.Len(t, stored.ContentHash, 64)

	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hello fro…", sent[0].Body)
	assert.Equal(t, "general", sent[0].ChannelID)

	msg.Content = map[string]any{"text": "edited"}
	require.True(t, svc.Publish(ctx, alice, "general", msg))
	svc.Wait()
	assert.Len(t, notifier.Sent(), 1, "updates must not notify")
}

func TestPublishKeepsGivenTimestamp(t *testing.T) {
	svc, repo, _, _ := newService(t, &grantGate{}, nil)
	when := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, svc.Publish(context.Background(), alice, "general",
		Activity{ID: "a1", Type: "note", Content: map[string]any{"text": "x"}, Published: when}))
	stored, err := repo.GetActivity(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, when, stored.Published)
}

func TestPublishRejectsInvalidContent(t *testing.T) {
	svc, repo, notifier, _ := newService(t, &grantGate{}, nil)
	ctx := context.Background()

	assert.False(t, svc.Publish(ctx, alice, "general", Activity{ID: "a1", Type: "note", Content: map[string]any{}}))
	assert.False(t, svc.Publish(ctx, alice, "general", Activity{ID: "a2", Type: "poll"}))
	svc.Wait()

	_, err := repo.GetActivity(ctx, "a1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, notifier.Sent())
}

func TestPublishNotifierFailureDoesNotFailPublish(t *testing.T) {
	svc, _, notifier, _ := newService(t, &grantGate{}, nil)
	notifier.err = errors.New("queue full")

	assert.True(t, svc.Publish(context.Background(), alice, "general",
		Activity{Type: "note", Content: map[string]any{"text": "x"}}))
	svc.Wait()
	assert.Len(t, notifier.Sent(), 1)
}

func TestPublishCheckedGatesFirst(t *testing.T) {
	gate := &grantGate{}
	svc, repo, _, _ := newService(t, gate, nil)
	ctx := context.Background()
	msg := Activity{ID: "a1", Type: "note", Content: map[string]any{"text": "x"}}

	_, err := svc.PublishChecked(ctx, alice, "general", msg)
	var denied *acl.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, []gateCall{{"general", "p", acl.Member}}, gate.calls)
	_, err = repo.GetActivity(ctx, "a1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	gate.grants = map[string]bool{"general/p/member": true}
	saved, err := svc.PublishChecked(ctx, alice, "general", msg)
	require.NoError(t, err)
	assert.Equal(t, "alice", saved.ActorID)

	_, err = svc.PublishChecked(ctx, alice, "general", Activity{Type: "note"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.PublishChecked(ctx, alice, "nowhere", msg)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPublishCheckedOwnerUsesOwnerActions(t *testing.T) {
	gate := &grantGate{grants: map[string]bool{"staff/p/owner": true}}
	svc, _, _, _ := newService(t, gate, nil)

	_, err := svc.PublishChecked(context.Background(), &shared.ActorToken{ActorID: "olive"}, "staff",
		Activity{Type: "note", Content: map[string]any{"text": "x"}})
	require.NoError(t, err)
}

func TestActionTypeFor(t *testing.T) {
	ch := Channel{ID: "general", OwnerID: "olive", Members: []string{"alice"}}
	assert.Equal(t, acl.Owner, ActionTypeFor(ch, "olive"))
	assert.Equal(t, acl.Member, ActionTypeFor(ch, "alice"))
	assert.Equal(t, acl.General, ActionTypeFor(ch, "bob"))
	assert.Equal(t, acl.General, ActionTypeFor(ch, ""))
}

func TestChannelsFiltersByReadAccess(t *testing.T) {
	gate := &grantGate{grants: map[string]bool{"general/r/member": true}}
	svc, _, _, _ := newService(t, gate, nil)

	visible, err := svc.Channels(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "general", visible[0].ID)
}

func TestDeleteActivityAuthorUsesOwnerActions(t *testing.T) {
	gate := &grantGate{grants: map[string]bool{"general/d/owner": true}}
	svc, repo, _, _ := newService(t, gate, nil)
	ctx := context.Background()
	require.True(t, svc.Publish(ctx, alice, "general", Activity{ID: "a1", Type: "note", Content: map[string]any{"text": "x"}}))

	err := svc.DeleteActivity(ctx, &shared.ActorToken{ActorID: "bob"}, "a1")
	assert.ErrorIs(t, err, shared.ErrForbidden)

	require.NoError(t, svc.DeleteActivity(ctx, alice, "a1"))
	_, err = repo.GetActivity(ctx, "a1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSubscribeRequiresRead(t *testing.T) {
	gate := &grantGate{grants: map[string]bool{"general/r/member": true}}
	svc, _, _, exchange := newService(t, gate, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Subscribe(ctx, alice, "staff")
	assert.ErrorIs(t, err, shared.ErrForbidden)

	events, err := svc.Subscribe(ctx, alice, "general")
	require.NoError(t, err)
	require.NoError(t, exchange.Publish(ctx, ChangeEvent{ChannelID: "general", Kind: Deleted, ID: "a1"}))
	select {
	case ev := <-events:
		assert.Equal(t, "a1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishFlowsThroughEngine(t *testing.T) {
	feed := NewMemoryFeed(16)
	svc, _, _, exchange := newService(t, &grantGate{}, feed)
	ctx := context.Background()

	require.True(t, svc.Publish(ctx, alice, "general", Activity{ID: "a1", Type: "note", Content: map[string]any{"text": "one"}}))
	require.True(t, svc.Publish(ctx, alice, "general", Activity{ID: "a1", Type: "note", Content: map[string]any{"text": "two"}}))
	require.NoError(t, svc.repo.DeleteActivity(ctx, "a1"))
	svc.Wait()
	feed.Close()

	require.NoError(t, NewEngine(feed, exchange, 2, nil, nil).Run(ctx))
	var kinds []ChangeKind
	for _, ev := range exchange.Published() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []ChangeKind{Added, Updated, Deleted}, kinds)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview(map[string]any{"text": "short"}, 140))
	assert.Equal(t, "a b", Preview(map[string]any{"text": "  a \n b "}, 140))
	long := strings.Repeat("é", 200)
	got := Preview(map[string]any{"text": long}, 140)
	assert.Equal(t, 140, len([]rune(got)))
	assert.Equal(t, "Meetup", Preview(map[string]any{"title": "Meetup"}, 140))
}

func TestContentHashIgnoresKeyOrder(t *testing.T) {
	a, err := ContentHash(map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	b, err := ContentHash(map[string]any{"b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRedisExchangeRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	exchange := NewRedisExchange(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := exchange.Subscribe(ctx, "general")
	require.NoError(t, err)

	a := &Activity{ID: "a1", ChannelID: "general", Type: "note", Content: map[string]any{"text": "hi"}}
	require.NoError(t, exchange.Publish(ctx, ChangeEvent{ChannelID: "general", Kind: Added, Activity: a, ID: "a1"}))

	select {
	case ev := <-events:
		assert.Equal(t, Added, ev.Kind)
		require.NotNil(t, ev.Activity)
		assert.Equal(t, "hi", ev.Activity.Content["text"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublishCannotRewriteForeignActivity(t *testing.T) {
	gate := &grantGate{grants: map[string]bool{
		"staff/p/owner":    true,
		"general/p/owner":  true,
		"general/p/member": true,
	}}
	svc, repo, _, _ := newService(t, gate, nil)
	ctx := context.Background()
	olive := &shared.ActorToken{ActorID: "olive"}

	staffNote, err := svc.PublishChecked(ctx, olive, "staff", Activity{Type: "note", Content: map[string]any{"text": "staff only"}})
	require.NoError(t, err)
	generalNote, err := svc.PublishChecked(ctx, olive, "general", Activity{Type: "note", Content: map[string]any{"text": "welcome"}})
	require.NoError(t, err)

	_, err = svc.PublishChecked(ctx, alice, "general", Activity{ID: staffNote.ID, Type: "note", Content: map[string]any{"text": "moved"}})
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.PublishChecked(ctx, alice, "general", Activity{ID: generalNote.ID, Type: "note", Content: map[string]any{"text": "edited"}})
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.False(t, svc.Publish(ctx, nil, "staff", Activity{ID: staffNote.ID, Type: "note", Content: map[string]any{"text": "guest"}}))

	for _, want := range []Activity{staffNote, generalNote} {
		stored, err := repo.GetActivity(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.ChannelID, stored.ChannelID)
		assert.Equal(t, "olive", stored.ActorID)
		assert.Equal(t, want.Content, stored.Content)
	}

	_, err = svc.PublishChecked(ctx, olive, "staff", Activity{ID: staffNote.ID, Type: "note", Content: map[string]any{"text": "revised"}})
	require.NoError(t, err)
}

func TestMemoryRepositoryRejectsForeignUpsert(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()
	_, _, err := repo.UpsertActivity(ctx, Activity{ID: "a1", ChannelID: "staff", ActorID: "olive"})
	require.NoError(t, err)

	_, _, err = repo.UpsertActivity(ctx, Activity{ID: "a1", ChannelID: "general", ActorID: "olive"})
	assert.ErrorIs(t, err, shared.ErrConflict)
	_, _, err = repo.UpsertActivity(ctx, Activity{ID: "a1", ChannelID: "staff", ActorID: "alice"})
	assert.ErrorIs(t, err, shared.ErrConflict)

	stored, err := repo.GetActivity(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "staff", stored.ChannelID)
	assert.Equal(t, "olive", stored.ActorID)
}

func TestMemoryRepositoryFeedFollowsWriteOrder(t *testing.T) {
	feed := NewMemoryFeed(64)
	repo := NewMemoryRepository(feed)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			_, _, err := repo.UpsertActivity(ctx, Activity{ID: "a1", ChannelID: "general", ActorID: "alice", Content: map[string]any{"seq": seq}})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	feed.Close()

	var records []Record
	for rec := range feed.records {
		records = append(records, rec)
	}
	require.Len(t, records, 50)
	assert.False(t, records[0].HasPrevious, "the inserting write must reach the feed first")
	for _, rec := range records[1:] {
		assert.True(t, rec.HasPrevious)
	}
	stored, err := repo.GetActivity(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, stored.Content, records[len(records)-1].Current.Content)
}

func TestCreateChannelNeverTakesOver(t *testing.T) {
	svc, repo, _, _ := newService(t, &grantGate{}, nil)
	ctx := context.Background()

	_, err := svc.CreateChannel(ctx, alice, Channel{ID: "staff", Members: []string{"alice"}})
	assert.ErrorIs(t, err, shared.ErrConflict)

	ch, err := repo.GetChannel(ctx, "staff")
	require.NoError(t, err)
	assert.Equal(t, "olive", ch.OwnerID)
	assert.Empty(t, ch.Members)
}

func TestUpdateChannelKeepsOwner(t *testing.T) {
	gate := &grantGate{grants: map[string]bool{"general/u/owner": true}}
	svc, repo, _, _ := newService(t, gate, nil)
	ctx := context.Background()

	_, err := svc.UpdateChannel(ctx, alice, Channel{ID: "general", Title: "mine", OwnerID: "alice"})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	updated, err := svc.UpdateChannel(ctx, &shared.ActorToken{ActorID: "olive"},
		Channel{ID: "general", Title: "General", OwnerID: "alice", Members: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "olive", updated.OwnerID)

	stored, err := repo.GetChannel(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "olive", stored.OwnerID)
	assert.Equal(t, "General", stored.Title)
	assert.Equal(t, []string{"alice", "bob"}, stored.Members)

	_, err = svc.UpdateChannel(ctx, alice, Channel{ID: "nowhere"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPublishCheckedOwnerFallsBackToMemberActions(t *testing.T) {
	gate := &grantGate{grants: map[string]bool{"staff/p/member": true}}
	svc, _, _, _ := newService(t, gate, nil)
	olive := &shared.ActorToken{ActorID: "olive"}

	_, err := svc.PublishChecked(context.Background(), olive, "staff", Activity{Type: "note", Content: map[string]any{"text": "x"}})
	require.NoError(t, err)
	assert.Equal(t, []gateCall{{"staff", "p", acl.Owner}, {"staff", "p", acl.Member}}, gate.calls)
}

func TestOwnerFallbackSkippedOnStoreFailure(t *testing.T) {
	gate := &grantGate{grants: map[string]bool{"staff/p/member": true}, cause: shared.Transient("rules", errors.New("timeout"))}
	svc, _, _, _ := newService(t, gate, nil)
	olive := &shared.ActorToken{ActorID: "olive"}

	_, err := svc.PublishChecked(context.Background(), olive, "staff", Activity{Type: "note", Content: map[string]any{"text": "x"}})
	assert.ErrorIs(t, err, shared.ErrTransient)
	assert.Len(t, gate.calls, 1)
}
