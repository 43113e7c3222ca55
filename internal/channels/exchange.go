package channels

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Exchange broadcasts change events keyed by channel id.
type Exchange interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Subscriber streams the events of one channel until ctx ends. The returned
// channel is closed when the subscription stops.
type Subscriber interface {
	Subscribe(ctx context.Context, channelID string) (<-chan ChangeEvent, error)
}

// RedisExchange fans events out through Redis pub/sub.
type RedisExchange struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisExchange builds an exchange on client.
func NewRedisExchange(client *redis.Client, logger *slog.Logger) *RedisExchange {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisExchange{client: client, logger: logger}
}

// RedisChannel returns the pub/sub channel name for a feed channel.
func RedisChannel(channelID string) string {
	return "feed:channel:" + channelID
}

// Publish implements Exchange.
func (x *RedisExchange) Publish(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := x.client.Publish(ctx, RedisChannel(ev.ChannelID), payload).Err(); err != nil {
		return shared.Transient("channels: redis publish", err)
	}
	return nil
}

// Subscribe implements Subscriber.
func (x *RedisExchange) Subscribe(ctx context.Context, channelID string) (<-chan ChangeEvent, error) {
	ps := x.client.Subscribe(ctx, RedisChannel(channelID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, shared.Transient("channels: redis subscribe", err)
	}
	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		defer ps.Close()
		messages := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					x.logger.Warn("drop undecodable change event", slog.String("channel", channelID), slog.Any("error", err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// MemoryExchange delivers events in process and records everything published.
type MemoryExchange struct {
	mu          sync.Mutex
	published   []ChangeEvent
	subscribers map[string]map[chan ChangeEvent]struct{}
	failWith    error
}

// NewMemoryExchange builds an empty exchange.
func NewMemoryExchange() *MemoryExchange {
	return &MemoryExchange{subscribers: make(map[string]map[chan ChangeEvent]struct{})}
}

// FailWith makes Publish return err until reset with nil.
func (x *MemoryExchange) FailWith(err error) {
	x.mu.Lock()
	x.failWith = err
	x.mu.Unlock()
}

// Published returns a copy of every event accepted so far.
func (x *MemoryExchange) Published() []ChangeEvent {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]ChangeEvent(nil), x.published...)
}

// Subscribers returns the number of live subscriptions on a channel.
func (x *MemoryExchange) Subscribers(channelID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.subscribers[channelID])
}

// Publish implements Exchange. Slow subscribers miss events rather than
// blocking the publisher.
func (x *MemoryExchange) Publish(_ context.Context, ev ChangeEvent) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.failWith != nil {
		return x.failWith
	}
	x.published = append(x.published, ev)
	for sub := range x.subscribers[ev.ChannelID] {
		select {
		case sub <- ev:
		default:
		}
	}
	return nil
}

// Subscribe implements Subscriber.
func (x *MemoryExchange) Subscribe(ctx context.Context, channelID string) (<-chan ChangeEvent, error) {
	sub := make(chan ChangeEvent, 64)
	x.mu.Lock()
	if x.subscribers[channelID] == nil {
		x.subscribers[channelID] = make(map[chan ChangeEvent]struct{})
	}
	x.subscribers[channelID][sub] = struct{}{}
	x.mu.Unlock()

	go func() {
		<-ctx.Done()
		x.mu.Lock()
		delete(x.subscribers[channelID], sub)
		close(sub)
		x.mu.Unlock()
	}()
	return sub, nil
}
