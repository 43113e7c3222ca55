package channels

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-feed/odyssey-feed/internal/acl"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// ErrRejected is returned by PublishChecked when the gate allowed the
// publish but the activity was invalid or could not be stored.
var ErrRejected = errors.New("channels: activity rejected")

// Repository persists channels and activities.
type Repository interface {
	GetChannel(ctx context.Context, id string) (Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	// CreateChannel fails with shared.ErrConflict when the id is taken.
	CreateChannel(ctx context.Context, ch Channel) (Channel, error)
	// UpdateChannel replaces title and members; the owner is kept.
	UpdateChannel(ctx context.Context, ch Channel) (Channel, error)
	GetActivity(ctx context.Context, id string) (Activity, error)
	ListActivities(ctx context.Context, channelID string, limit int) ([]Activity, error)
	// UpsertActivity stores the activity; created reports whether it is new.
	// Rewriting an activity of another channel or author is a conflict.
	UpsertActivity(ctx context.Context, a Activity) (saved Activity, created bool, err error)
	DeleteActivity(ctx context.Context, id string) error
}

// SchemaValidator checks activity content against its type's schema.
type SchemaValidator interface {
	Validate(ctx context.Context, typeName string, content map[string]any) error
}

// Notification is the side-channel message sent for a new activity.
type Notification struct {
	ChannelID  string `json:"channel_id"`
	ActivityID string `json:"activity_id"`
	ActorID    string `json:"actor_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Authorizer is the gate every guarded operation consults.
type Authorizer interface {
	Check(ctx context.Context, token *shared.ActorToken, topic, required string, actionType acl.ActionType, message string) error
}

// Options configures Service.
type Options struct {
	PreviewRunes int
	Logger       *slog.Logger
}

// Service implements channel operations.
type Service struct {
	repo       Repository
	schemas    SchemaValidator
	gate       Authorizer
	subscriber Subscriber
	notifier   Notifier
	preview    int
	logger     *slog.Logger
	now        func() time.Time

	pending sync.WaitGroup
}

// NewService builds Service instance. notifier and subscriber may be nil.
func NewService(repo Repository, schemas SchemaValidator, gate Authorizer, subscriber Subscriber, notifier Notifier, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PreviewRunes <= 0 {
		opts.PreviewRunes = 140
	}
	return &Service{
		repo:       repo,
		schemas:    schemas,
		gate:       gate,
		subscriber: subscriber,
		notifier:   notifier,
		preview:    opts.PreviewRunes,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Publish validates and stores an activity in channelID. It reports false,
// with a logged diagnostic, when the activity is invalid or cannot be
// stored. It performs no authorization; see PublishChecked.
func (s *Service) Publish(ctx context.Context, token *shared.ActorToken, channelID string, msg Activity) bool {
	_, err := s.publish(ctx, token, channelID, msg)
	return err == nil
}

// PublishChecked gates the publish with "p" before calling Publish. Owners
// are checked against owner actions, then member actions; everyone else
// against member actions.
func (s *Service) PublishChecked(ctx context.Context, token *shared.ActorToken, channelID string, msg Activity) (Activity, error) {
	ch, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return Activity{}, err
	}
	actionType := acl.Member
	if ch.IsOwner(token.Actor()) {
		actionType = acl.Owner
	}
	if err := s.authorize(ctx, token, ch, "p", actionType); err != nil {
		return Activity{}, err
	}
	saved, err := s.publish(ctx, token, ch.ID, msg)
	if err != nil {
		return Activity{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return saved, nil
}

func (s *Service) publish(ctx context.Context, token *shared.ActorToken, channelID string, msg Activity) (Activity, error) {
	logger := s.logger.With(slog.String("channel", channelID), slog.String("actor", token.Actor()))
	if err := s.schemas.Validate(ctx, msg.Type, msg.Content); err != nil {
		logger.Warn("publish rejected by content schema", slog.String("type", msg.Type), slog.Any("error", err))
		return Activity{}, err
	}
	hash, err := ContentHash(msg.Content)
	if err != nil {
		logger.Warn("publish rejected: content not hashable", slog.Any("error", err))
		return Activity{}, shared.NewValidationError("content", err.Error())
	}
	msg.ChannelID = channelID
	msg.ContentHash = hash
	msg.ActorID = token.Actor()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	} else if err := s.ownsActivity(ctx, token, channelID, msg.ID); err != nil {
		logger.Warn("publish rejected: activity id taken", slog.String("activity", msg.ID), slog.Any("error", err))
		return Activity{}, err
	}
	if msg.Published.IsZero() {
		msg.Published = s.now().UTC()
	}

	saved, created, err := s.repo.UpsertActivity(ctx, msg)
	if err != nil {
		logger.Error("store activity", slog.String("activity", msg.ID), slog.Any("error", err))
		return Activity{}, err
	}
	if created {
		s.notify(ctx, saved)
	}
	return saved, nil
}

// ownsActivity lets a caller supply an existing activity id only to rewrite
// their own activity in the same channel.
func (s *Service) ownsActivity(ctx context.Context, token *shared.ActorToken, channelID, id string) error {
	existing, err := s.repo.GetActivity(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ChannelID != channelID || token.Actor() == "" || existing.ActorID != token.Actor() {
		return fmt.Errorf("channels: activity %q belongs to another channel or author: %w", id, shared.ErrForbidden)
	}
	return nil
}

// notify hands the notification off without blocking the publish path.
func (s *Service) notify(ctx context.Context, a Activity) {
	if s.notifier == nil {
		return
	}
	n := Notification{
		ChannelID:  a.ChannelID,
		ActivityID: a.ID,
		ActorID:    a.ActorID,
		Title:      a.Type,
		Body:       Preview(a.Content, s.preview),
	}
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("notify new activity", slog.String("activity", n.ActivityID), slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight notifications are handed off.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ActionTypeFor picks the permission set an actor is checked against on a channel.
func ActionTypeFor(ch Channel, actorID string) acl.ActionType {
	switch {
	case ch.IsOwner(actorID):
		return acl.Owner
	case ch.IsMember(actorID):
		return acl.Member
	default:
		return acl.General
	}
}

// Subscribe streams the change events of a channel the caller may read.
func (s *Service) Subscribe(ctx context.Context, token *shared.ActorToken, channelID string) (<-chan ChangeEvent, error) {
	if s.subscriber == nil {
		return nil, shared.Transient("channels: subscribe", errors.New("no subscriber configured"))
	}
	ch, err := s.readable(ctx, token, channelID)
	if err != nil {
		return nil, err
	}
	return s.subscriber.Subscribe(ctx, ch.ID)
}

// Activities lists the latest activities of a channel the caller may read.
func (s *Service) Activities(ctx context.Context, token *shared.ActorToken, channelID string, limit int) ([]Activity, error) {
	ch, err := s.readable(ctx, token, channelID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListActivities(ctx, ch.ID, limit)
}

// Channels lists the channels the caller may read.
func (s *Service) Channels(ctx context.Context, token *shared.ActorToken) ([]Channel, error) {
	all, err := s.repo.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]Channel, 0, len(all))
	for _, ch := range all {
		if err := s.authorize(ctx, token, ch, "r", ActionTypeFor(ch, token.Actor())); err != nil {
			continue
		}
		visible = append(visible, ch)
	}
	return visible, nil
}

// CreateChannel stores a new channel owned by the caller. Authorization
// happens at the HTTP layer. Taken ids fail with shared.ErrConflict.
func (s *Service) CreateChannel(ctx context.Context, token *shared.ActorToken, ch Channel) (Channel, error) {
	ch.ID = strings.TrimSpace(ch.ID)
	if ch.ID == "" {
		return Channel{}, shared.NewValidationError("id", "required")
	}
	if token.Actor() == "" {
		return Channel{}, shared.ErrUnauthorized
	}
	ch.OwnerID = token.Actor()
	return s.repo.CreateChannel(ctx, ch)
}

// UpdateChannel replaces the title and members of a channel. It needs "u" on
// the channel; the owner never changes.
func (s *Service) UpdateChannel(ctx context.Context, token *shared.ActorToken, ch Channel) (Channel, error) {
	existing, err := s.repo.GetChannel(ctx, ch.ID)
	if err != nil {
		return Channel{}, err
	}
	if err := s.authorize(ctx, token, existing, "u", ActionTypeFor(existing, token.Actor())); err != nil {
		return Channel{}, err
	}
	ch.OwnerID = existing.OwnerID
	return s.repo.UpdateChannel(ctx, ch)
}

// DeleteActivity removes an activity. Authors are checked against owner
// actions for their own activities.
func (s *Service) DeleteActivity(ctx context.Context, token *shared.ActorToken, id string) error {
	activity, err := s.repo.GetActivity(ctx, id)
	if err != nil {
		return err
	}
	ch, err := s.repo.GetChannel(ctx, activity.ChannelID)
	if err != nil {
		return err
	}
	actionType := ActionTypeFor(ch, token.Actor())
	if token.Actor() != "" && activity.ActorID == token.Actor() {
		actionType = acl.Owner
	}
	if err := s.authorize(ctx, token, ch, "d", actionType); err != nil {
		return err
	}
	return s.repo.DeleteActivity(ctx, id)
}

// authorize checks required on the channel topic. A denied owner check falls
// back to the caller's member or general actions; store failures do not.
func (s *Service) authorize(ctx context.Context, token *shared.ActorToken, ch Channel, required string, actionType acl.ActionType) error {
	err := s.gate.Check(ctx, token, ch.ID, required, actionType, "")
	if err == nil || actionType != acl.Owner || errors.Is(err, shared.ErrTransient) {
		return err
	}
	fallback := acl.General
	if ch.IsMember(token.Actor()) {
		fallback = acl.Member
	}
	return s.gate.Check(ctx, token, ch.ID, required, fallback, "")
}

func (s *Service) readable(ctx context.Context, token *shared.ActorToken, channelID string) (Channel, error) {
	ch, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}
	if err := s.authorize(ctx, token, ch, "r", ActionTypeFor(ch, token.Actor())); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// ContentHash is the hex BLAKE2b-256 digest of the JSON encoding of content.
// Map keys encode sorted, so equal content hashes equally.
func ContentHash(content map[string]any) (string, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Preview renders a short plain-text excerpt of content for notifications.
func Preview(content map[string]any, limit int) string {
	var text string
	for _, key := range []string{"text", "title", "body", "url"} {
		if v, ok := content[key].(string); ok && strings.TrimSpace(v) != "" {
			text = v
			break
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
