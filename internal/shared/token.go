package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ActorToken identifies the caller of an action. A nil token is the
// anonymous (guest) caller.
type ActorToken struct {
	Token     string    `json:"-"`
	ActorID   string    `json:"actor_id"`
	Locale    string    `json:"locale,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Actor returns the actor id, or "" for anonymous callers.
func (t *ActorToken) Actor() string {
	if t == nil {
		return ""
	}
	return t.ActorID
}

// Language returns the preferred locale of the caller, if any.
func (t *ActorToken) Language() string {
	if t == nil {
		return ""
	}
	return t.Locale
}

// TokenStore keeps bearer tokens in Redis.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl, now: time.Now}
}

// Issue creates a new token for the actor.
func (s *TokenStore) Issue(ctx context.Context, actorID, locale string) (*ActorToken, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, NewValidationError("actor_id", "required")
	}
	now := s.now().UTC()
	token := &ActorToken{
		Token:     uuid.NewString(),
		ActorID:   actorID,
		Locale:    strings.TrimSpace(locale),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.redisKey(token.Token), payload, s.ttl).Err(); err != nil {
		return nil, Transient("token issue", err)
	}
	return token, nil
}

// Resolve loads the actor bound to a bearer token.
func (s *TokenStore) Resolve(ctx context.Context, raw string) (*ActorToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnauthorized
	}
	payload, err := s.client.Get(ctx, s.redisKey(raw)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUnauthorized
		}
		return nil, Transient("token resolve", err)
	}
	var token ActorToken
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, err
	}
	token.Token = raw
	return &token, nil
}

// Revoke deletes a token. Unknown tokens are ignored.
func (s *TokenStore) Revoke(ctx context.Context, raw string) error {
	if err := s.client.Del(ctx, s.redisKey(raw)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return Transient("token revoke", err)
	}
	return nil
}

func (s *TokenStore) redisKey(token string) string {
	return "token:" + token
}
