package acl

import (
	"context"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-feed/odyssey-feed/internal/observability"
	"github.com/odyssey-feed/odyssey-feed/internal/perm"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

const deniedKey = "access denied on %s"

func init() {
	_ = message.SetString(language.Indonesian, deniedKey, "akses ditolak pada %s")
	_ = message.SetString(language.German, deniedKey, "Zugriff verweigert auf %s")
	_ = message.SetString(language.Spanish, deniedKey, "acceso denegado en %s")
}

// DeniedError is returned when the gate refuses an action. Message is safe to
// show to the caller.
type DeniedError struct {
	Topic      string
	Required   string
	ActionType ActionType
	Message    string
	// Cause is set when the decision could not be computed; the gate fails closed.
	Cause error
}

func (e *DeniedError) Error() string { return e.Message }

// Unwrap exposes shared.ErrForbidden and the lookup failure, if any.
func (e *DeniedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{shared.ErrForbidden, e.Cause}
	}
	return []error{shared.ErrForbidden}
}

// EntriesSource yields merged entries for an actor and topic.
type EntriesSource interface {
	GetEntries(ctx context.Context, actorID, topic string) (Entries, error)
}

// Gate is the single checkpoint every protected action passes.
type Gate struct {
	source  EntriesSource
	locale  language.Tag
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewGate builds a Gate. defaultLocale picks the language of denial messages
// for callers without a locale of their own.
func NewGate(source EntriesSource, defaultLocale string, logger *slog.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{source: source, locale: parseLocale(defaultLocale, language.English), logger: logger, metrics: metrics}
}

// Check allows the action only if every letter of required is in the
// permission set selected by actionType. An empty message yields the
// localized default.
func (g *Gate) Check(ctx context.Context, token *shared.ActorToken, topic, required string, actionType ActionType, msg string) error {
	entries, err := g.source.GetEntries(ctx, token.Actor(), topic)
	if err != nil {
		g.metrics.GateDecision("error")
		g.logger.Warn("acl lookup failed",
			slog.String("actor", token.Actor()),
			slog.String("topic", topic),
			slog.Any("error", err))
		return g.denied(token, topic, required, actionType, msg, err)
	}
	want, err := perm.ParseActions(required)
	if err != nil {
		g.metrics.GateDecision("deny")
		return g.denied(token, topic, required, actionType, msg, nil)
	}
	granted := entries.For(actionType)
	if granted.Empty() || !granted.Has(want) {
		g.metrics.GateDecision("deny")
		g.logger.Debug("acl denied",
			slog.String("actor", token.Actor()),
			slog.String("topic", topic),
			slog.String("required", required),
			slog.String("type", actionType.String()),
			slog.String("granted", granted.String()))
		return g.denied(token, topic, required, actionType, msg, nil)
	}
	g.metrics.GateDecision("allow")
	return nil
}

// Allowed is Check reduced to a boolean.
func (g *Gate) Allowed(ctx context.Context, token *shared.ActorToken, topic, required string, actionType ActionType) bool {
	return g.Check(ctx, token, topic, required, actionType, "") == nil
}

func (g *Gate) denied(token *shared.ActorToken, topic, required string, actionType ActionType, msg string, cause error) *DeniedError {
	if msg == "" {
		tag := parseLocale(token.Language(), g.locale)
		msg = message.NewPrinter(tag).Sprintf(deniedKey, topic)
	}
	return &DeniedError{Topic: topic, Required: required, ActionType: actionType, Message: msg, Cause: cause}
}

func parseLocale(raw string, fallback language.Tag) language.Tag {
	if raw == "" {
		return fallback
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return fallback
	}
	return tag
}
