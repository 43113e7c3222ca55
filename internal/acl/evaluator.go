package acl

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-feed/odyssey-feed/internal/observability"
	"github.com/odyssey-feed/odyssey-feed/internal/roles"
	"github.com/odyssey-feed/odyssey-feed/internal/rules"
)

// RoleResolver returns the roles of an actor ordered by ascending weight.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, actorID string) ([]roles.Role, error)
}

// RuleFinder returns the rules targeting roleIDs that match topic.
type RuleFinder interface {
	FindRules(ctx context.Context, roleIDs []string, topic string) ([]rules.Rule, error)
}

// computeTimeout bounds a shared lookup. Lookups run detached from the
// callers that started them.
const computeTimeout = 10 * time.Second

// Evaluator computes and caches Entries for (actor, topic) pairs.
type Evaluator struct {
	roles   RoleResolver
	rules   RuleFinder
	cache   Cache
	logger  *slog.Logger
	metrics *observability.Metrics
	group   singleflight.Group
	timeout time.Duration
}

// NewEvaluator builds an Evaluator. A nil cache gets a MemoryCache.
func NewEvaluator(roleResolver RoleResolver, ruleFinder RuleFinder, cache Cache, logger *slog.Logger, metrics *observability.Metrics) *Evaluator {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		roles:   roleResolver,
		rules:   ruleFinder,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		timeout: computeTimeout,
	}
}

// GetEntries returns the merged permissions of actorID (empty for guest) on
// topic. Cached values are returned as is; correctness relies on ClearCache
// being called by whoever mutates roles or rules.
func (e *Evaluator) GetEntries(ctx context.Context, actorID, topic string) (Entries, error) {
	key := KeyFor(actorID, topic)
	if entries, ok := e.cache.Get(key); ok {
		e.metrics.CacheLookup("hit")
		return entries, nil
	}
	e.metrics.CacheLookup("miss")

	generation := e.cache.Generation()
	// Callers joining the flight must not inherit the first caller's
	// cancellation.
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key.ActorID+"\x00"+key.Topic, func() (interface{}, error) {
		computeCtx, cancel := context.WithTimeout(detached, e.timeout)
		defer cancel()
		entries, err := e.compute(computeCtx, actorID, topic)
		if err != nil {
			return nil, err
		}
		if !e.cache.Put(key, entries, generation) {
			e.metrics.CacheLookup("stale_put")
		}
		return entries, nil
	})
	select {
	case <-ctx.Done():
		return Entries{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entries{}, res.Err
		}
		return res.Val.(Entries), nil
	}
}

func (e *Evaluator) compute(ctx context.Context, actorID, topic string) (Entries, error) {
	resolved, err := e.roles.ResolveRoles(ctx, actorID)
	if err != nil {
		return Entries{}, err
	}
	weights := make(map[string]int, len(resolved))
	roleIDs := make([]string, 0, len(resolved))
	for _, role := range resolved {
		weights[role.ID] = role.Weight
		roleIDs = append(roleIDs, role.ID)
	}

	matched, err := e.rules.FindRules(ctx, roleIDs, topic)
	if err != nil {
		return Entries{}, err
	}
	sortByWeight(matched, weights)

	var acc Entries
	for _, rule := range matched {
		deltas, err := rule.Deltas()
		if err != nil {
			e.logger.Warn("skip rule with invalid permission string",
				slog.String("rule", rule.ID), slog.Any("error", err))
			continue
		}
		acc = acc.Apply(deltas)
	}
	return acc, nil
}

// sortByWeight orders rules by the weight of their target role. Equal
// weights fall back to role id then rule id so results never depend on
// store order.
func sortByWeight(matched []rules.Rule, weights map[string]int) {
	sort.SliceStable(matched, func(i, j int) bool {
		wi, wj := weights[matched[i].TargetRoleID], weights[matched[j].TargetRoleID]
		if wi != wj {
			return wi < wj
		}
		if matched[i].TargetRoleID != matched[j].TargetRoleID {
			return matched[i].TargetRoleID < matched[j].TargetRoleID
		}
		return matched[i].ID < matched[j].ID
	})
}

// ClearCache drops the cached entries of one actor, or all entries when
// actorID is empty.
func (e *Evaluator) ClearCache(actorID string) {
	if actorID == "" {
		e.cache.Clear()
		return
	}
	e.cache.Invalidate(actorID)
}
