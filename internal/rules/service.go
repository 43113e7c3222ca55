package rules

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// RepositoryPort defines data access methods for ACL rules.
type RepositoryPort interface {
	// QueryRules returns the rules targeting one of roleIDs as candidates
	// for topic. Implementations may return more; the service re-checks
	// role and pattern of every candidate.
	QueryRules(ctx context.Context, roleIDs []string, topic string) ([]Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	UpsertRule(ctx context.Context, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

// CacheInvalidator drops cached authorization decisions.
type CacheInvalidator interface {
	ClearCache(actorID string)
}

// Service finds the rules that apply to a topic and manages rule data.
type Service struct {
	repo        RepositoryPort
	invalidator CacheInvalidator
	logger      *slog.Logger

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, patterns: make(map[string]*regexp.Regexp)}
}

// SetInvalidator registers the cache that must be cleared on mutation.
func (s *Service) SetInvalidator(inv CacheInvalidator) {
	s.invalidator = inv
}

// FindRules returns every rule targeting one of roleIDs whose pattern
// matches topic. Order is unspecified.
func (s *Service) FindRules(ctx context.Context, roleIDs []string, topic string) ([]Rule, error) {
	targets := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		targets[id] = struct{}{}
	}
	candidates, err := s.repo.QueryRules(ctx, roleIDs, topic)
	if err != nil {
		return nil, shared.Transient("rules: query", err)
	}
	matched := make([]Rule, 0, len(candidates))
	for _, rule := range candidates {
		if _, ok := targets[rule.TargetRoleID]; !ok {
			continue
		}
		re, err := s.pattern(rule.TopicPattern)
		if err != nil {
			s.logger.Warn("skip rule with invalid pattern",
				slog.String("rule", rule.ID),
				slog.String("pattern", rule.TopicPattern),
				slog.Any("error", err))
			continue
		}
		if re.MatchString(topic) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

func (s *Service) pattern(expr string) (*regexp.Regexp, error) {
	s.mu.RLock()
	re, ok := s.patterns[expr]
	s.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.patterns[expr] = re
	s.mu.Unlock()
	return re, nil
}

// ListRules returns every stored rule.
func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.repo.ListRules(ctx)
}

// UpsertRule validates and stores a rule, then clears the whole ACL cache.
func (s *Service) UpsertRule(ctx context.Context, rule Rule) (Rule, error) {
	rule.TopicPattern = strings.TrimSpace(rule.TopicPattern)
	rule.TargetRoleID = strings.TrimSpace(rule.TargetRoleID)
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	saved, err := s.repo.UpsertRule(ctx, rule)
	if err != nil {
		return Rule{}, err
	}
	s.invalidate()
	return saved, nil
}

// DeleteRule removes a rule, then clears the whole ACL cache.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) invalidate() {
	if s.invalidator == nil {
		return
	}
	s.invalidator.ClearCache("")
	s.logger.Debug("acl cache cleared after rule change")
}
