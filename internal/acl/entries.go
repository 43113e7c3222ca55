// Package acl evaluates role-weighted topic rules into per-actor permission
// sets, caches the result, and gates actions against it.
package acl

import (
	"fmt"
	"strings"

	"github.com/odyssey-feed/odyssey-feed/internal/perm"
	"github.com/odyssey-feed/odyssey-feed/internal/rules"
)

// ActionType selects which permission string of Entries a check consults.
type ActionType int

const (
	General ActionType = iota
	Member
	Owner
)

func (t ActionType) String() string {
	switch t {
	case Member:
		return "member"
	case Owner:
		return "owner"
	default:
		return "general"
	}
}

// ParseActionType accepts "general", "member" or "owner"; empty means general.
func ParseActionType(s string) (ActionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "general":
		return General, nil
	case "member":
		return Member, nil
	case "owner":
		return Owner, nil
	default:
		return General, fmt.Errorf("acl: unknown action type %q", s)
	}
}

// Entries is the merged permission set one actor holds on one topic. Values
// are never mutated once cached; recomputation produces a new value.
type Entries struct {
	Actions       perm.Actions `json:"actions"`
	MemberActions perm.Actions `json:"memberActions"`
	OwnerActions  perm.Actions `json:"ownerActions"`
}

// For returns the permission set for an action type.
func (e Entries) For(t ActionType) perm.Actions {
	switch t {
	case Member:
		return e.MemberActions
	case Owner:
		return e.OwnerActions
	default:
		return e.Actions
	}
}

// Apply merges one rule's deltas on top of the accumulated entries.
func (e Entries) Apply(d rules.Deltas) Entries {
	return Entries{
		Actions:       d.Actions.Apply(e.Actions),
		MemberActions: d.MemberActions.Apply(e.MemberActions),
		OwnerActions:  d.OwnerActions.Apply(e.OwnerActions),
	}
}

func (e Entries) String() string {
	return fmt.Sprintf("{actions:%q memberActions:%q ownerActions:%q}", e.Actions, e.MemberActions, e.OwnerActions)
}

// Topic joins a domain prefix and topic segments with dots.
func Topic(domain string, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	if domain = strings.Trim(domain, "."); domain != "" {
		segments = append(segments, domain)
	}
	for _, p := range parts {
		if p = strings.Trim(p, "."); p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, ".")
}
