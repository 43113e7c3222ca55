package rules

import (
	"regexp"
	"strings"
	"time"

	"github.com/odyssey-feed/odyssey-feed/internal/perm"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Rule grants or removes actions for one target role on every topic its
// pattern matches. Patterns are searched, not anchored: "chan" matches
// "odyssey.chan.public".
type Rule struct {
	ID            string    `json:"id"`
	TopicPattern  string    `json:"topic_pattern"`
	TargetRoleID  string    `json:"target_role_id"`
	Actions       string    `json:"actions"`
	MemberActions string    `json:"member_actions"`
	OwnerActions  string    `json:"owner_actions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Deltas holds the parsed permission strings of a rule.
type Deltas struct {
	Actions       perm.Delta
	MemberActions perm.Delta
	OwnerActions  perm.Delta
}

// Deltas parses the three permission strings.
func (r Rule) Deltas() (Deltas, error) {
	var (
		d   Deltas
		err error
	)
	if d.Actions, err = perm.ParseDelta(r.Actions); err != nil {
		return Deltas{}, err
	}
	if d.MemberActions, err = perm.ParseDelta(r.MemberActions); err != nil {
		return Deltas{}, err
	}
	if d.OwnerActions, err = perm.ParseDelta(r.OwnerActions); err != nil {
		return Deltas{}, err
	}
	return d, nil
}

// Validate checks the pattern compiles and every permission string parses.
func (r Rule) Validate() error {
	details := make(map[string]string)
	if strings.TrimSpace(r.TopicPattern) == "" {
		details["topic_pattern"] = "required"
	} else if _, err := regexp.Compile(r.TopicPattern); err != nil {
		details["topic_pattern"] = err.Error()
	}
	if strings.TrimSpace(r.TargetRoleID) == "" {
		details["target_role_id"] = "required"
	}
	for field, value := range map[string]string{
		"actions":        r.Actions,
		"member_actions": r.MemberActions,
		"owner_actions":  r.OwnerActions,
	} {
		if _, err := perm.ParseDelta(value); err != nil {
			details[field] = err.Error()
		}
	}
	if len(details) > 0 {
		return &shared.ValidationError{Details: details}
	}
	return nil
}
