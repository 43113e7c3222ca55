// Package perm models permission strings: sets of single letter action codes
// drawn from a fixed alphabet, and the add/remove deltas ACL rules apply to them.
package perm

import (
	"fmt"
	"strings"
)

// Actions is a set of action codes.
type Actions uint8

// Action codes. The letter of each code is its position in Alphabet.
const (
	Create Actions = 1 << iota
	Read
	Update
	Delete
	Execute
	Enter
	Leave
	Publish
)

// Alphabet lists the action letters in canonical order.
const Alphabet = "crudxelp"

// None is the empty set.
const None Actions = 0

// Letter returns the action for a single letter.
func Letter(c byte) (Actions, bool) {
	i := strings.IndexByte(Alphabet, c)
	if i < 0 {
		return None, false
	}
	return Actions(1) << i, true
}

// ParseActions parses a plain permission string such as "rc". Order and
// repetition are irrelevant.
func ParseActions(s string) (Actions, error) {
	var set Actions
	for i := 0; i < len(s); i++ {
		a, ok := Letter(s[i])
		if !ok {
			return None, fmt.Errorf("perm: unknown action %q", s[i])
		}
		set |= a
	}
	return set, nil
}

// Has reports whether every action in other is in the set.
func (a Actions) Has(other Actions) bool {
	return a&other == other
}

// Add returns the union of both sets.
func (a Actions) Add(other Actions) Actions { return a | other }

// Remove returns the set without the actions in other.
func (a Actions) Remove(other Actions) Actions { return a &^ other }

// Empty reports whether no action is granted.
func (a Actions) Empty() bool { return a == None }

// String renders the set in canonical alphabet order.
func (a Actions) String() string {
	var b strings.Builder
	for i := 0; i < len(Alphabet); i++ {
		if a&(Actions(1)<<i) != 0 {
			b.WriteByte(Alphabet[i])
		}
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (a Actions) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Actions) UnmarshalText(text []byte) error {
	parsed, err := ParseActions(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

type step struct {
	remove bool
	action Actions
}

// Delta is an ordered list of add/remove steps, written as a permission
// string where "-x" removes x and any other letter adds it.
type Delta struct {
	steps []step
}

// ParseDelta parses a rule permission string such as "rl-p".
func ParseDelta(s string) (Delta, error) {
	var d Delta
	for i := 0; i < len(s); i++ {
		remove := false
		if s[i] == '-' {
			if i+1 >= len(s) {
				return Delta{}, fmt.Errorf("perm: dangling '-' in %q", s)
			}
			remove = true
			i++
		}
		a, ok := Letter(s[i])
		if !ok {
			return Delta{}, fmt.Errorf("perm: unknown action %q in %q", s[i], s)
		}
		d.steps = append(d.steps, step{remove: remove, action: a})
	}
	return d, nil
}

// Apply runs the steps in order against the accumulated set.
func (d Delta) Apply(acc Actions) Actions {
	for _, s := range d.steps {
		if s.remove {
			acc = acc.Remove(s.action)
			continue
		}
		acc = acc.Add(s.action)
	}
	return acc
}

// Empty reports whether the delta has no steps.
func (d Delta) Empty() bool { return len(d.steps) == 0 }

// String renders the delta back into permission string form.
func (d Delta) String() string {
	var b strings.Builder
	for _, s := range d.steps {
		if s.remove {
			b.WriteByte('-')
		}
		b.WriteString(s.action.String())
	}
	return b.String()
}
