// Package content keeps the structural schemas activities are validated
// against before they are published to a channel.
package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Schema maps content fields to validator tags. A nested Schema validates a
// nested object.
type Schema map[string]any

// DefaultSchemas are the content types every registry starts with.
func DefaultSchemas() map[string]Schema {
	return map[string]Schema{
		"note": {
			"text": "required,max=5000",
		},
		"link": {
			"url":   "required,url",
			"title": "omitempty,max=300",
		},
		"event": {
			"title":     "required,max=300",
			"starts_at": "required,datetime=2006-01-02T15:04:05Z07:00",
			"location":  "omitempty,max=300",
		},
	}
}

// Registry holds content type schemas. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	schemas  map[string]map[string]any
	validate *validator.Validate
}

// NewRegistry builds a registry preloaded with DefaultSchemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]map[string]any), validate: validator.New()}
	for name, schema := range DefaultSchemas() {
		if err := r.Register(name, schema); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds or replaces the schema of a content type. Tags are checked
// eagerly so a broken plugin fails at import rather than at publish.
func (r *Registry) Register(typeName string, schema Schema) error {
	typeName = strings.TrimSpace(typeName)
	if typeName == "" {
		return shared.NewValidationError("type", "required")
	}
	rules, err := r.compile(schema, "")
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.schemas[typeName] = rules
	r.mu.Unlock()
	return nil
}

// ContentSchema returns the schema registered for typeName.
func (r *Registry) ContentSchema(typeName string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules, ok := r.schemas[typeName]
	if !ok {
		return nil, false
	}
	return toSchema(rules), true
}

// Types lists the registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks content against the schema of typeName. Failures come
// back as *shared.ValidationError keyed by dotted field path.
func (r *Registry) Validate(ctx context.Context, typeName string, content map[string]any) error {
	r.mu.RLock()
	rules, ok := r.schemas[typeName]
	r.mu.RUnlock()
	if !ok {
		return shared.NewValidationError("type", fmt.Sprintf("unknown content type %q", typeName))
	}
	if content == nil {
		content = map[string]any{}
	}
	failures, err := r.validateMap(ctx, content, rules)
	if err != nil {
		return shared.NewValidationError("content", err.Error())
	}
	if len(failures) == 0 {
		return nil
	}
	details := make(map[string]string)
	flatten(details, "content", failures)
	return &shared.ValidationError{Details: details}
}

// validateMap guards against validator panics on values of the wrong kind,
// such as a number where a url tag expects a string.
func (r *Registry) validateMap(ctx context.Context, content, rules map[string]any) (failures map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed content: %v", rec)
		}
	}()
	return r.validate.ValidateMapCtx(ctx, content, rules), nil
}

func (r *Registry) compile(schema Schema, prefix string) (map[string]any, error) {
	rules := make(map[string]any, len(schema))
	for field, rule := range schema {
		path := prefix + field
		switch v := rule.(type) {
		case string:
			if err := r.checkTag(v); err != nil {
				return nil, shared.NewValidationError("schema."+path, err.Error())
			}
			rules[field] = v
		case Schema:
			nested, err := r.compile(v, path+".")
			if err != nil {
				return nil, err
			}
			rules[field] = nested
		case map[string]any:
			nested, err := r.compile(Schema(v), path+".")
			if err != nil {
				return nil, err
			}
			rules[field] = nested
		default:
			return nil, shared.NewValidationError("schema."+path, fmt.Sprintf("unsupported rule %T", rule))
		}
	}
	return rules, nil
}

// checkTag runs the tag against a zero value; validator panics on unknown
// tags, which is turned into an error here.
func (r *Registry) checkTag(tag string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("invalid rule %q: %v", tag, rec)
		}
	}()
	_ = r.validate.Var("", tag)
	return nil
}

func flatten(out map[string]string, prefix string, failures map[string]any) {
	for field, failure := range failures {
		path := prefix + "." + field
		switch v := failure.(type) {
		case map[string]any:
			flatten(out, path, v)
		case error:
			out[path] = describe(v)
		default:
			out[path] = fmt.Sprint(v)
		}
	}
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("failed on %s=%s", fe.Tag(), fe.Param())
		}
		return "failed on " + fe.Tag()
	}
	return err.Error()
}

func toSchema(rules map[string]any) Schema {
	out := make(Schema, len(rules))
	for field, rule := range rules {
		if nested, ok := rule.(map[string]any); ok {
			out[field] = toSchema(nested)
			continue
		}
		out[field] = rule
	}
	return out
}
