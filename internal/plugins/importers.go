package plugins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odyssey-feed/odyssey-feed/internal/content"
	"github.com/odyssey-feed/odyssey-feed/internal/rules"
)

// SchemaRegistrar stores content type schemas.
type SchemaRegistrar interface {
	Register(typeName string, schema content.Schema) error
}

// ContentImporter handles manifests of type "content".
//
//	spec: {"type_name": "poll", "schema": {"question": "required,max=200"}}
type ContentImporter struct {
	Schemas SchemaRegistrar
}

type contentSpec struct {
	TypeName string         `json:"type_name"`
	Schema   content.Schema `json:"schema"`
}

// Import implements Importer.
func (c ContentImporter) Import(_ context.Context, manifest Manifest) error {
	var spec contentSpec
	if err := json.Unmarshal(manifest.Spec, &spec); err != nil {
		return fmt.Errorf("content spec: %w", err)
	}
	if spec.TypeName == "" {
		spec.TypeName = manifest.Name
	}
	return c.Schemas.Register(spec.TypeName, spec.Schema)
}

// RuleWriter persists ACL rules.
type RuleWriter interface {
	UpsertRule(ctx context.Context, rule rules.Rule) (rules.Rule, error)
}

// ACLImporter handles manifests of type "acl": a list of rules to upsert.
type ACLImporter struct {
	Rules RuleWriter
}

type aclSpec struct {
	Rules []rules.Rule `json:"rules"`
}

// Import implements Importer.
func (a ACLImporter) Import(ctx context.Context, manifest Manifest) error {
	var spec aclSpec
	if err := json.Unmarshal(manifest.Spec, &spec); err != nil {
		return fmt.Errorf("acl spec: %w", err)
	}
	for i, rule := range spec.Rules {
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("%s-%d", manifest.Name, i+1)
		}
		if _, err := a.Rules.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}
	return nil
}
