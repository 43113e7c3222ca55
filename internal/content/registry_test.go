package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

func TestValidateDefaultTypes(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	assert.NoError(t, reg.Validate(ctx, "note", map[string]any{"text": "hello"}))
	assert.NoError(t, reg.Validate(ctx, "link", map[string]any{"url": "https://example.com"}))
	assert.NoError(t, reg.Validate(ctx, "event", map[string]any{
		"title":     "Meetup",
		"starts_at": "2026-03-01T18:00:00Z",
	}))

	err := reg.Validate(ctx, "note", map[string]any{})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "failed on required", verr.Details["content.text"])

	err = reg.Validate(ctx, "link", map[string]any{"url": "not a url"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Details, "content.url")
}

func TestValidateUnknownType(t *testing.T) {
	err := NewRegistry().Validate(context.Background(), "poll", map[string]any{})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Details, "type")
}

func TestValidateWrongKindDoesNotPanic(t *testing.T) {
	err := NewRegistry().Validate(context.Background(), "link", map[string]any{"url": 42.0})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRegisterNestedSchema(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("photo", Schema{
		"caption": "omitempty,max=10",
		"image":   Schema{"src": "required,url"},
	}))

	err := reg.Validate(context.Background(), "photo", map[string]any{
		"image": map[string]any{"src": ""},
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Details, "content.image.src")

	schema, ok := reg.ContentSchema("photo")
	require.True(t, ok)
	assert.Equal(t, Schema{"src": "required,url"}, schema["image"])
	assert.Contains(t, reg.Types(), "photo")
}

func TestRegisterRejectsBadTag(t *testing.T) {
	err := NewRegistry().Register("broken", Schema{"x": "required,nosuchtag"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	err = NewRegistry().Register("broken", Schema{"x": 12})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
