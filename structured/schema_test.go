package structured

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(v int) string { return strconv.Itoa(v) }

func TestJSONSchema_CloneIsDeep(t *testing.T) {
	orig := NewObjectSchema().
		AddProperty("tags", NewArraySchema(NewStringSchema().WithMaxLength(5)), true).
		AddProperty("meta", NewObjectSchema().AddProperty("k", NewStringSchema(), false), false)

	clone := orig.Clone()
	clone.Properties["tags"].Items.Description = "changed"
	*clone.Properties["tags"].Items.MaxLength = 99
	clone.Required[0] = "other"
	clone.Properties["meta"].Properties["k"].Type = TypeInteger

	assert.Empty(t, orig.Properties["tags"].Items.Description)
	assert.Equal(t, 5, *orig.Properties["tags"].Items.MaxLength)
	assert.Equal(t, []string{"tags"}, orig.Required)
	assert.Equal(t, TypeString, orig.Properties["meta"].Properties["k"].Type)
}

func TestAdditionalProperties_JSON(t *testing.T) {
	s := NewObjectSchema().WithAdditionalProperties(false)
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","additionalProperties":false}`, string(data))

	parsed, err := ParseSchema([]byte(`{"type":"object","additionalProperties":{"type":"integer"}}`))
	require.NoError(t, err)
	require.NotNil(t, parsed.AdditionalProperties.Schema)
	assert.Equal(t, TypeInteger, parsed.AdditionalProperties.Schema.Type)
	assert.True(t, parsed.AdditionalProperties.Allowed)

	_, err = ParseSchema([]byte(`{"additionalProperties":"yes"}`))
	assert.Error(t, err)
}

func TestSkeleton(t *testing.T) {
	s := NewObjectSchema().
		AddProperty("title", NewStringSchema(), true).
		AddProperty("items", NewArraySchema(NewStringSchema()), true).
		AddProperty("author", NewObjectSchema().AddProperty("name", NewStringSchema(), true), false)

	got := Skeleton(s)
	assert.Equal(t, map[string]any{
		"title":  nil,
		"items":  []any{},
		"author": map[string]any{"name": nil},
	}, got)

	out, err := json.Marshal(got)
	require.NoError(t, err)
	assert.True(t, json.Valid(out))
	assert.Nil(t, Skeleton(nil))
}

func TestJSONSchema_Check(t *testing.T) {
	bad := NewObjectSchema().AddProperty("a", NewStringSchema().WithPattern("("), true)
	err := bad.check("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: invalid pattern")

	missing := NewObjectSchema()
	missing.Required = []string{"ghost"}
	assert.ErrorContains(t, missing.check(""), `required property "ghost"`)
}
