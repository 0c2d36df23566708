package structured

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/instructflow/types"
)

func bookSchema() *JSONSchema {
	return NewObjectSchema().
		AddProperty("title", NewStringSchema().WithDescription("book title"), true).
		AddProperty("year", NewIntegerSchema().WithMinimum(1450), true).
		AddProperty("tags", NewArraySchema(NewStringSchema()), false)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "user_profile_v2", SanitizeName("user profile-v2"))
	assert.Equal(t, "already_ok", SanitizeName("already_ok"))
	assert.Equal(t, "___", SanitizeName("日本語"))
	assert.Equal(t, DefaultName, SanitizeName(""))
}

func TestNewDescriptor_Validation(t *testing.T) {
	_, err := NewDescriptor("x", nil)
	assert.Equal(t, types.ErrSchemaInvalid, types.GetErrorCode(err))

	_, err = NewDescriptor("x", NewStringSchema())
	assert.Equal(t, types.ErrSchemaInvalid, types.GetErrorCode(err))

	_, err = NewDescriptor("x", NewObjectSchema().AddProperty("a", NewStringSchema().WithPattern("["), true))
	assert.Equal(t, types.ErrSchemaInvalid, types.GetErrorCode(err))

	_, err = NewDescriptor("x", bookSchema(), WithRule("year", "", nil))
	assert.Equal(t, types.ErrSchemaInvalid, types.GetErrorCode(err))
}

func TestDescriptor_IsImmutable(t *testing.T) {
	schema := bookSchema()
	d, err := NewDescriptor("Book Info", schema)
	require.NoError(t, err)

	schema.Properties["title"].Type = TypeInteger
	assert.Equal(t, TypeString, d.Schema().Properties["title"].Type)
	assert.Equal(t, "Book_Info", d.Name())
}

func TestDescriptor_Definition(t *testing.T) {
	d, err := NewDescriptor("book", bookSchema(), WithDescription("A published book"))
	require.NoError(t, err)

	def := d.Definition()
	assert.Equal(t, "book", def.Name)
	assert.Equal(t, "A published book", def.Description)

	var params map[string]any
	require.NoError(t, json.Unmarshal(def.Parameters, &params))
	assert.Equal(t, "object", params["type"])

	d2, err := NewDescriptor("book", bookSchema())
	require.NoError(t, err)
	assert.Contains(t, d2.Description(), "Correctly extracted `book`")
}

func TestDescriptor_Describe(t *testing.T) {
	d, err := NewDescriptor("book", bookSchema(),
		WithDescription("A published book"),
		WithRule("title", "title must be capitalized", func(context.Context, any) error { return nil }),
	)
	require.NoError(t, err)

	want := strings.Join([]string{
		"book: A published book",
		"- tags (array of string, optional)",
		"- title (string, required): book title",
		"- year (integer, required) [>= 1450]",
		"rule title: title must be capitalized",
	}, "\n")
	assert.Equal(t, want, d.Describe())
	assert.Equal(t, want, d.Describe(), "describe is deterministic")
}

func TestDescriptor_Skeleton(t *testing.T) {
	d, err := NewDescriptor("book", bookSchema())
	require.NoError(t, err)

	sk := d.Skeleton()
	assert.Equal(t, map[string]any{"title": nil, "year": nil, "tags": []any{}}, sk)
	sk["title"] = "mutated"
	assert.Nil(t, d.Skeleton()["title"], "skeleton is fresh per call")
}

func TestDescriptor_Validate(t *testing.T) {
	capitalized := func(_ context.Context, v any) error {
		s, _ := v.(string)
		if s == "" || strings.ToUpper(s[:1]) != s[:1] {
			return errors.New("not capitalized")
		}
		return nil
	}
	var sawTags any
	d, err := NewDescriptor("book", bookSchema(),
		WithRule("title", "title must be capitalized", capitalized),
		WithRule("tags.0", "", func(_ context.Context, v any) error { sawTags = v; return nil }),
		WithRule("missing.path", "", func(context.Context, any) error { return errors.New("never") }),
	)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		out := d.Validate(ctx, []byte(` {"title":"Dune","year":1965,"tags":["sf"]} `))
		assert.True(t, out.OK())
		assert.NoError(t, out.Err())
		assert.Equal(t, "sf", sawTags)
		assert.Equal(t, "Dune", out.Value.(map[string]any)["title"])
	})

	t.Run("invalid json", func(t *testing.T) {
		out := d.Validate(ctx, []byte(`{"title":`))
		require.False(t, out.OK())
		assert.Contains(t, out.Issues[0].Message, "invalid JSON")
		assert.Nil(t, out.Value)
	})

	t.Run("schema failure skips rules", func(t *testing.T) {
		out := d.Validate(ctx, []byte(`{"title":"dune","year":1200}`))
		require.Len(t, out.Issues, 1)
		assert.Equal(t, "year", out.Issues[0].Path)
	})

	t.Run("shape only skips rules", func(t *testing.T) {
		out := d.ValidateShape([]byte(`{"title":"dune","year":1965}`))
		assert.True(t, out.OK())
		assert.Equal(t, "dune", out.Value.(map[string]any)["title"])

		out = d.ValidateShape([]byte(`{"title":"dune","year":1200}`))
		require.Len(t, out.Issues, 1)
		assert.Equal(t, "year", out.Issues[0].Path)
	})

	t.Run("rule failure", func(t *testing.T) {
		out := d.Validate(ctx, []byte(`{"title":"dune","year":1965}`))
		require.Len(t, out.Issues, 1)
		assert.Equal(t, ParseError{Path: "title", Message: "title must be capitalized: not capitalized"}, out.Issues[0])
		var ve *ValidationErrors
		assert.ErrorAs(t, out.Err(), &ve)
	})
}

func TestDescriptorFor(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age" jsonschema:"minimum=0"`
	}
	d, err := DescriptorFor[person]("person")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"name", "age"}, d.Schema().Required)
	assert.False(t, d.Validate(context.Background(), []byte(`{"name":"a","age":-1}`)).OK())

	_, err = DescriptorFor[string]("scalar")
	assert.Equal(t, types.ErrSchemaInvalid, types.GetErrorCode(err))
}

func TestIssuePath(t *testing.T) {
	assert.Equal(t, "", issuePath(""))
	assert.Equal(t, "items[1].qty", issuePath("items.1.qty"))
	assert.Equal(t, "a.b", issuePath("a.b"))
}
