package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/document"
	"concierge/internal/reference"
)

func doc(t *testing.T, s string) *document.Doc {
	t.Helper()
	d, err := document.Parse([]byte(s))
	require.NoError(t, err)
	return d
}

func codes(fields []FieldError) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.Field] = f.Code
	}
	return out
}

func TestNewEntity(t *testing.T) {
	v := NewValidator(reference.Default())

	require.NoError(t, v.NewEntity("rest_1", "restaurant", doc(t, `{"name":"Luna","status":"draft"}`)))
	require.NoError(t, v.NewEntity("rest_1", "hotel", doc(t,
		`{"name":"Luna","status":"active","metadata":[{"type":"google_places","data":{"rating":4.5}}],"sync":{"status":"synced"},"extra":1}`)))

	err := v.NewEntity("R1", "spaceship", doc(t, `{"name":"  ","status":"gone","metadata":[]}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	got := codes(FieldsOf(err))
	assert.Equal(t, CodePattern, got["id"])
	assert.Equal(t, CodeEnumInvalid, got["type"])
	assert.Equal(t, CodeRequired, got["doc.name"])
	assert.Equal(t, CodeEnumInvalid, got["doc.status"])
	assert.Equal(t, CodeRequired, got["doc.metadata"])
}

func TestEntityDocumentMetadataItems(t *testing.T) {
	v := NewValidator(reference.Default())

	fields := v.EntityDocument(doc(t, `{"name":"x","status":"draft","metadata":[{"type":"","data":{}},{"type":"a"}]}`))
	got := codes(fields)
	assert.Equal(t, CodeRequired, got["doc.metadata[0].type"])
	assert.Equal(t, CodeRequired, got["doc.metadata[1].data"])

	fields = v.EntityDocument(doc(t, `{"name":42,"status":"draft"}`))
	require.Len(t, fields, 1)
	assert.Equal(t, CodeTypeMismatch, fields[0].Code)

	fields = v.EntityDocument(doc(t, `{"name":"x","status":"draft","metadata":null}`))
	require.Len(t, fields, 1)
	assert.Equal(t, CodeTypeMismatch, codes(fields)["doc.metadata"])

	fields = v.EntityDocument(doc(t, `{"name":"x","status":"draft","metadata":[]}`))
	require.Len(t, fields, 1)
	assert.Equal(t, CodeRequired, codes(fields)["doc.metadata"])

	assert.Empty(t, v.EntityDocument(doc(t, `{"name":"x","status":"draft"}`)))
	assert.NotEmpty(t, v.EntityDocument(nil))
}

func TestNewCuration(t *testing.T) {
	v := NewValidator(reference.Default())

	ok := doc(t, `{"curator":{"id":"curator_wagner","name":"Wagner","email":"w@example.com"},
		"categories":{"cuisine":["brazilian","barbecue"],"mood":["lively"]},"sources":["audio 2025-09-09"]}`)
	require.NoError(t, v.NewCuration("cur_wagner_rest_1", "rest_1", ok))

	cases := []struct {
		name  string
		body  string
		field string
		code  string
	}{
		{"missing curator", `{"categories":{"mood":["a"]}}`, "doc.curator", CodeRequired},
		{"bad email", `{"curator":{"id":"c1","name":"n","email":"nope"},"categories":{"mood":["a"]}}`, "doc.curator.email", CodePattern},
		{"no categories", `{"curator":{"id":"c1","name":"n"},"categories":{}}`, "doc.categories", CodeRequired},
		{"empty concept list", `{"curator":{"id":"c1","name":"n"},"categories":{"mood":[]}}`, "doc.categories[mood]", CodeRequired},
		{"duplicate concepts", `{"curator":{"id":"c1","name":"n"},"categories":{"mood":["a","a"]}}`, "doc.categories[mood]", CodeUniqueViolation},
		{"uppercase concept", `{"curator":{"id":"c1","name":"n"},"categories":{"mood":["Lively"]}}`, "doc.categories[mood][0]", CodePattern},
		{"blank source", `{"curator":{"id":"c1","name":"n"},"categories":{"mood":["a"]},"sources":[" "]}`, "doc.sources[0]", CodeRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.NewCuration("cur_1", "rest_1", doc(t, tc.body))
			require.Error(t, err)
			assert.Equal(t, tc.code, codes(FieldsOf(err))[tc.field], "fields: %+v", FieldsOf(err))
		})
	}
}

func TestCategoryKeyPattern(t *testing.T) {
	v := NewValidator(reference.Default())
	fields := v.CurationDocument(doc(t, `{"curator":{"id":"c1","name":"n"},"categories":{"Bad Key":["a"]}}`))
	require.NotEmpty(t, fields)
	assert.Equal(t, CodePattern, fields[0].Code)

	assert.True(t, ValidCategoryKey("price-range_2"))
	assert.False(t, ValidCategoryKey("mood'; drop table"))
}

func TestErrorKinds(t *testing.T) {
	err := Wrap(KindUnavailable, errors.New("dial tcp: refused"), "load entity %q", "rest_1")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "refused")

	nf := Errorf(KindNotFound, "entity %q not found", "x")
	assert.Equal(t, `not_found: entity "x" not found`, nf.Error())
}
