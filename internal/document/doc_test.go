package document

import (
	stdjson "encoding/json"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) *Doc {
	t.Helper()
	d, err := Parse([]byte(s))
	require.NoError(t, err)
	return d
}

func TestDocPreservesKeyOrder(t *testing.T) {
	in := `{"zeta":1,"alpha":{"y":true,"b":null},"mid":["x",{"k":"v","a":2}]}`
	d := mustParse(t, in)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, d.Keys())

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestDocRejectsNonObject(t *testing.T) {
	_, err := Parse([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestDocSetDeleteLookup(t *testing.T) {
	d := mustParse(t, `{"name":"Luna","categories":{"mood":["lively","romantic"]}}`)

	v, ok := d.Lookup("categories", "mood", "1")
	require.True(t, ok)
	assert.Equal(t, "romantic", v)

	_, ok = d.Lookup("categories", "mood", "7")
	assert.False(t, ok)

	d.Set("status", "draft")
	d.Set("name", "Sol")
	assert.Equal(t, []string{"name", "categories", "status"}, d.Keys())
	name, _ := d.String("name")
	assert.Equal(t, "Sol", name)

	d.Delete("categories")
	assert.Equal(t, []string{"name", "status"}, d.Keys())
	d.Delete("missing")
	assert.Equal(t, 2, d.Len())
}

func TestCloneIsDeep(t *testing.T) {
	d := mustParse(t, `{"a":{"b":[1,2]}}`)
	c := d.Clone()
	inner, _ := c.Get("a")
	inner.(*Doc).Set("b", "changed")

	orig, _ := d.Lookup("a", "b")
	assert.Equal(t, []any{stdjson.Number("1"), stdjson.Number("2")}, orig)
}

func TestEqualIgnoresKeyOrder(t *testing.T) {
	a := mustParse(t, `{"a":1,"b":{"c":[1,"x"]}}`)
	b := mustParse(t, `{"b":{"c":[1,"x"]},"a":1}`)
	c := mustParse(t, `{"b":{"c":["x",1]},"a":1}`)

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
}

func TestFromMapNormalizesNested(t *testing.T) {
	d := FromMap(map[string]any{
		"b": map[string]any{"x": 1},
		"a": []string{"p", "q"},
	})
	assert.Equal(t, []string{"a", "b"}, d.Keys())
	x, ok := d.Lookup("b", "x")
	require.True(t, ok)
	assert.Equal(t, stdjson.Number("1"), x)
	assert.Equal(t, map[string]any{"a": []any{"p", "q"}, "b": map[string]any{"x": stdjson.Number("1")}}, d.ToMap())
}

func TestDocKeepsLargeIntegers(t *testing.T) {
	in := `{"sync":{"status":"synced","serverId":9007199254740993},"score":4.25,"exp":1e3}`
	d := mustParse(t, in)

	id, ok := d.Lookup("sync", "serverId")
	require.True(t, ok)
	assert.Equal(t, stdjson.Number("9007199254740993"), id)

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))

	v, err := ParseValue([]byte(`[9007199254740993, "x"]`))
	require.NoError(t, err)
	assert.Equal(t, []any{stdjson.Number("9007199254740993"), "x"}, v)

	_, err = ParseValue([]byte(`1 2`))
	assert.Error(t, err)
}

func TestEqualComparesNumbersByValue(t *testing.T) {
	assert.True(t, Equal(stdjson.Number("1"), float64(1)))
	assert.True(t, Equal(stdjson.Number("1.0"), stdjson.Number("1")))
	assert.True(t, Equal(stdjson.Number("1e3"), int64(1000)))
	assert.False(t, Equal(stdjson.Number("9007199254740993"), stdjson.Number("9007199254740992")))
	assert.False(t, Equal(stdjson.Number("1"), "1"))
}

func TestNilDoc(t *testing.T) {
	var d *Doc
	assert.NotPanics(t, func() { d.Delete("a") })
	assert.True(t, Equal(d, (*Doc)(nil)))
	assert.False(t, Equal(d, New()))
	assert.False(t, Equal(New(), d))
	assert.True(t, Equal(New(), New()))
}
