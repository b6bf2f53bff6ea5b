package dsl

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/docstore"
	"concierge/internal/model"
)

func compiler(t *testing.T, driver string) *Compiler {
	t.Helper()
	d, _, err := docstore.DialectFor(driver)
	require.NoError(t, err)
	return NewCompiler(d, 0, 0)
}

func TestCompileFiltersPostgres(t *testing.T) {
	st, err := compiler(t, docstore.DriverPgx).Compile(Request{
		From: "entities",
		Filters: []Filter{
			{Path: "$.name", Operator: "like", Value: "Fo_o"},
			{Path: "$.status", Operator: "=", Value: "active"},
		},
		Limit: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT t.* FROM "entities" AS t`+
		` WHERE (jsonb_extract_path(t.doc, $1::text) #>> '{}') ILIKE $2 ESCAPE '\'`+
		` AND jsonb_extract_path(t.doc, $3::text) = $4::jsonb`+
		` ORDER BY t."id" ASC LIMIT $5 OFFSET $6`, st.SQL)
	assert.Equal(t, []any{"name", `%Fo\_o%`, "status", `"active"`, 20, 0}, st.Args)
}

func TestCompileFiltersSQLite(t *testing.T) {
	st, err := compiler(t, docstore.DriverSQLite).Compile(Request{
		From: "entities",
		Filters: []Filter{
			{Path: "$.name", Operator: "contains", Value: "50%"},
			{Path: "$.status", Operator: "=", Value: "active"},
		},
		Limit: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT t.* FROM "entities" AS t`+
		` WHERE json_extract(t.doc, ?1) LIKE ?2 ESCAPE '\'`+
		` AND (json_extract(t.doc, ?3) = ?4 AND json_type(t.doc, ?5) IN ('text'))`+
		` ORDER BY t."id" ASC LIMIT ?6 OFFSET ?7`, st.SQL)
	assert.Equal(t, []any{`$."name"`, `%50\%%`, `$."status"`, "active", `$."status"`, 20, 0}, st.Args)
}

func TestCompileExplode(t *testing.T) {
	req := Request{
		From:    "curations",
		Explode: &Explode{Path: "$.categories.mood", As: "mood"},
		Filters: []Filter{{Path: "mood", Operator: "=", Value: "lively"}},
	}

	st, err := compiler(t, docstore.DriverPgx).Compile(req)
	require.NoError(t, err)
	at := `jsonb_extract_path(t.doc, $1::text, $2::text)`
	assert.Equal(t, `SELECT t.*, xe.value::text AS "mood" FROM "curations" AS t`+
		` CROSS JOIN LATERAL jsonb_array_elements(CASE WHEN jsonb_typeof(`+at+`) = 'array' THEN `+at+
		` ELSE '[]'::jsonb END) AS xe(value)`+
		` WHERE xe.value = $3::jsonb ORDER BY t."id" ASC LIMIT $4 OFFSET $5`, st.SQL)
	assert.Equal(t, []any{"categories", "mood", `"lively"`, 50, 0}, st.Args)
	assert.Equal(t, "mood", st.Alias)

	st, err = compiler(t, docstore.DriverSQLite).Compile(req)
	require.NoError(t, err)
	assert.Contains(t, st.SQL, `CROSS JOIN json_each(CASE WHEN json_type(t.doc, ?1) = 'array' THEN json_extract(t.doc, ?1) ELSE '[]' END) AS xe`)
	assert.Contains(t, st.SQL, ` AS "mood" FROM "curations" AS t`)
	assert.Contains(t, st.SQL, `WHERE (xe.value = ?2 AND xe.type IN ('text')) ORDER BY`)
	assert.Equal(t, []any{`$."categories"."mood"`, "lively", 50, 0}, st.Args)
}

func TestCompileExplodeSubPath(t *testing.T) {
	st, err := compiler(t, docstore.DriverSQLite).Compile(Request{
		From:    "entities",
		Explode: &Explode{Path: "$.metadata", As: "item"},
		Filters: []Filter{{Path: "item.type", Operator: "=", Value: "google_places"}},
	})
	require.NoError(t, err)
	assert.Contains(t, st.SQL, `WHERE (json_extract(xe.value, ?2) = ?3 AND json_type(xe.value, ?4) IN ('text'))`)
	assert.Equal(t, []any{`$."metadata"`, `$."type"`, "google_places", `$."type"`, 50, 0}, st.Args)
}

func TestCompileDefaultAlias(t *testing.T) {
	st, err := compiler(t, docstore.DriverSQLite).Compile(Request{
		From:    "curations",
		Explode: &Explode{Path: "$.sources"},
	})
	require.NoError(t, err)
	assert.Equal(t, "exploded_value", st.Alias)
	assert.Equal(t, "exploded_value", st.Request.Explode.As)
}

func TestCompileIn(t *testing.T) {
	c := compiler(t, docstore.DriverSQLite)
	st, err := c.Compile(Request{
		From:    "entities",
		Filters: []Filter{{Path: "$.status", Operator: "in", Value: []any{"active", "draft"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, st.SQL, `WHERE (json_extract(t.doc, ?1) IN (?2, ?3) AND json_type(t.doc, ?4) IN ('text')) ORDER BY`)
	assert.Equal(t, []any{`$."status"`, "active", "draft", `$."status"`, 50, 0}, st.Args)

	st, err = c.Compile(Request{
		From:    "entities",
		Filters: []Filter{{Path: "$.open", Operator: "in", Value: []any{true, 1.0}}},
	})
	require.NoError(t, err)
	assert.Contains(t, st.SQL, `WHERE ((json_extract(t.doc, ?1) IN (?2) AND json_type(t.doc, ?4) IN ('true', 'false'))`+
		` OR (json_extract(t.doc, ?1) IN (?3) AND json_type(t.doc, ?4) IN ('integer', 'real'))) ORDER BY`)
	assert.Equal(t, []any{`$."open"`, 1, 1.0, `$."open"`, 50, 0}, st.Args)

	st, err = compiler(t, docstore.DriverPgx).Compile(Request{
		From:    "entities",
		Filters: []Filter{{Path: "$.status", Operator: "in", Value: []any{"active", "draft"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, st.SQL, `WHERE jsonb_extract_path(t.doc, $1::text) IN ($2::jsonb, $3::jsonb) ORDER BY`)

	for _, v := range []any{[]any{}, "active", []any{map[string]any{"a": 1.0}}} {
		_, err = c.Compile(Request{
			From:    "entities",
			Filters: []Filter{{Path: "$.status", Operator: "in", Value: v}},
		})
		assert.True(t, errors.Is(err, model.ErrValidation), "%v: %v", v, err)
	}
}

func TestCompileColumnsAndNull(t *testing.T) {
	st, err := compiler(t, docstore.DriverPgx).Compile(Request{
		From: "curations",
		Filters: []Filter{
			{Path: "entity_id", Operator: "=", Value: "rest_1"},
			{Path: "version", Operator: ">=", Value: 2.0},
			{Path: "$.notes", Operator: "=", Value: nil},
			{Path: "$.sync.status", Operator: "!=", Value: nil},
		},
		Sort:  []SortKey{{Path: "updated_at", Desc: true}},
		Limit: 5, Offset: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT t.* FROM "curations" AS t`+
		` WHERE t."entity_id" = $1 AND t."version" >= $2`+
		` AND (jsonb_extract_path(t.doc, $3::text) #>> '{}') IS NULL`+
		` AND (jsonb_extract_path(t.doc, $4::text, $5::text) #>> '{}') IS NOT NULL`+
		` ORDER BY t."updated_at" DESC, t."id" ASC LIMIT $6 OFFSET $7`, st.SQL)
	assert.Equal(t, []any{"rest_1", int64(2), "notes", "sync", "status", 5, 10}, st.Args)

	_, err = compiler(t, docstore.DriverPgx).Compile(Request{
		From:    "entities",
		Filters: []Filter{{Path: "$.name", Operator: ">", Value: nil}},
	})
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestCompileTypedComparisons(t *testing.T) {
	where := func(t *testing.T, driver string, f Filter) (string, []any) {
		t.Helper()
		st, err := compiler(t, driver).Compile(Request{From: "entities", Filters: []Filter{f}})
		require.NoError(t, err)
		start := strings.Index(st.SQL, " WHERE ") + len(" WHERE ")
		end := strings.Index(st.SQL, " ORDER BY ")
		return st.SQL[start:end], st.Args[:len(st.Args)-2]
	}

	sql, args := where(t, docstore.DriverSQLite, Filter{Path: "$.open", Operator: "=", Value: true})
	assert.Equal(t, `(json_extract(t.doc, ?1) = ?2 AND json_type(t.doc, ?3) IN ('true', 'false'))`, sql)
	assert.Equal(t, []any{`$."open"`, 1, `$."open"`}, args)

	sql, _ = where(t, docstore.DriverSQLite, Filter{Path: "$.rating", Operator: ">", Value: 3.0})
	assert.Equal(t, `(json_extract(t.doc, ?1) > ?2 AND json_type(t.doc, ?3) IN ('integer', 'real'))`, sql)

	sql, _ = where(t, docstore.DriverSQLite, Filter{Path: "$.rating", Operator: "!=", Value: "4"})
	assert.Equal(t, `(json_extract(t.doc, ?1) <> ?2 OR NOT json_type(t.doc, ?3) IN ('text'))`, sql)

	sql, args = where(t, docstore.DriverPgx, Filter{Path: "$.rating", Operator: ">", Value: 3.0})
	assert.Equal(t, `(jsonb_extract_path(t.doc, $1::text) > $2::jsonb`+
		` AND jsonb_typeof(jsonb_extract_path(t.doc, $3::text)) IN ('number'))`, sql)
	assert.Equal(t, []any{"rating", "3", "rating"}, args)

	sql, _ = where(t, docstore.DriverPgx, Filter{Path: "$.rating", Operator: "!=", Value: "4"})
	assert.Equal(t, `jsonb_extract_path(t.doc, $1::text) <> $2::jsonb`, sql)

	_, args = where(t, docstore.DriverSQLite, Filter{Path: "$.sync.serverId", Operator: "=", Value: json.Number("9007199254740993")})
	assert.Equal(t, int64(9007199254740993), args[1])

	_, args = where(t, docstore.DriverPgx, Filter{Path: "$.sync.serverId", Operator: "=", Value: json.Number("9007199254740993")})
	assert.Equal(t, "9007199254740993", args[2])

	st, err := compiler(t, docstore.DriverSQLite).Compile(Request{
		From:    "entities",
		Filters: []Filter{{Path: "version", Operator: "=", Value: json.Number("2")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), 50, 0}, st.Args)
}

func TestCompileSort(t *testing.T) {
	st, err := compiler(t, docstore.DriverSQLite).Compile(Request{
		From: "entities",
		Sort: []SortKey{{Path: "$.name", Desc: true}},
	})
	require.NoError(t, err)
	assert.Contains(t, st.SQL, `ORDER BY json_extract(t.doc, ?1) DESC, t."id" ASC LIMIT ?2 OFFSET ?3`)
}

func TestCompileUnknownOperator(t *testing.T) {
	_, err := compiler(t, docstore.DriverPgx).Compile(Request{
		From:    "entities",
		Filters: []Filter{{Path: "$.name", Operator: "regex", Value: ".*"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnsupportedOperator))
	assert.Equal(t, model.KindUnsupportedOperator, model.KindOf(err))
	require.Len(t, model.FieldsOf(err), 1)
	assert.Equal(t, "filters[0].operator", model.FieldsOf(err)[0].Field)
}

func TestCompileRequestValidation(t *testing.T) {
	c := compiler(t, docstore.DriverSQLite)
	cases := map[string]Request{
		"missing from":     {},
		"unknown table":    {From: "users"},
		"limit too big":    {From: "entities", Limit: 1001},
		"negative limit":   {From: "entities", Limit: -1},
		"negative offset":  {From: "entities", Offset: -1},
		"alias clash":      {From: "entities", Explode: &Explode{Path: "$.metadata", As: "id"}},
		"bare root":        {From: "entities", Filters: []Filter{{Path: "$", Operator: "=", Value: 1.0}}},
		"unknown bare":     {From: "entities", Filters: []Filter{{Path: "name", Operator: "=", Value: "x"}}},
		"column sub-path":  {From: "entities", Filters: []Filter{{Path: "id.x", Operator: "=", Value: "x"}}},
		"object like":      {From: "entities", Filters: []Filter{{Path: "$.name", Operator: "like", Value: map[string]any{}}}},
		"column vs object": {From: "entities", Filters: []Filter{{Path: "id", Operator: "=", Value: []any{"a"}}}},
		"explode no path":  {From: "entities", Explode: &Explode{As: "x"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Compile(req)
			assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
		})
	}

	st, err := c.Compile(Request{From: "entities"})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, st.Request.Limit)
	assert.NotNil(t, st.Request.Filters)
}

func TestCompileKeepsInjectionOutOfText(t *testing.T) {
	c := compiler(t, docstore.DriverPgx)
	evil := `'; DROP TABLE entities; --`

	st, err := c.Compile(Request{
		From:    "entities",
		Filters: []Filter{{Path: "$.name", Operator: "=", Value: evil}},
	})
	require.NoError(t, err)
	assert.NotContains(t, st.SQL, "DROP")
	assert.Contains(t, st.Args, `"'; DROP TABLE entities; --"`)

	for _, req := range []Request{
		{From: "entities; DROP TABLE entities"},
		{From: "entities", Filters: []Filter{{Path: `$.name') OR 1=1 --`, Operator: "=", Value: "x"}}},
		{From: "entities", Explode: &Explode{Path: "$.metadata", As: `x" FROM entities; --`}},
		{From: "entities", Sort: []SortKey{{Path: "id; DROP TABLE entities"}}},
	} {
		_, err := c.Compile(req)
		assert.True(t, errors.Is(err, model.ErrValidation), "%+v: %v", req, err)
	}
}

func TestParseDocPath(t *testing.T) {
	segs, err := parseDocPath("$.metadata[0].data.rating")
	require.NoError(t, err)
	assert.Equal(t, []string{"metadata", "0", "data", "rating"}, segs)

	for _, bad := range []string{"", "$", "name", "$.a..b", "$.a[x]", "$.a[1", "$.a b", "$.a'b"} {
		_, err := parseDocPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\%b\_c\\d`, EscapeLike(`a%b_c\d`))
	assert.False(t, strings.ContainsAny(EscapeLike("plain"), `\`))
}

func TestFilterDecodeKeepsNumbers(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"from":"entities","filters":[
		{"path":"$.sync.serverId","operator":"=","value":9007199254740993},
		{"path":"$.rating","operator":"in","value":[4.5,"4"]}]}`), &req))
	require.Len(t, req.Filters, 2)
	assert.Equal(t, json.Number("9007199254740993"), req.Filters[0].Value)
	assert.Equal(t, []any{json.Number("4.5"), "4"}, req.Filters[1].Value)

	st, err := compiler(t, docstore.DriverSQLite).Compile(req)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), st.Args[1])
	assert.Contains(t, st.Args, 4.5)
}
