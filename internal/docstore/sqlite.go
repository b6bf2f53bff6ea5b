package docstore

import (
	stdjson "encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3" // driver: sqlite3

	"concierge/internal/model"
)

// sqliteTimeLayout is fixed width so that text order equals time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(n int) string { return "?" + strconv.Itoa(n) }

// JSONPath renders path segments as a SQLite JSON path. All-digit segments
// address array elements.
func JSONPath(path []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range path {
		if isIndex(seg) {
			b.WriteString("[" + seg + "]")
			continue
		}
		b.WriteString(`."` + seg + `"`)
	}
	return b.String()
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (sqliteDialect) ValueAt(p *Params, col string, path []string) string {
	return "json_extract(" + col + ", " + p.Add(JSONPath(path)) + ")"
}

func (sqliteDialect) AsText(expr string) string { return expr }

func (sqliteDialect) BindJSON(p *Params, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		// json_extract yields 1/0 for true/false
		if t {
			return p.Add(1), nil
		}
		return p.Add(0), nil
	case string, float64, float32, int, int64, int32:
		return p.Add(t), nil
	case stdjson.Number:
		if n, err := t.Int64(); err == nil {
			return p.Add(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return "", err
		}
		return p.Add(f), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return "json(" + p.Add(string(b)) + ")", nil
	}
}

func (sqliteDialect) TypeOf(p *Params, col string, path []string) string {
	return "json_type(" + col + ", " + p.Add(JSONPath(path)) + ")"
}

func (sqliteDialect) ElemTypeOf(alias string) string { return alias + ".type" }

func (sqliteDialect) TypeNames(v any) []string {
	switch v.(type) {
	case bool:
		return []string{"true", "false"}
	case string:
		return []string{"text"}
	case []any:
		return []string{"array"}
	case map[string]any:
		return []string{"object"}
	}
	return []string{"integer", "real"}
}

// json_extract flattens JSON into SQL values, so true equals 1.
func (sqliteDialect) TypedEquality() bool { return false }

func (sqliteDialect) BindDoc(p *Params, doc []byte) string {
	return "json(" + p.Add(string(doc)) + ")"
}

func (sqliteDialect) MergePatch(col, patch string) string {
	return "json_patch(" + col + ", " + patch + ")"
}

func (sqliteDialect) Like(expr, pattern string) string {
	return expr + " LIKE " + pattern + ` ESCAPE '\'`
}

func (sqliteDialect) Explode(p *Params, col string, path []string, as string) (string, string, string) {
	at := p.Add(JSONPath(path))
	join := "CROSS JOIN json_each(CASE WHEN json_type(" + col + ", " + at + ") = 'array' THEN json_extract(" +
		col + ", " + at + ") ELSE '[]' END) AS " + as
	elemJSON := "CASE " + as + ".type WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' WHEN 'null' THEN 'null'" +
		" WHEN 'object' THEN " + as + ".value WHEN 'array' THEN " + as + ".value ELSE json_quote(" + as + ".value) END"
	return join, as + ".value", elemJSON
}

func (sqliteDialect) ArrayContains(p *Params, col string, path []string, value string) string {
	at := p.Add(JSONPath(path))
	return "json_type(" + col + ", " + at + ") = 'array' AND EXISTS (SELECT 1 FROM json_each(" + col + ", " + at +
		") AS e WHERE e.type = 'text' AND e.value = " + p.Add(value) + ")"
}

func (sqliteDialect) TimeValue(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

func (sqliteDialect) Classify(err error) model.Kind {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return model.KindUnavailable
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return model.KindConflict
	case sqlite3.ErrConstraintForeignKey:
		return model.KindInvalidReference
	case sqlite3.ErrConstraintCheck:
		return model.KindValidation
	}
	return model.KindUnavailable
}

func (sqliteDialect) DDL() []string {
	return []string{
		`create table if not exists entities (
  "id" text primary key,
  "type" text not null,
  "doc" text not null check (json_valid("doc") and json_type("doc") = 'object'),
  "created_at" text not null,
  "updated_at" text not null,
  "version" integer not null default 1 check ("version" >= 1)
)`,
		`create table if not exists curations (
  "id" text primary key,
  "entity_id" text not null references entities("id") on delete cascade,
  "doc" text not null check (json_valid("doc") and json_type("doc") = 'object'),
  "created_at" text not null,
  "updated_at" text not null,
  "version" integer not null default 1 check ("version" >= 1)
)`,
		`create index if not exists entities_type_updated_idx on entities ("type", "updated_at" desc)`,
		`create index if not exists entities_name_idx on entities (lower(json_extract("doc", '$.name')))`,
		`create index if not exists curations_entity_idx on curations ("entity_id", "created_at" desc)`,
	}
}
