package docstore

import (
	"errors"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/lib/pq"                // driver: postgres
	"github.com/omeid/pgerror"

	"concierge/internal/model"
)

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) ValueAt(p *Params, col string, path []string) string {
	parts := make([]string, 0, len(path)+1)
	parts = append(parts, col)
	for _, seg := range path {
		parts = append(parts, p.Add(seg)+"::text")
	}
	return "jsonb_extract_path(" + strings.Join(parts, ", ") + ")"
}

func (postgresDialect) AsText(expr string) string {
	return "(" + expr + " #>> '{}')"
}

func (postgresDialect) BindJSON(p *Params, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return p.Add(string(b)) + "::jsonb", nil
}

func (d postgresDialect) TypeOf(p *Params, col string, path []string) string {
	return "jsonb_typeof(" + d.ValueAt(p, col, path) + ")"
}

func (postgresDialect) ElemTypeOf(alias string) string { return "jsonb_typeof(" + alias + ".value)" }

func (postgresDialect) TypeNames(v any) []string {
	switch v.(type) {
	case bool:
		return []string{"boolean"}
	case string:
		return []string{"string"}
	case []any:
		return []string{"array"}
	case map[string]any:
		return []string{"object"}
	}
	return []string{"number"}
}

// jsonb equality never holds across JSON types.
func (postgresDialect) TypedEquality() bool { return true }

func (postgresDialect) BindDoc(p *Params, doc []byte) string {
	return p.Add(string(doc)) + "::jsonb"
}

func (postgresDialect) MergePatch(col, patch string) string {
	return "jsonb_merge_patch(" + col + ", " + patch + ")"
}

func (postgresDialect) Like(expr, pattern string) string {
	return expr + " ILIKE " + pattern + ` ESCAPE '\'`
}

func (d postgresDialect) Explode(p *Params, col string, path []string, as string) (string, string, string) {
	at := d.ValueAt(p, col, path)
	join := "CROSS JOIN LATERAL jsonb_array_elements(CASE WHEN jsonb_typeof(" + at + ") = 'array' THEN " +
		at + " ELSE '[]'::jsonb END) AS " + as + "(value)"
	return join, as + ".value", as + ".value::text"
}

func (d postgresDialect) ArrayContains(p *Params, col string, path []string, value string) string {
	return d.ValueAt(p, col, path) + " @> jsonb_build_array(" + p.Add(value) + "::text)"
}

func (postgresDialect) TimeValue(t time.Time) any { return t }

func (postgresDialect) Classify(err error) model.Kind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return model.KindConflict
		case "23503":
			return model.KindInvalidReference
		case "23514":
			return model.KindValidation
		}
		return model.KindUnavailable
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pgerror.UniqueViolation(pqErr) != nil {
			return model.KindConflict
		}
		if pgerror.ForeignKeyViolation(pqErr) != nil {
			return model.KindInvalidReference
		}
		if pgerror.CheckViolation(pqErr) != nil {
			return model.KindValidation
		}
	}
	return model.KindUnavailable
}

// isDuplicateObject matches "already exists" errors from either driver.
func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42710" || pgErr.Code == "42P07"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42710" || pqErr.Code == "42P07"
	}
	return false
}

// permanentPingError reports server-side rejections that a retry cannot fix,
// such as bad credentials or a missing database. Connection-class failures
// (SQLSTATE 08xxx) and transport errors stay retryable.
func permanentPingError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return !strings.HasPrefix(pgErr.Code, "08") && pgErr.Code != "57P03"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() != "08" && pqErr.Code != "57P03"
	}
	return false
}

const pgMergePatchFn = `create or replace function jsonb_merge_patch(target jsonb, patch jsonb)
returns jsonb
language plpgsql
immutable
as $$
declare
  k text;
  v jsonb;
  result jsonb;
begin
  if patch is null or jsonb_typeof(patch) <> 'object' then
    return patch;
  end if;
  if target is null or jsonb_typeof(target) <> 'object' then
    result := '{}'::jsonb;
  else
    result := target;
  end if;
  for k, v in select key, value from jsonb_each(patch) loop
    if jsonb_typeof(v) = 'null' then
      result := result - k;
    else
      result := jsonb_set(result, array[k], jsonb_merge_patch(result -> k, v), true);
    end if;
  end loop;
  return result;
end;
$$`

func (postgresDialect) DDL() []string {
	return []string{
		`create table if not exists entities (
  "id" text primary key,
  "type" text not null,
  "doc" jsonb not null,
  "created_at" timestamp with time zone not null,
  "updated_at" timestamp with time zone not null,
  "version" bigint not null default 1 check ("version" >= 1)
)`,
		`create table if not exists curations (
  "id" text primary key,
  "entity_id" text not null references entities("id") on delete cascade,
  "doc" jsonb not null,
  "created_at" timestamp with time zone not null,
  "updated_at" timestamp with time zone not null,
  "version" bigint not null default 1 check ("version" >= 1)
)`,
		`create index if not exists entities_type_updated_idx on entities ("type", "updated_at" desc)`,
		`create index if not exists entities_name_idx on entities ((lower("doc" ->> 'name')))`,
		`create index if not exists curations_entity_idx on curations ("entity_id", "created_at" desc)`,
		`create index if not exists curations_categories_idx on curations using gin (("doc" -> 'categories'))`,
		pgMergePatchFn,
	}
}
