// Package docstore is the document store client: it owns the connection
// pool, runs every logical operation in one transaction and hides the
// differences between the supported SQL backends behind a Dialect.
package docstore

import (
	"fmt"
	"strings"
	"time"

	"concierge/internal/model"
)

// Dialect renders backend-specific SQL fragments. Path segments and values
// always go through Params; only allow-listed identifiers are written as text.
type Dialect interface {
	Name() string
	Placeholder(n int) string

	// ValueAt yields the JSON value at path inside a document column.
	ValueAt(p *Params, col string, path []string) string
	// AsText turns a JSON value expression into comparable text.
	AsText(expr string) string
	// BindJSON binds v for comparison against a ValueAt/explode expression.
	BindJSON(p *Params, v any) (string, error)
	// TypeOf yields the JSON type name of the value at path inside col.
	TypeOf(p *Params, col string, path []string) string
	// ElemTypeOf is TypeOf for the exploded element of alias.
	ElemTypeOf(alias string) string
	// TypeNames lists the names TypeOf yields for values of v's JSON type.
	TypeNames(v any) []string
	// TypedEquality reports whether = and != on ValueAt expressions already
	// tell JSON types apart.
	TypedEquality() bool
	// BindDoc binds a serialized document for insert/update.
	BindDoc(p *Params, doc []byte) string
	// MergePatch is the backend's native merge-patch of a document column.
	MergePatch(col, patch string) string
	// Like is a case-insensitive pattern match using backslash as escape.
	Like(expr, pattern string) string
	// Explode expands the array at path into rows. It returns the join
	// clause, the element expression usable in filters and an expression
	// rendering the element as JSON text for the select list.
	Explode(p *Params, col string, path []string, as string) (join, elem, elemJSON string)
	// ArrayContains tests whether the array at path holds the string value.
	ArrayContains(p *Params, col string, path []string, value string) string
	// TimeValue is the bound form of a timestamp column value.
	TimeValue(t time.Time) any

	DDL() []string
	Classify(err error) model.Kind
}

// Params collects bound arguments and renders their placeholders.
type Params struct {
	d    Dialect
	args []any
}

func NewParams(d Dialect) *Params { return &Params{d: d} }

// Add binds v and returns its placeholder.
func (p *Params) Add(v any) string {
	p.args = append(p.args, v)
	return p.d.Placeholder(len(p.args))
}

func (p *Params) Args() []any { return p.args }

// QuoteIdent quotes an identifier that has already passed an allow-list.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Driver names accepted in configuration.
const (
	DriverPgx     = "pgx"
	DriverPq      = "postgres"
	DriverSQLite  = "sqlite3"
	driverSQLite2 = "sqlite"
)

// DialectFor picks the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPgx, "":
		return postgresDialect{}, DriverPgx, nil
	case DriverPq, "pq":
		return postgresDialect{}, DriverPq, nil
	case DriverSQLite, driverSQLite2:
		return sqliteDialect{}, DriverSQLite, nil
	default:
		return nil, "", fmt.Errorf("unknown database driver %q (allowed: pgx, postgres, sqlite3)", driver)
	}
}
